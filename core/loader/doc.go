// Package loader provides the feature loading system.
//
// Each feature implements the Feature interface, which defines its lifecycle hooks
// and route registration logic.
//
//	type Feature interface {
//	    Name() string
//	    IsEnabled() bool
//	    Load(app fiber.Router) error
//	}
//
// The Manager holds the registry of features, registered via Register() and
// mounted on the Fiber app via LoadAll(). Features such as 'ingest', 'fleet',
// 'access' and 'sync' are developed and tested in isolation.
package loader
