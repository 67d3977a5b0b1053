package reconcile

import (
	"context"
	"sort"

	"lpr-manager/core/store"
)

// Diff compares the canonical allow list with what d holds and plans the writes
// that would converge it. It does not write anything; use Apply for that.
func (e *Engine) Diff(ctx context.Context, d store.Device, opts Options) (*Plan, error) {
	canonical, err := e.store.AllowedSubjects(ctx)
	if err != nil {
		return nil, err
	}
	held, err := e.auditor.Subjects(ctx, d)
	if err != nil {
		return nil, err
	}
	return buildPlan(d, canonical, held, opts), nil
}

func buildPlan(d store.Device, canonical []string, held map[string]struct{}, opts Options) *Plan {
	plan := &Plan{
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Missing:    []string{},
		Extra:      []string{},
		Actions:    []Action{},
	}

	allowed := make(map[string]struct{}, len(canonical))
	for _, s := range canonical {
		allowed[s] = struct{}{}
		if _, ok := held[s]; ok {
			plan.Summary.Present++
			continue
		}
		plan.Missing = append(plan.Missing, s)
		plan.Actions = append(plan.Actions, Action{Type: ActionUpsert, Subject: s, Reason: "missing on device"})
	}

	for s := range held {
		if _, ok := allowed[s]; !ok {
			plan.Extra = append(plan.Extra, s)
		}
	}
	sort.Strings(plan.Extra)
	if opts.DoPrune {
		for _, s := range plan.Extra {
			plan.Actions = append(plan.Actions, Action{Type: ActionRemove, Subject: s, Reason: "not in canonical allow list"})
		}
	}

	plan.Summary.Canonical = len(canonical)
	plan.Summary.OnDevice = len(held)
	plan.Summary.Missing = len(plan.Missing)
	plan.Summary.Extra = len(plan.Extra)
	for _, a := range plan.Actions {
		switch a.Type {
		case ActionUpsert:
			plan.Summary.UpsertActions++
		case ActionRemove:
			plan.Summary.RemoveActions++
		}
	}
	return plan
}

// Apply executes the actions of a plan against d.
// Requires opts.Confirmed=true and opts.DryRun=false to actually write.
func (e *Engine) Apply(ctx context.Context, d store.Device, plan *Plan, opts Options) (*Outcome, error) {
	o := newOutcome(d, "apply")
	o.Confirmed = plan.Summary.Present

	// Safety check: do not execute if not confirmed or dry-run
	if !opts.Confirmed || opts.DryRun {
		o.Status = StatusDryRun
		o.Remaining = len(plan.Actions)
		return e.finish(o), nil
	}

	unlock, err := e.acquire(ctx, d)
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer e.auditor.Invalidate(d.ID)

	client := e.connector.Connect(d)
	for i, action := range plan.Actions {
		if action.Type == ActionRemove && !opts.DoPrune {
			continue
		}
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				o.Status = StatusCancelled
				o.Remaining = len(plan.Actions) - i
				break
			}
		}

		o.Attempted++
		var err error
		switch action.Type {
		case ActionUpsert:
			err = client.Upsert(ctx, action.Subject)
		case ActionRemove:
			err = client.Remove(ctx, action.Subject)
		}
		e.metrics.ReconcileWrite(string(action.Type), err == nil)
		if err != nil {
			e.fail(o, action.Subject, err)
			continue
		}
		if action.Type == ActionUpsert {
			o.Added++
		} else {
			o.Removed++
		}
	}
	return e.finish(o), nil
}
