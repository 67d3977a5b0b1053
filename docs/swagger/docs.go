// Package swagger registers the OpenAPI document served under /swagger/*.
// Keep it in step with the handler annotations when routes change.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/events": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "List recorded events",
                "parameters": [
                    {"type": "string", "description": "Subject", "name": "subject", "in": "query"},
                    {"type": "string", "description": "From (RFC3339 or YYYY-MM-DD)", "name": "from", "in": "query"},
                    {"type": "string", "description": "To (RFC3339 or YYYY-MM-DD)", "name": "to", "in": "query"},
                    {"type": "integer", "description": "Limit", "name": "limit", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            },
            "post": {
                "consumes": ["application/json", "multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["ingest"],
                "summary": "Ingest a device event",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "503": {"description": "Service Unavailable"}}
            }
        },
        "/events/purge": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Purge events recorded before a cutoff",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/events/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Get one event",
                "parameters": [{"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/events/{id}/annotation": {
            "patch": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Annotate an event",
                "parameters": [{"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/events/{id}/snapshot": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["image/jpeg"],
                "tags": ["access"],
                "summary": "Download an event snapshot",
                "parameters": [
                    {"type": "integer", "description": "Event ID", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "Thumbnail", "name": "thumb", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/entries": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "List canonical access list entries",
                "parameters": [{"type": "string", "description": "Classification", "name": "classification", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/snapshots/sweep": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["access"],
                "summary": "Remove snapshots no event references",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/devices": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["fleet"],
                "summary": "List devices with reachability",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/devices/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["fleet"],
                "summary": "Get one device",
                "parameters": [{"type": "integer", "description": "Device ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/devices/{id}/probe": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["fleet"],
                "summary": "Probe a device now",
                "parameters": [{"type": "integer", "description": "Device ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/sync/audit/{subject}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Audit subject presence across devices",
                "parameters": [
                    {"type": "string", "description": "Subject", "name": "subject", "in": "path", "required": true},
                    {"type": "string", "description": "Comma separated device ids", "name": "devices", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/sync/repair": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Upsert one subject on the devices missing it",
                "responses": {"200": {"description": "OK"}, "422": {"description": "Unprocessable Entity"}}
            }
        },
        "/sync/devices/{id}/diff": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Diff a device against the canonical allow list",
                "parameters": [
                    {"type": "integer", "description": "Device ID", "name": "id", "in": "path", "required": true},
                    {"type": "boolean", "description": "Plan removals", "name": "prune", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "502": {"description": "Bad Gateway"}}
            }
        },
        "/sync/devices/{id}/apply": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Apply the diff for a device",
                "parameters": [{"type": "integer", "description": "Device ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            }
        },
        "/sync/devices/{id}/resync": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Start a full resync job",
                "parameters": [{"type": "integer", "description": "Device ID", "name": "id", "in": "path", "required": true}],
                "responses": {"202": {"description": "Accepted"}, "409": {"description": "Conflict"}}
            }
        },
        "/sync/resync": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Resync several devices independently",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sync/jobs": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "List resync jobs",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/sync/jobs/{id}": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Get a resync job",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "delete": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["sync"],
                "summary": "Cancel a resync job",
                "parameters": [{"type": "string", "description": "Job ID", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "LPR Manager API",
	Description:      "Event ingestion and access list reconciliation for LPR devices.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
