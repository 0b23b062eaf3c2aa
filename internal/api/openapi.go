package api

import "net/http"

// openAPIDoc describes the gateway's HTTP surface.
func openAPIDoc() map[string]any {
	jsonBody := func(ref string) map[string]any {
		return map[string]any{
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/" + ref},
				},
			},
		}
	}
	withDescription := func(desc string, body map[string]any) map[string]any {
		body["description"] = desc
		return body
	}

	health := map[string]any{
		"get": map[string]any{
			"operationId": "health",
			"summary":     "Liveness probe",
			"responses": map[string]any{
				"200": withDescription("Service is up", jsonBody("HealthResponse")),
			},
		},
	}
	ask := map[string]any{
		"post": map[string]any{
			"operationId": "ask",
			"summary":     "Run the worker for one message and return its answer",
			"requestBody": jsonBody("AskRequest"),
			"responses": map[string]any{
				"200": withDescription("Worker answer or outcome text", jsonBody("AskResponse")),
				"400": withDescription("Malformed JSON body", jsonBody("ErrorResponse")),
				"413": withDescription("Body exceeds the configured limit", jsonBody("ErrorResponse")),
			},
		},
	}

	stringProp := map[string]any{"type": "string"}
	object := func(required ...string) func(props map[string]any) map[string]any {
		return func(props map[string]any) map[string]any {
			return map[string]any{"type": "object", "required": required, "properties": props}
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "askbridge",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/health":     health,
			"/api/health": health,
			"/ask":        ask,
			"/api/ask":    ask,
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "events",
					"summary":     "Server-Sent Events stream of invocation lifecycle events",
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Event stream",
							"content":     map[string]any{"text/event-stream": map[string]any{}},
						},
					},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"AskRequest":     object("message")(map[string]any{"message": stringProp}),
				"AskResponse":    object("response")(map[string]any{"response": stringProp}),
				"HealthResponse": object("status", "timestamp")(map[string]any{"status": stringProp, "timestamp": map[string]any{"type": "string", "format": "date-time"}}),
				"ErrorResponse":  object("error")(map[string]any{"error": stringProp}),
			},
		},
	}
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, openAPIDoc())
}
