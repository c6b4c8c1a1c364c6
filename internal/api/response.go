package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// fallbackErrorBody is written when a response fails to marshal. Kept as a
// literal matching the models.APIResponse envelope so the failure path cannot
// itself fail.
const fallbackErrorBody = `{"status":"error","message":"Internal server error"}`

// writeJSONResponse marshals response and writes it with the given status
// code. Marshal failures degrade to a 500 with the static error body.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		statusCode = http.StatusInternalServerError
		jsonData = []byte(fallbackErrorBody)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(jsonData); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
