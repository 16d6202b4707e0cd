package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/BookingRelay/internal/messaging"
	"github.com/BTreeMap/BookingRelay/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so encoding errors surface before headers are written
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// ingestResponse maps an ingest outcome onto the acknowledgement body. Every
// outcome is acknowledged with 200 so the platform does not redeliver.
func ingestResponse(res messaging.IngestResult) models.APIResponse {
	switch res.Status {
	case messaging.IngestDuplicate:
		return models.Duplicate(res.DedupKey)
	case messaging.IngestMalformed:
		return models.Ignored("Malformed payload")
	case messaging.IngestUnrecognized:
		return models.Ignored("Unrecognized payload")
	case messaging.IngestQueued:
		return models.SuccessWithMessage("Notification queued for retry", res)
	case messaging.IngestFailed:
		return models.SuccessWithMessage("Accepted, notification failed", res)
	default:
		return models.Success(res)
	}
}
