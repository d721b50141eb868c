package utils

import (
	"encoding/json"
	"net/http"

	"gitlab.com/timkado/api/leads-router/pkg/logger"
	"go.uber.org/zap"
)

// WriteJSONResponse writes data as JSON with the given status code.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Warn("failed to encode JSON response", zap.Error(err))
	}
}
