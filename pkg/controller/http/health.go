package http

import (
	"net/http"

	"github.com/m-mizutani/flock/pkg/domain/model"
	"github.com/m-mizutani/flock/pkg/domain/types"
)

// handleHealth handles health check requests
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, &model.HealthStatus{
		Status:  "healthy",
		Service: "flock",
		Version: types.Version,
	}, http.StatusOK)
}
