package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/poofware/passkey-service/internal/dtos"
	"github.com/poofware/passkey-service/internal/utils"
)

const healthCheckTimeout = 3 * time.Second

// StorageChecker is implemented by app.App.
type StorageChecker interface {
	Ping(ctx context.Context) error
	StorageBackend() string
}

type HealthController struct {
	storage StorageChecker
}

func NewHealthController(storage StorageChecker) *HealthController {
	return &HealthController{storage: storage}
}

func (c *HealthController) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := c.storage.Ping(ctx); err != nil {
		utils.RespondErrorWithCode(
			w,
			http.StatusServiceUnavailable,
			utils.ErrCodeInternal,
			"Database unreachable",
			nil,
			err,
		)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, dtos.HealthCheckResponse{
		Status:  "OK",
		Storage: c.storage.StorageBackend(),
	})
}
