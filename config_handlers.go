// config_handlers.go

package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"council/internal/config"
)

const validateTimeout = 5 * time.Second

func (a *app) getConfigHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, a.cfg.Get())
}

type updateConfigRequest struct {
	CouncilModels []string `json:"council_models"`
	ChairmanModel *string  `json:"chairman_model"`
}

func (a *app) updateConfigHandler(c echo.Context) error {
	var req updateConfigRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "Invalid request body", "validation_error", "invalid_request")
	}

	var candidates []string
	candidates = append(candidates, req.CouncilModels...)
	if req.ChairmanModel != nil && *req.ChairmanModel != "" {
		candidates = append(candidates, *req.ChairmanModel)
	}

	if len(candidates) > 0 {
		ctx, cancel := context.WithTimeout(c.Request().Context(), validateTimeout)
		defer cancel()

		validation := a.cfg.Validate(ctx, candidates)
		var unknown []string
		for _, m := range candidates {
			if !validation[m] {
				unknown = append(unknown, m)
			}
		}
		if len(unknown) > 0 {
			return jsonError(c, http.StatusBadRequest,
				"Models not available in backend: "+strings.Join(unknown, ", "),
				"validation_error", "unknown_models")
		}
	}

	updated := a.cfg.Update(config.UpdateRequest{
		CouncilModels: req.CouncilModels,
		ChairmanModel: req.ChairmanModel,
	})
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Configuration updated successfully",
		"config":  updated,
	})
}

func (a *app) reloadConfigHandler(c echo.Context) error {
	cfg := a.cfg.Reload()
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Configuration reloaded successfully",
		"config":  cfg,
	})
}

func (a *app) validateModelsHandler(c echo.Context) error {
	raw := c.QueryParam("models")
	var models []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		return jsonError(c, http.StatusBadRequest, "No models provided", "validation_error", "invalid_request")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), validateTimeout)
	defer cancel()

	validation := a.cfg.Validate(ctx, models)
	all := true
	for _, ok := range validation {
		if !ok {
			all = false
			break
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"validation":    validation,
		"all_available": all,
	})
}
