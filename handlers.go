// handlers.go

package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"council/internal/logging"
	"council/internal/metrics"
)

func jsonError(c echo.Context, status int, message, errType, code string) error {
	return c.JSON(status, ErrorResponse{Error: ErrorData{Message: message, Type: errType, Code: code}})
}

func rootHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "LLM Council API"})
}

func healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "service": "LLM Council API"})
}

// modelsHandler advertises the single virtual "council" model so chat
// clients can select it.
func modelsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []ModelInfo{
			{ID: "council", Object: "model", Created: time.Now().Unix(), OwnedBy: "llm-council"},
		},
	})
}

func (a *app) listConversationsHandler(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	items, err := a.convs.List(c.Request().Context(), limit, offset)
	if err != nil {
		logging.Log.WithError(err).Error("list conversations failed")
		return jsonError(c, http.StatusInternalServerError, "An internal error occurred", "internal_error", "server_error")
	}
	return c.JSON(http.StatusOK, items)
}

func (a *app) getConversationHandler(c echo.Context) error {
	conv, err := a.convs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		logging.Log.WithError(err).Error("get conversation failed")
		return jsonError(c, http.StatusInternalServerError, "An internal error occurred", "internal_error", "server_error")
	}
	if conv == nil {
		return jsonError(c, http.StatusNotFound, "Conversation not found", "invalid_request_error", "not_found")
	}
	return c.JSON(http.StatusOK, conv)
}

func (a *app) deleteConversationHandler(c echo.Context) error {
	if !a.convs.Enabled() {
		return jsonError(c, http.StatusServiceUnavailable, "Database storage is disabled", "service_unavailable", "storage_disabled")
	}
	id := c.Param("id")

	conv, err := a.convs.Get(c.Request().Context(), id)
	if err != nil {
		logging.Log.WithError(err).Error("delete conversation lookup failed")
		return jsonError(c, http.StatusInternalServerError, "An internal error occurred", "internal_error", "server_error")
	}
	if conv == nil {
		return jsonError(c, http.StatusNotFound, "Conversation not found", "invalid_request_error", "not_found")
	}

	deleted, err := a.convs.Delete(c.Request().Context(), id)
	if err != nil || !deleted {
		if err != nil {
			logging.Log.WithError(err).Error("delete conversation failed")
		}
		return jsonError(c, http.StatusInternalServerError, "Failed to delete conversation", "internal_error", "server_error")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "success", "message": "Conversation " + id + " deleted"})
}

func tokenMetricsHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"models": metrics.Snapshot()})
}
