package handler

import (
	"net/http"

	"github.com/sandeepkv93/email-auth-api/internal/health"
	"github.com/sandeepkv93/email-auth-api/internal/http/response"
)

type SystemHandler struct {
	readiness *health.ProbeRunner
}

func NewSystemHandler(readiness *health.ProbeRunner) *SystemHandler {
	return &SystemHandler{readiness: readiness}
}

func (h *SystemHandler) Hello(w http.ResponseWriter, r *http.Request) {
	response.Message(w, r, http.StatusOK, "Hello from server")
}

func (h *SystemHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, response.Body{Message: "ok", Data: map[string]string{"status": "ok"}})
}

func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ready, results := h.readiness.Ready(r.Context())
	if results == nil {
		results = []health.CheckResult{}
	}
	if ready {
		response.JSON(w, r, http.StatusOK, response.Body{Message: "ready", Data: map[string]any{"status": "ready", "checks": results}})
		return
	}
	response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
}
