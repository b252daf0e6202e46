package expiration

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// TriggerPath is where the external scheduler posts to run a pass.
const TriggerPath = "/internal/jobs/expire-trials"

// Handler exposes Runner over HTTP. Callers authenticate with the
// privileged service key as a bearer token.
type Handler struct {
	runner     Runner
	serviceKey string
	logger     *slog.Logger
}

func NewHandler(runner Runner, serviceKey string, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, serviceKey: serviceKey, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorized(r) {
		h.logger.WarnContext(r.Context(), "Rejected expiration trigger", slog.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	summary := h.runner.Run(r.Context())

	status := http.StatusOK
	if len(summary.Errors) > 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to write expiration summary", slog.Any("error", err))
	}
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.serviceKey == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.serviceKey)) == 1
}
