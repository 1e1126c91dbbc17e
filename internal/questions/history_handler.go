package questions

import (
	"net/http"

	"github.com/exambank/backend/internal/models"
)

// ListGenerationHistory returns the authenticated caller's generation log,
// newest first.
func (h *Handler) ListGenerationHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	query := r.URL.Query()
	pageSize := intQueryParam(query, "page_size", 20)
	page := intQueryParam(query, "page", 1)
	if page < 1 {
		page = 1
	}

	logs, total, err := h.store.ListGenerationLogs(r.Context(), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list generation history"})
		return
	}

	if logs == nil {
		logs = []models.GenerationLog{}
	}
	writeJSON(w, http.StatusOK, models.GenerationLogListResponse{
		Logs:     logs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}
