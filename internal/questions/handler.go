package questions

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/exambank/backend/internal/models"
)

type Handler struct {
	service *Service
	store   *Store
}

func NewHandler(service *Service, store *Store) *Handler {
	return &Handler{service: service, store: store}
}

// getUserID extracts the authenticated user ID from the request context.
func getUserID(r *http.Request) (int64, bool) {
	uid, ok := r.Context().Value("user_id").(int64)
	return uid, ok
}

func (h *Handler) GenerateSimilar(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}

	vars := mux.Vars(r)
	sourceID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid question ID"})
		return
	}

	var req models.GenerateSimilarRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
			return
		}
	}

	if req.DifficultyVariance == "" {
		req.DifficultyVariance = models.VarianceSimilar
	}
	if !models.ValidVariances[req.DifficultyVariance] {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "difficulty_variance must be 'easier', 'similar', 'harder', or 'killer'"})
		return
	}

	source, err := h.store.GetQuestion(r.Context(), sourceID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Source question not found"})
		return
	}
	if source.QuestionType != models.TypeMultipleChoice {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Only multiple_choice questions can be varied"})
		return
	}

	resp, err := h.service.GenerateSimilar(r.Context(), models.GenerationRequest{
		Source:             *source,
		DifficultyVariance: req.DifficultyVariance,
		NoVariance:         req.NoVariance,
	}, userID)
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			status := http.StatusUnprocessableEntity
			if genErr.Retryable {
				status = http.StatusTooManyRequests
			}
			writeJSON(w, status, models.GenerationFailureResponse{
				Reason:    genErr.Reason,
				Retryable: genErr.Retryable,
				Attempts:  genErr.Attempts,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Generation failed: " + err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetQuestion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid question ID"})
		return
	}

	question, err := h.store.GetQuestion(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Question not found"})
		return
	}

	writeJSON(w, http.StatusOK, question)
}

func (h *Handler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	subjectID, err := strconv.ParseInt(query.Get("subject_id"), 10, 64)
	if err != nil || subjectID <= 0 {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "subject_id query parameter is required"})
		return
	}

	pageSize := intQueryParam(query, "page_size", 20)
	page := intQueryParam(query, "page", 1)
	if page < 1 {
		page = 1
	}

	questions, total, err := h.store.ListQuestions(r.Context(), subjectID, pageSize, (page-1)*pageSize)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list questions"})
		return
	}

	if questions == nil {
		questions = []models.Question{}
	}
	writeJSON(w, http.StatusOK, models.QuestionListResponse{
		Questions: questions,
		Total:     total,
		Page:      page,
		PageSize:  pageSize,
	})
}

func (h *Handler) ListKnowledgePoints(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	subjectID, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid subject ID"})
		return
	}

	kps, err := h.store.ListKnowledgePoints(r.Context(), subjectID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list knowledge points"})
		return
	}

	if kps == nil {
		kps = []models.KnowledgePoint{}
	}
	writeJSON(w, http.StatusOK, models.KnowledgePointListResponse{KnowledgePoints: kps})
}

func intQueryParam(query url.Values, key string, fallback int) int {
	if v := query.Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
