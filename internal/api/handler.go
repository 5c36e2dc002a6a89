package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/podushkina/moderation/internal/catalog"
	"github.com/podushkina/moderation/internal/fault"
	"github.com/podushkina/moderation/internal/service"
	"github.com/podushkina/moderation/internal/task"
)

// Predictor classifies a listing synchronously.
type Predictor interface {
	Moderate(ctx context.Context, l *catalog.Listing, s *catalog.Seller) (bool, float64, error)
}

type Handler struct {
	moderation *service.Moderation
	predictor  Predictor
}

// NewHandler wires the handlers. A nil predictor makes /predict answer 503.
func NewHandler(m *service.Moderation, p Predictor) *Handler {
	return &Handler{moderation: m, predictor: p}
}

type AsyncPredictRequest struct {
	ItemID *int64 `json:"item_id"`
}

type ModerationResult struct {
	TaskID       int64       `json:"task_id"`
	Status       task.Status `json:"status"`
	IsViolation  *bool       `json:"is_violation"`
	Probability  *float64    `json:"probability"`
	ErrorMessage *string     `json:"error_message"`
}

type PredictRequest struct {
	SellerID         *int64 `json:"seller_id"`
	IsVerifiedSeller *bool  `json:"is_verified_seller"`
	ItemID           *int64 `json:"item_id"`
	Name             string `json:"name"`
	Description      string `json:"description"`
	Category         *int   `json:"category"`
	ImagesQty        *int   `json:"images_qty"`
}

type PredictResponse struct {
	IsViolation bool    `json:"is_violation"`
	Probability float64 `json:"probability"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) AsyncPredict(w http.ResponseWriter, r *http.Request) {
	var req AsyncPredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if req.ItemID == nil {
		respondError(w, http.StatusUnprocessableEntity, "item_id is required")
		return
	}

	res, err := h.moderation.Enqueue(r.Context(), *req.ItemID)
	if err != nil {
		switch {
		case errors.Is(err, fault.ErrNotFound):
			respondError(w, http.StatusNotFound, "Add not found")
		case errors.Is(err, fault.ErrValidation):
			respondError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, fault.ErrChannelUnavailable):
			respondError(w, http.StatusServiceUnavailable, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "Failed to enqueue moderation request")
		}
		return
	}

	respondJSON(w, http.StatusOK, res)
}

func (h *Handler) ModerationResult(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "task_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	t, err := h.moderation.Result(r.Context(), id)
	if err != nil {
		if errors.Is(err, fault.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Task not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load moderation result")
		return
	}

	respondJSON(w, http.StatusOK, toResult(t))
}

func (h *Handler) StaleTasks(w http.ResponseWriter, r *http.Request) {
	olderThan, err := queryInt(r, "older_than_seconds", 300)
	if err != nil || olderThan < 0 {
		respondError(w, http.StatusBadRequest, "invalid older_than_seconds")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil || limit < 0 {
		respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	tasks, err := h.moderation.Stale(r.Context(), time.Duration(olderThan)*time.Second, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]ModerationResult, 0, len(tasks))
	for _, t := range tasks {
		results = append(results, toResult(t))
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if h.predictor == nil {
		respondError(w, http.StatusServiceUnavailable, "Model is not loaded")
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		respondError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	listing := &catalog.Listing{
		ID:          *req.ItemID,
		SellerID:    *req.SellerID,
		Name:        req.Name,
		Description: req.Description,
		Category:    *req.Category,
		ImagesQty:   *req.ImagesQty,
	}
	seller := &catalog.Seller{ID: *req.SellerID, IsVerifiedSeller: *req.IsVerifiedSeller}

	isViolation, probability, err := h.predictor.Moderate(r.Context(), listing, seller)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Prediction failed")
		return
	}

	respondJSON(w, http.StatusOK, PredictResponse{IsViolation: isViolation, Probability: probability})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (req PredictRequest) validate() string {
	var missing []string
	if req.SellerID == nil {
		missing = append(missing, "seller_id")
	}
	if req.IsVerifiedSeller == nil {
		missing = append(missing, "is_verified_seller")
	}
	if req.ItemID == nil {
		missing = append(missing, "item_id")
	}
	if req.Category == nil {
		missing = append(missing, "category")
	}
	if req.ImagesQty == nil {
		missing = append(missing, "images_qty")
	}
	switch {
	case len(missing) > 0:
		return "missing fields: " + strings.Join(missing, ", ")
	case req.Name == "":
		return "name must not be empty"
	case req.Description == "":
		return "description must not be empty"
	case *req.ImagesQty < 0:
		return "images_qty must not be negative"
	}
	return ""
}

func toResult(t *task.Task) ModerationResult {
	return ModerationResult{
		TaskID:       t.ID,
		Status:       t.Status,
		IsViolation:  t.IsViolation,
		Probability:  t.Probability,
		ErrorMessage: t.ErrorMessage,
	}
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
