package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
	"github.com/kosh-hq/invoice-pipeline/internal/resilience"
	"github.com/kosh-hq/invoice-pipeline/internal/store"
)

// apiServer exposes the pipeline over HTTP. Uploads are acknowledged with
// 202 and processed by the worker pool; everything else reads or mutates
// store state synchronously.
type apiServer struct {
	env *pipelineEnv
}

func newRouter(env *pipelineEnv) http.Handler {
	s := &apiServer{env: env}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/invoices", func(r chi.Router) {
		r.Post("/", s.handleCreateInvoice)
		r.Get("/", s.handleListInvoices)
		r.Get("/{id}", s.handleGetInvoice)
		r.Post("/{id}/verify", s.handleVerifyInvoice)
		r.Post("/{id}/cancel", s.handleCancelInvoice)
	})

	r.Get("/reviews", s.handleListReviews)

	r.Route("/recommendations", func(r chi.Router) {
		r.Get("/", s.handleListRecommendations)
		r.Post("/{id}/status", s.handleRecommendationStatus)
	})

	r.Route("/admin/weights", func(r chi.Router) {
		r.Get("/", s.handleGetWeights)
		r.Put("/", s.handlePutWeights)
	})

	r.Get("/metrics", s.handleMetrics)
	r.Get("/stats/quality", s.handleQualityStats)

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", s.handleListDLQ)
		r.Get("/{id}", s.handleGetDLQ)
		r.Post("/{id}/requeue", s.handleRequeueDLQ)
		r.Delete("/{id}", s.handleDeleteDLQ)
	})

	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MerchantID    string  `json:"merchant_id"`
		SupplierID    string  `json:"supplier_id"`
		FileKey       string  `json:"file_key"`
		InvoiceNumber string  `json:"invoice_number"`
		InvoiceDate   string  `json:"invoice_date"`
		Currency      string  `json:"currency"`
		TotalAmount   float64 `json:"total_amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MerchantID == "" || req.FileKey == "" {
		writeError(w, http.StatusBadRequest, "merchant_id and file_key are required")
		return
	}

	var invoiceDate time.Time
	if req.InvoiceDate != "" {
		d, err := parseDate(req.InvoiceDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invoice_date must be YYYY-MM-DD or RFC 3339")
			return
		}
		invoiceDate = d
	}

	now := time.Now().UTC()
	inv := &model.Invoice{
		ID:            uuid.New().String(),
		MerchantID:    req.MerchantID,
		SupplierID:    req.SupplierID,
		InvoiceNumber: req.InvoiceNumber,
		InvoiceDate:   invoiceDate,
		TotalAmount:   req.TotalAmount,
		Currency:      req.Currency,
		FileKey:       req.FileKey,
		Status:        model.InvoicePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.env.Store.CreateInvoice(r.Context(), inv); err != nil {
		zap.L().Error("api: create invoice failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "create invoice failed")
		return
	}

	task, err := s.env.Queue.Enqueue(r.Context(), inv.ID, model.TaskKindOCR)
	if err != nil {
		zap.L().Error("api: enqueue failed", zap.String("invoice_id", inv.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"invoice": inv,
		"task_id": task.ID,
	})
}

func (s *apiServer) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.InvoiceFilter{
		MerchantID: q.Get("merchant_id"),
		SupplierID: q.Get("supplier_id"),
		Status:     model.InvoiceStatus(q.Get("status")),
		Limit:      queryInt(q.Get("limit")),
		Offset:     queryInt(q.Get("offset")),
	}
	invoices, err := s.env.Store.ListInvoices(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list invoices failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list invoices failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (s *apiServer) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := s.env.Store.GetInvoice(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get invoice failed", zap.String("invoice_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get invoice failed")
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "invoice not found")
		return
	}
	items, err := s.env.Store.ListInvoiceItems(r.Context(), id)
	if err != nil {
		zap.L().Error("api: list items failed", zap.String("invoice_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list items failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv, "items": items})
}

func (s *apiServer) handleVerifyInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Corrections []model.ItemCorrection `json:"corrections"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := s.env.Verifier.Verify(r.Context(), id, req.Corrections)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (s *apiServer) handleCancelInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inv, err := s.env.Verifier.CancelInvoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": inv})
}

func (s *apiServer) handleListReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	invoices, err := s.env.Store.ListInvoices(r.Context(), store.InvoiceFilter{
		MerchantID: q.Get("merchant_id"),
		Status:     model.InvoiceNeedsReview,
		Limit:      queryInt(q.Get("limit")),
		Offset:     queryInt(q.Get("offset")),
	})
	if err != nil {
		zap.L().Error("api: list reviews failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list reviews failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

func (s *apiServer) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	recs, err := s.env.Store.ListRecommendations(r.Context(), store.RecommendationFilter{
		MerchantID: q.Get("merchant_id"),
		Status:     model.RecommendationStatus(q.Get("status")),
		Limit:      queryInt(q.Get("limit")),
	})
	if err != nil {
		zap.L().Error("api: list recommendations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list recommendations failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendations": recs})
}

func (s *apiServer) handleRecommendationStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status model.RecommendationStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch req.Status {
	case model.RecommendationAccepted, model.RecommendationRejected, model.RecommendationExpired:
	default:
		writeError(w, http.StatusBadRequest, "status must be accepted, rejected, or expired")
		return
	}

	rec, err := s.env.Store.GetRecommendation(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get recommendation failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get recommendation failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recommendation not found")
		return
	}
	if rec.Status != model.RecommendationPending {
		writeError(w, http.StatusConflict, "only pending recommendations can be resolved")
		return
	}

	rec.Status = req.Status
	rec.UpdatedAt = time.Now().UTC()
	if err := s.env.Store.UpdateRecommendation(r.Context(), rec); err != nil {
		zap.L().Error("api: update recommendation failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update recommendation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recommendation": rec})
}

func (s *apiServer) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	wc, err := s.env.Store.GetWeightConfig(r.Context())
	if err != nil {
		zap.L().Error("api: get weight config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get weight config failed")
		return
	}
	writeJSON(w, http.StatusOK, wc)
}

func (s *apiServer) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Weights   model.WeightSet `json:"weights"`
		UpdatedBy string          `json:"updated_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Weights.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wc, err := s.env.Store.UpdateWeightConfig(r.Context(), req.Weights, req.UpdatedBy)
	if err != nil {
		zap.L().Error("api: update weight config failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "update weight config failed")
		return
	}
	zap.L().Info("api: weight config updated",
		zap.Int("version", wc.Version),
		zap.String("updated_by", wc.UpdatedBy),
	)
	writeJSON(w, http.StatusOK, wc)
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := s.env.Collector.Collect(r.Context())
	if err != nil {
		zap.L().Error("api: collect metrics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect metrics failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleQualityStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.env.Store.GetQualityStats(r.Context(), r.URL.Query().Get("merchant_id"))
	if err != nil {
		zap.L().Error("api: quality stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "quality stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := s.env.Store.ListDLQEntries(r.Context(), resilience.DLQFilter{
		ErrorType: q.Get("error_type"),
		InvoiceID: q.Get("invoice_id"),
		Limit:     queryInt(q.Get("limit")),
	})
	if err != nil {
		zap.L().Error("api: list dlq failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list dlq failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *apiServer) handleGetDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.env.Store.GetDLQEntry(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get dlq entry failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get dlq entry failed")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "dlq entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *apiServer) handleRequeueDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := requeueDLQEntry(r.Context(), s.env, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"task": task})
}

func (s *apiServer) handleDeleteDLQ(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, err := s.env.Store.GetDLQEntry(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get dlq entry failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get dlq entry failed")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "dlq entry not found")
		return
	}
	if err := s.env.Store.DeleteDLQEntry(r.Context(), id); err != nil {
		zap.L().Error("api: delete dlq entry failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "delete dlq entry failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps pipeline errors onto status codes by message shape:
// missing entities read as 404, everything else as a state conflict.
func writeDomainError(w http.ResponseWriter, err error) {
	msg := err.Error()
	if strings.Contains(msg, "not found") {
		writeError(w, http.StatusNotFound, msg)
		return
	}
	writeError(w, http.StatusConflict, msg)
}

func queryInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
