// Package handler exposes the receipt endpoint over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"klarogeo/internal/platform/httputil"
	"klarogeo/internal/platform/middleware"
	"klarogeo/internal/receipt/models"
	"klarogeo/internal/receipt/service"
	dErrors "klarogeo/pkg/domain-errors"
)

// Service defines the receipt operations the handler needs.
type Service interface {
	Action() string
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	Get(ctx context.Context, receiptID string) (*models.Stored, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Stored, error)
	IssueNonce(ctx context.Context) (*service.Nonce, error)
}

// Handler serves receipt submissions and lookups.
type Handler struct {
	receipts Service
	logger   *slog.Logger
	submitMW []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithSubmitMiddleware wraps only the submission route, e.g. with a rate
// limiter.
func WithSubmitMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.submitMW = append(h.submitMW, mw...)
	}
}

func New(receipts Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{receipts: receipts, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the receipt routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.With(h.submitMW...).Post("/ajax", h.HandleAjax)
	r.Get("/consent/nonce", h.HandleNonce)
	r.Get("/consent/receipts", h.HandleList)
	r.Get("/consent/receipts/{id}", h.HandleGet)
}

// Envelope is the response shape the consent widget's receipt client
// expects from the form endpoint.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// SubmitResponse is the data of a successful submission.
type SubmitResponse struct {
	ReceiptID  string    `json:"receipt_id"`
	Duplicate  bool      `json:"duplicate"`
	ReceivedAt time.Time `json:"received_at"`
}

// ErrorData is the data of a failed submission.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ListResponse is returned when listing receipts.
type ListResponse struct {
	Receipts []*models.Stored `json:"receipts"`
}

// HandleAjax accepts form posts dispatched by their action field.
func (h *Handler) HandleAjax(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	if err := r.ParseForm(); err != nil {
		h.logger.WarnContext(ctx, "failed to parse receipt form",
			"request_id", requestID,
			"error", err,
		)
		writeEnvelopeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid form body"))
		return
	}

	action := r.PostForm.Get("action")
	if action != h.receipts.Action() {
		writeEnvelopeError(w, dErrors.New(dErrors.CodeBadRequest, "unknown action"))
		return
	}

	res, err := h.receipts.Submit(ctx, service.SubmitRequest{
		Action:      action,
		Nonce:       r.PostForm.Get("nonce"),
		ReceiptData: r.PostForm.Get("receipt_data"),
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "consent receipt rejected",
			"request_id", requestID,
			"error", err,
		)
		writeEnvelopeError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, Envelope{
		Success: true,
		Data: SubmitResponse{
			ReceiptID:  res.Stored.Receipt.ReceiptID,
			Duplicate:  res.Duplicate,
			ReceivedAt: res.Stored.ReceivedAt,
		},
	})
}

func (h *Handler) HandleNonce(w http.ResponseWriter, r *http.Request) {
	n, err := h.receipts.IssueNonce(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, n)
}

// HandleList lists receipts, optionally filtered by ?country= and capped
// by ?limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter := models.ListFilter{
		CountryCode: strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("country"))),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be an integer"))
			return
		}
		filter.Limit = limit
	}

	receipts, err := h.receipts.List(ctx, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list receipts",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if receipts == nil {
		receipts = []*models.Stored{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Receipts: receipts})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	stored, err := h.receipts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stored)
}

func writeEnvelopeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeInternal
	var message string
	var de *dErrors.Error
	if errors.As(err, &de) {
		code = de.Code
		message = de.Message
	}
	httputil.WriteJSON(w, httputil.DomainCodeToHTTPStatus(code), Envelope{
		Success: false,
		Data: ErrorData{
			Code:    httputil.DomainCodeToHTTPCode(code),
			Message: message,
		},
	})
}
