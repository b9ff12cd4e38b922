// Package handler содержит HTTP-обработчики API сервиса аренды ячеек.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/cellrent/internal/middleware"
	"github.com/mmeshcher/cellrent/internal/model"
	"github.com/mmeshcher/cellrent/internal/notifier"
	"github.com/mmeshcher/cellrent/internal/service"
	"github.com/mmeshcher/cellrent/internal/validation"
)

const maxNotificationSize = 64 << 10

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	SaveClient(ctx context.Context, c *model.Client) error
	CreateRental(ctx context.Context, r *model.Rental) (*service.RentalView, error)
	GetRental(ctx context.Context, id int64) (*service.RentalView, error)
	CloseRental(ctx context.Context, id int64, reason string) (*service.RentalView, error)
	CreatePayment(ctx context.Context, rentalID, amountMajor int64, description string) (*service.PaymentLink, error)
	HandleNotification(ctx context.Context, raw []byte) (service.Ack, error)
	ListPayments(ctx context.Context, rentalID int64) ([]model.Payment, error)
	ListEmails(ctx context.Context, rentalID int64) ([]model.EmailLog, error)
}

// Runner запускает проход рассылки напоминаний.
type Runner interface {
	Run(ctx context.Context) (notifier.Result, error)
}

// Handler реализует HTTP-обработчики API сервиса.
type Handler struct {
	service         Service
	runner          Runner
	validator       *validation.Validator
	logger          *zap.Logger
	authMiddleware  *middleware.AuthMiddleware
	webhookPrefixes []netip.Prefix
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, runner Runner, logger *zap.Logger, auth *middleware.AuthMiddleware, webhookPrefixes []netip.Prefix) *Handler {
	return &Handler{
		service:         s,
		runner:          runner,
		validator:       validation.New(),
		logger:          logger,
		authMiddleware:  auth,
		webhookPrefixes: webhookPrefixes,
	}
}

// PaymentNotification принимает уведомление банка. Ответ всегда 200 OK:
// исход обработки банку не раскрывается и пишется только в лог.
func (h *Handler) PaymentNotification(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxNotificationSize))
	if err != nil {
		h.logger.Warn("read notification body", zap.Error(err), zap.String("remote", r.RemoteAddr))
	} else {
		ack, err := h.service.HandleNotification(r.Context(), body)
		if err != nil {
			h.logger.Warn("notification not accepted", zap.Error(err), zap.String("remote", r.RemoteAddr))
		} else if ack.Duplicate {
			h.logger.Debug("duplicate notification acknowledged", zap.String("remote", r.RemoteAddr))
		}
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type clientResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SaveClient сохраняет контакты клиента для напоминаний.
func (h *Handler) SaveClient(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req validation.ClientRequest
	if !h.decode(w, r, &req) {
		return
	}

	c := &model.Client{ID: id, Name: req.Name, Email: req.Email}
	if err := h.service.SaveClient(r.Context(), c); err != nil {
		h.writeError(w, err, "save client")
		return
	}

	writeJSON(w, http.StatusOK, clientResponse{ID: c.ID, Name: c.Name, Email: c.Email})
}

type rentalResponse struct {
	ID                int64   `json:"id"`
	ClientID          int64   `json:"clientId"`
	CellIDs           []int64 `json:"cellIds"`
	StartDate         string  `json:"startDate"`
	EndDate           string  `json:"endDate"`
	Status            string  `json:"status"`
	Version           int64   `json:"version"`
	ManualCloseAt     *string `json:"manualCloseAt,omitempty"`
	ManualCloseReason *string `json:"manualCloseReason,omitempty"`
}

func newRentalResponse(v *service.RentalView) rentalResponse {
	resp := rentalResponse{
		ID:                v.Rental.ID,
		ClientID:          v.Rental.ClientID,
		CellIDs:           v.Rental.CellIDs,
		StartDate:         v.Rental.StartDate.Format(time.RFC3339),
		EndDate:           v.Rental.EndDate.Format(time.RFC3339),
		Status:            string(v.Status),
		Version:           v.Rental.Version,
		ManualCloseReason: v.Rental.ManualCloseReason,
	}
	if v.Rental.ManualCloseAt != nil {
		s := v.Rental.ManualCloseAt.Format(time.RFC3339)
		resp.ManualCloseAt = &s
	}
	return resp
}

// CreateRental заводит аренду.
func (h *Handler) CreateRental(w http.ResponseWriter, r *http.Request) {
	var req validation.CreateRentalRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.CreateRental(r.Context(), &model.Rental{
		ClientID:  req.ClientID,
		CellIDs:   req.CellIDs,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		h.writeError(w, err, "create rental")
		return
	}

	writeJSON(w, http.StatusCreated, newRentalResponse(view))
}

// GetRental возвращает аренду с текущим статусом.
func (h *Handler) GetRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetRental(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get rental")
		return
	}

	writeJSON(w, http.StatusOK, newRentalResponse(view))
}

// CloseRental закрывает аренду вручную.
func (h *Handler) CloseRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req validation.CloseRequest
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.service.CloseRental(r.Context(), id, req.Reason)
	if err != nil {
		h.writeError(w, err, "close rental")
		return
	}

	operator, _ := middleware.OperatorFromContext(r.Context())
	h.logger.Info("rental closed by operator", zap.Int64("rental_id", id), zap.String("operator", operator))

	writeJSON(w, http.StatusOK, newRentalResponse(view))
}

type paymentLinkResponse struct {
	PaymentURL string `json:"paymentUrl"`
	PaymentID  string `json:"paymentId"`
	OrderID    string `json:"orderId"`
}

// CreatePayment создаёт платёж на продление аренды и возвращает ссылку на оплату.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req validation.PaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	link, err := h.service.CreatePayment(r.Context(), id, req.Amount, req.Description)
	if err != nil {
		h.writeError(w, err, "create payment")
		return
	}

	writeJSON(w, http.StatusOK, paymentLinkResponse{
		PaymentURL: link.PaymentURL,
		PaymentID:  link.GatewayPaymentID,
		OrderID:    link.OrderID,
	})
}

type paymentResponse struct {
	ID              int64   `json:"id"`
	OrderID         string  `json:"orderId"`
	PaymentID       *string `json:"paymentId,omitempty"`
	Amount          float64 `json:"amount"`
	AmountMinor     int64   `json:"amountMinor"`
	Currency        string  `json:"currency"`
	Status          string  `json:"status"`
	GatewayStatus   string  `json:"gatewayStatus,omitempty"`
	AppliedToRental bool    `json:"appliedToRental"`
	ExtendedTo      *string `json:"extendedTo,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	ConfirmedAt     *string `json:"confirmedAt,omitempty"`
}

// ListPayments возвращает платежи аренды.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "list payments")
		return
	}

	if len(payments) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, paymentResponse{
			ID:              p.ID,
			OrderID:         p.GatewayOrderID,
			PaymentID:       p.GatewayPaymentID,
			Amount:          float64(p.AmountMinor) / 100,
			AmountMinor:     p.AmountMinor,
			Currency:        p.Currency,
			Status:          string(p.Status),
			GatewayStatus:   p.GatewayStatus,
			AppliedToRental: p.AppliedToRental,
			ExtendedTo:      formatTime(p.ExtendedTo),
			CreatedAt:       p.CreatedAt.Format(time.RFC3339),
			ConfirmedAt:     formatTime(p.ConfirmedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type emailResponse struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	OffsetDays int     `json:"offsetDays"`
	Status     string  `json:"status"`
	SentAt     *string `json:"sentAt,omitempty"`
	Error      *string `json:"error,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

// ListEmails возвращает журнал уведомлений аренды.
func (h *Handler) ListEmails(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	logs, err := h.service.ListEmails(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "list emails")
		return
	}

	if len(logs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]emailResponse, 0, len(logs))
	for _, l := range logs {
		resp = append(resp, emailResponse{
			ID:         l.ID,
			Type:       string(l.Type),
			OffsetDays: l.OffsetDays,
			Status:     string(l.Status),
			SentAt:     formatTime(l.SentAt),
			Error:      l.Error,
			CreatedAt:  l.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type runResponse struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RunNotifications запускает проход рассылки вручную.
func (h *Handler) RunNotifications(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	res, err := h.runner.Run(r.Context())
	if err != nil {
		h.writeError(w, err, "run notifications")
		return
	}

	writeJSON(w, http.StatusOK, runResponse{
		Attempted: res.Attempted,
		Sent:      res.Sent,
		Failed:    res.Failed,
		Skipped:   res.Skipped,
	})
}

// decode разбирает JSON-тело и проверяет его по таблице ограничений. При ошибке отвечает 400.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}

	return true
}

// writeError переводит доменную ошибку в HTTP-статус.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var (
		vErr *model.ValidationError
		gErr *model.GatewayError
	)

	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConflict), errors.Is(err, notifier.ErrAlreadyRunning):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &gErr):
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
