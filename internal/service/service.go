// Package service реализует бизнес-логику сервиса аренды ячеек:
// администрирование аренд, создание платежей и приём уведомлений банка.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cellrent/internal/gateway"
	"github.com/mmeshcher/cellrent/internal/lifecycle"
	"github.com/mmeshcher/cellrent/internal/model"
	"github.com/mmeshcher/cellrent/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	lifecycle.Store

	Close() error
	UpsertClient(ctx context.Context, c *model.Client) error
	CreateRental(ctx context.Context, r *model.Rental) (int64, error)
	CloseRental(ctx context.Context, id int64, reason string, at time.Time) (*model.Rental, error)
	CreatePayment(ctx context.Context, p *model.Payment) error
	AttachGatewayPaymentID(ctx context.Context, paymentID int64, gatewayPaymentID, gatewayStatus string) error
	FailPayment(ctx context.Context, paymentID int64, gatewayStatus string) error
	GetPaymentByOrderID(ctx context.Context, orderID string) (*model.Payment, error)
	FinalizePayment(ctx context.Context, f repository.Finalization) (*model.Payment, bool, error)
	LatestConfirmedPayment(ctx context.Context, rentalID int64) (*model.Payment, error)
	ListPayments(ctx context.Context, rentalID int64) ([]model.Payment, error)
	ListEmailLogs(ctx context.Context, rentalID int64) ([]model.EmailLog, error)
}

// Gateway описывает платёжный шлюз банка.
type Gateway interface {
	Init(ctx context.Context, req gateway.InitRequest) (*gateway.InitResponse, error)
	VerifyNotification(raw []byte) (*gateway.Notification, error)
}

// Config содержит параметры платежей.
type Config struct {
	Currency        string
	MinPaymentMinor int64
}

// Service содержит бизнес-логику сервиса аренды.
type Service struct {
	repo    Repository
	gateway Gateway
	engine  *lifecycle.Engine
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewService создаёт сервис с указанным репозиторием, шлюзом и движком жизненного цикла.
func NewService(repo Repository, gw Gateway, engine *lifecycle.Engine, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MinPaymentMinor <= 0 {
		cfg.MinPaymentMinor = 1000
	}
	if cfg.Currency == "" {
		cfg.Currency = "RUB"
	}
	return &Service{
		repo:    repo,
		gateway: gw,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RentalView — аренда с вычисленным на момент запроса статусом.
type RentalView struct {
	Rental        model.Rental
	Status        model.RentalStatus
	LatestPayment *model.Payment
}

// SaveClient сохраняет контакты клиента.
func (s *Service) SaveClient(ctx context.Context, c *model.Client) error {
	return s.repo.UpsertClient(ctx, c)
}

// CreateRental заводит аренду и кэширует её начальный статус.
func (s *Service) CreateRental(ctx context.Context, r *model.Rental) (*RentalView, error) {
	if !r.EndDate.After(r.StartDate) {
		return nil, &model.ValidationError{Field: "endDate", Reason: "must be after startDate"}
	}
	if len(r.CellIDs) == 0 {
		return nil, &model.ValidationError{Field: "cellIds", Reason: "at least one cell required"}
	}

	if _, err := s.repo.CreateRental(ctx, r); err != nil {
		return nil, fmt.Errorf("create rental: %w", err)
	}

	return s.view(ctx, r, nil), nil
}

// GetRental возвращает аренду с текущим статусом.
func (s *Service) GetRental(ctx context.Context, id int64) (*RentalView, error) {
	r, err := s.repo.GetRental(ctx, id)
	if err != nil {
		return nil, err
	}

	latest, err := s.repo.LatestConfirmedPayment(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.view(ctx, r, latest), nil
}

// CloseRental закрывает аренду вручную. Закрытие необратимо.
func (s *Service) CloseRental(ctx context.Context, id int64, reason string) (*RentalView, error) {
	r, err := s.repo.CloseRental(ctx, id, reason, s.now())
	if err != nil {
		return nil, err
	}

	s.logger.Info("rental closed", zap.Int64("rental_id", id), zap.String("reason", reason))

	return &RentalView{Rental: *r, Status: model.RentalStatusClosed}, nil
}

// view вычисляет статус и обновляет кэш, если он устарел.
func (s *Service) view(ctx context.Context, r *model.Rental, latest *model.Payment) *RentalView {
	now := s.now()
	status := s.engine.ComputeStatus(now, *r, latest)

	if r.StatusVersion != r.Version || r.Status != status {
		if err := s.repo.CacheRentalStatus(ctx, r.ID, status, r.Version, now); err != nil {
			s.logger.Warn("failed to cache rental status", zap.Int64("rental_id", r.ID), zap.Error(err))
		}
	}

	return &RentalView{Rental: *r, Status: status, LatestPayment: latest}
}

// PaymentLink содержит ссылку на оплату и идентификаторы созданного платежа.
type PaymentLink struct {
	PaymentURL       string
	GatewayPaymentID string
	OrderID          string
}

// CreatePayment создаёт платёж на продление аренды. amountMajor — в рублях.
// Платёж, который банк явно отклонил, закрывается как FAILED. При транспортном
// сбое платёж остаётся PENDING: банк мог создать заказ, и его статус придёт уведомлением.
func (s *Service) CreatePayment(ctx context.Context, rentalID, amountMajor int64, description string) (*PaymentLink, error) {
	if amountMajor > math.MaxInt64/100 {
		return nil, &model.ValidationError{Field: "amount", Reason: "is too large"}
	}

	amountMinor := amountMajor * 100
	if amountMinor < s.cfg.MinPaymentMinor {
		return nil, &model.ValidationError{
			Field:  "amount",
			Reason: fmt.Sprintf("must be at least %d minor units", s.cfg.MinPaymentMinor),
		}
	}

	rental, err := s.repo.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if rental.Closed() {
		return nil, fmt.Errorf("%w: rental %d is closed", model.ErrInvalidState, rentalID)
	}

	p := &model.Payment{
		RentalID:       rentalID,
		GatewayOrderID: uuid.NewString(),
		AmountMinor:    amountMinor,
		Currency:       s.cfg.Currency,
	}
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return nil, err
	}

	resp, err := s.gateway.Init(ctx, gateway.InitRequest{
		Amount:      amountMinor,
		OrderID:     p.GatewayOrderID,
		Description: description,
	})
	if err != nil {
		s.logger.Error("gateway init failed",
			zap.Int64("rental_id", rentalID),
			zap.String("order_id", p.GatewayOrderID),
			zap.Bool("rejected", gateway.IsRejected(err)),
			zap.Error(err),
		)
		if gateway.IsRejected(err) {
			if fErr := s.repo.FailPayment(context.WithoutCancel(ctx), p.ID, rejectedStatus(err)); fErr != nil {
				s.logger.Error("failed to close rejected payment", zap.Int64("payment_id", p.ID), zap.Error(fErr))
			}
		}
		return nil, err
	}

	gatewayPaymentID := string(resp.PaymentID)
	if gatewayPaymentID != "" {
		if err := s.repo.AttachGatewayPaymentID(ctx, p.ID, gatewayPaymentID, resp.Status); err != nil {
			return nil, fmt.Errorf("attach gateway payment id: %w", err)
		}
	}

	s.logger.Info("payment created",
		zap.Int64("rental_id", rentalID),
		zap.String("order_id", p.GatewayOrderID),
		zap.String("payment_id", gatewayPaymentID),
		zap.Int64("amount", amountMinor),
	)

	return &PaymentLink{
		PaymentURL:       resp.PaymentURL,
		GatewayPaymentID: gatewayPaymentID,
		OrderID:          p.GatewayOrderID,
	}, nil
}

func rejectedStatus(err error) string {
	var gErr *model.GatewayError
	if errors.As(err, &gErr) && gErr.Code != "" {
		return "REJECTED:" + gErr.Code
	}
	return "REJECTED"
}

// Ack описывает результат обработки уведомления банка.
type Ack struct {
	Accepted  bool
	Duplicate bool
}

// HandleNotification обрабатывает уведомление банка о статусе платежа.
// Повторные и конкурентные уведомления по одному платежу не дают повторного эффекта.
// Проверенное уведомление обрабатывается до конца, даже если банк уже закрыл соединение.
func (s *Service) HandleNotification(ctx context.Context, raw []byte) (Ack, error) {
	n, err := s.gateway.VerifyNotification(raw)
	if err != nil {
		s.logger.Warn("notification rejected", zap.Error(err), zap.Int("size", len(raw)))
		return Ack{}, err
	}

	ctx = context.WithoutCancel(ctx)

	log := s.logger.With(
		zap.String("order_id", n.OrderID),
		zap.String("payment_id", string(n.PaymentID)),
		zap.String("gateway_status", n.Status),
	)

	target := model.PaymentStatusFailed
	if n.Confirmed() {
		target = model.PaymentStatusConfirmed
	}

	p, err := s.repo.GetPaymentByOrderID(ctx, n.OrderID)
	if err != nil {
		log.Warn("notification for unknown payment", zap.Error(err))
		return Ack{}, err
	}

	if p.IsTerminal() {
		return s.settled(ctx, log, p, target), nil
	}
	if err := p.CanTransitionTo(target); err != nil {
		return Ack{}, err
	}

	if n.Amount != 0 && n.Amount != p.AmountMinor {
		log.Warn("notification amount differs from payment",
			zap.Int64("notified", n.Amount),
			zap.Int64("expected", p.AmountMinor),
		)
	}

	finalized, changed, err := s.repo.FinalizePayment(ctx, repository.Finalization{
		PaymentID:        p.ID,
		Status:           target,
		GatewayStatus:    n.Status,
		GatewayPaymentID: string(n.PaymentID),
		RawPayload:       raw,
		SignatureValid:   true,
		At:               s.now(),
	})
	if errors.Is(err, repository.ErrDuplicatePaymentID) || (err == nil && !changed) {
		log.Info("duplicate notification ignored")
		return Ack{Accepted: true, Duplicate: true}, nil
	}
	if err != nil {
		return Ack{}, fmt.Errorf("finalize payment: %w", err)
	}

	log.Info("payment finalized", zap.String("status", string(finalized.Status)))

	if finalized.Status == model.PaymentStatusConfirmed {
		s.apply(ctx, log, finalized)
	}

	return Ack{Accepted: true}, nil
}

// settled разбирает уведомление по уже завершённому платежу. Подтверждённый,
// но не применённый платёж применяется повторно.
func (s *Service) settled(ctx context.Context, log *zap.Logger, p *model.Payment, target model.PaymentStatus) Ack {
	switch {
	case p.Status == model.PaymentStatusConfirmed && target == model.PaymentStatusConfirmed && !p.AppliedToRental:
		log.Warn("confirmed payment was not applied, retrying extension", zap.Int64("rental_id", p.RentalID))
		s.apply(ctx, log, p)
		return Ack{Accepted: true, Duplicate: true}
	case p.Status == model.PaymentStatusFailed && target == model.PaymentStatusConfirmed:
		log.Error("confirmed notification for failed payment, manual reconciliation required",
			zap.Int64("rental_id", p.RentalID),
			zap.String("local_gateway_status", p.GatewayStatus),
		)
		return Ack{Accepted: true}
	default:
		log.Info("duplicate notification ignored", zap.String("status", string(p.Status)))
		return Ack{Accepted: true, Duplicate: true}
	}
}

func (s *Service) apply(ctx context.Context, log *zap.Logger, p *model.Payment) {
	rental, err := s.engine.ApplyConfirmedPayment(ctx, p.RentalID, p)
	switch {
	case err == nil:
		log.Info("rental extended",
			zap.Int64("rental_id", rental.ID),
			zap.Time("end_date", rental.EndDate),
		)
	case errors.Is(err, lifecycle.ErrAlreadyApplied):
		log.Info("payment already applied", zap.Int64("rental_id", p.RentalID))
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConflict):
		log.Error("confirmed payment not applied, manual reconciliation required",
			zap.Int64("rental_id", p.RentalID),
			zap.Error(err),
		)
	default:
		log.Error("failed to apply confirmed payment",
			zap.Int64("rental_id", p.RentalID),
			zap.Error(err),
		)
	}
}

// ListPayments возвращает платежи аренды.
func (s *Service) ListPayments(ctx context.Context, rentalID int64) ([]model.Payment, error) {
	if _, err := s.repo.GetRental(ctx, rentalID); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, rentalID)
}

// ListEmails возвращает журнал уведомлений аренды.
func (s *Service) ListEmails(ctx context.Context, rentalID int64) ([]model.EmailLog, error) {
	if _, err := s.repo.GetRental(ctx, rentalID); err != nil {
		return nil, err
	}
	return s.repo.ListEmailLogs(ctx, rentalID)
}
