package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/cellrent/internal/model"
)

// ErrAlreadyApplied возвращается хранилищем, если платёж уже продлил аренду.
var ErrAlreadyApplied = errors.New("payment already applied to rental")

// maxExtendAttempts — первая попытка и один повтор на свежих данных.
const maxExtendAttempts = 2

// Extension описывает условное продление аренды: запись проходит только при
// совпадении версии, и в той же транзакции платёж помечается применённым.
type Extension struct {
	RentalID        int64
	PaymentID       int64
	PrevEndDate     time.Time
	NewEndDate      time.Time
	ExpectedVersion int64
}

// Store описывает хранилище, используемое движком.
type Store interface {
	GetRental(ctx context.Context, id int64) (*model.Rental, error)
	ExtendRental(ctx context.Context, ext Extension) (bool, error)
	CacheRentalStatus(ctx context.Context, rentalID int64, status model.RentalStatus, version int64, at time.Time) error
}

// Tariff переводит сумму платежа в копейках в число дней продления.
type Tariff interface {
	ExtensionDays(amountMinor int64) (int, error)
}

// Engine — единственный путь изменения endDate аренды.
type Engine struct {
	store  Store
	tariff Tariff
	policy Policy
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine создаёт движок жизненного цикла аренды.
func NewEngine(store Store, tariff Tariff, policy Policy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:  store,
		tariff: tariff,
		policy: policy,
		logger: logger,
		now:    time.Now,
	}
}

// Policy возвращает пороги, с которыми работает движок.
func (e *Engine) Policy() Policy {
	return e.policy
}

// ComputeStatus вычисляет статус аренды с порогами движка.
func (e *Engine) ComputeStatus(now time.Time, r model.Rental, latest *model.Payment) model.RentalStatus {
	return ComputeStatus(e.policy, now, r, latest)
}

// ApplyConfirmedPayment продлевает аренду от её текущего endDate на срок,
// оплаченный платежом. При проигрыше гонки версий вычисление повторяется один раз,
// затем возвращается ErrConflict. Уведомления здесь не отправляются.
func (e *Engine) ApplyConfirmedPayment(ctx context.Context, rentalID int64, payment *model.Payment) (*model.Rental, error) {
	if payment == nil || payment.Status != model.PaymentStatusConfirmed {
		return nil, fmt.Errorf("%w: payment is not confirmed", model.ErrInvalidState)
	}
	if payment.AppliedToRental {
		return nil, fmt.Errorf("payment %d: %w", payment.ID, ErrAlreadyApplied)
	}

	days, err := e.tariff.ExtensionDays(payment.AmountMinor)
	if err != nil {
		return nil, fmt.Errorf("extension days: %w", err)
	}

	loc := e.policy.Zone()

	for attempt := 1; attempt <= maxExtendAttempts; attempt++ {
		rental, err := e.store.GetRental(ctx, rentalID)
		if err != nil {
			return nil, err
		}
		if rental.Closed() {
			return nil, fmt.Errorf("%w: rental %d is closed", model.ErrInvalidState, rentalID)
		}

		prevEnd := rental.EndDate
		newEnd := prevEnd.In(loc).AddDate(0, 0, days)

		ok, err := e.store.ExtendRental(ctx, Extension{
			RentalID:        rental.ID,
			PaymentID:       payment.ID,
			PrevEndDate:     prevEnd,
			NewEndDate:      newEnd,
			ExpectedVersion: rental.Version,
		})
		if errors.Is(err, ErrAlreadyApplied) {
			return nil, fmt.Errorf("payment %d: %w", payment.ID, ErrAlreadyApplied)
		}
		if err != nil {
			return nil, fmt.Errorf("extend rental: %w", err)
		}
		if !ok {
			e.logger.Warn("rental version mismatch",
				zap.Int64("rentalID", rentalID),
				zap.Int64("expectedVersion", rental.Version),
				zap.Int("attempt", attempt),
			)
			continue
		}

		rental.EndDate = newEnd
		rental.Version++

		applied := *payment
		applied.AppliedToRental = true
		applied.PrevEndDate = &prevEnd
		applied.ExtendedTo = &newEnd
		version := rental.Version
		applied.AppliedVersion = &version

		now := e.now()
		rental.Status = ComputeStatus(e.policy, now, *rental, &applied)
		if err := e.store.CacheRentalStatus(ctx, rental.ID, rental.Status, rental.Version, now); err != nil {
			e.logger.Warn("cache rental status", zap.Error(err), zap.Int64("rentalID", rental.ID))
		} else {
			rental.StatusVersion = rental.Version
			rental.StatusCachedAt = &now
		}

		return rental, nil
	}

	return nil, fmt.Errorf("%w: rental %d", model.ErrConflict, rentalID)
}
