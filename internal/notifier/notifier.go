// Package notifier рассылает клиентам напоминания об окончании аренды.
//
// Проход идемпотентен: окно напоминания (аренда, тип, смещение) резервируется
// уникальной строкой журнала до отправки, и повторный проход его пропускает.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/cellrent/internal/lifecycle"
	"github.com/mmeshcher/cellrent/internal/model"
)

const jobName = "rental-reminders"

// ErrAlreadyRunning возвращается, если проход уже выполняется в этом или другом процессе.
var ErrAlreadyRunning = errors.New("notification run already in progress")

// Store описывает хранилище, используемое рассылкой.
type Store interface {
	ListRentalsEndingBetween(ctx context.Context, from, to time.Time) ([]model.DueRental, error)
	ReserveEmailLog(ctx context.Context, l *model.EmailLog) (bool, error)
	CompleteEmailLog(ctx context.Context, id int64, status model.EmailStatus, at time.Time, errText string) error
	TryAcquireJobLock(ctx context.Context, name, holder string, now time.Time, ttl time.Duration) (bool, error)
	ReleaseJobLock(ctx context.Context, name, holder string) error
}

// Sink доставляет письмо получателю.
type Sink interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Config задаёт смещения напоминаний и время жизни блокировки.
type Config struct {
	Offsets []int
	LockTTL time.Duration
}

// Result — итог одного прохода.
type Result struct {
	Attempted int
	Sent      int
	Failed    int
	Skipped   int
}

// Notifier выполняет проходы рассылки напоминаний.
type Notifier struct {
	store  Store
	sink   Sink
	policy lifecycle.Policy
	cfg    Config
	holder string
	logger *zap.Logger

	mu  sync.Mutex
	now func() time.Time
}

// New создаёт рассылку. Пустой список смещений заменяется на 7, 3, 1.
func New(store Store, sink Sink, policy lifecycle.Policy, cfg Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Offsets) == 0 {
		cfg.Offsets = []int{7, 3, 1}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Notifier{
		store:  store,
		sink:   sink,
		policy: policy,
		cfg:    cfg,
		holder: uuid.NewString(),
		logger: logger.Named("notifier"),
		now:    time.Now,
	}
}

// Run выполняет проход на текущий момент. Предназначен для планировщика.
func (n *Notifier) Run(ctx context.Context) (Result, error) {
	return n.RunOnce(ctx, n.now())
}

// RunOnce выполняет один проход рассылки на момент now. Если проход уже идёт,
// возвращает ErrAlreadyRunning, не ставя вызов в очередь. Ошибка отправки одного
// письма фиксируется в журнале и не прерывает проход.
func (n *Notifier) RunOnce(ctx context.Context, now time.Time) (Result, error) {
	if !n.mu.TryLock() {
		return Result{}, ErrAlreadyRunning
	}
	defer n.mu.Unlock()

	ok, err := n.store.TryAcquireJobLock(ctx, jobName, n.holder, now, n.cfg.LockTTL)
	if err != nil {
		return Result{}, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return Result{}, ErrAlreadyRunning
	}
	defer func() {
		if err := n.store.ReleaseJobLock(context.WithoutCancel(ctx), jobName, n.holder); err != nil {
			n.logger.Warn("failed to release job lock", zap.Error(err))
		}
	}()

	n.logger.Info("notification run started", zap.Time("now", now))

	var res Result
	loc := n.policy.Zone()
	today := lifecycle.StartOfDay(now, loc)

	for _, offset := range n.cfg.Offsets {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		dayStart := today.AddDate(0, 0, offset)
		dayEnd := dayStart.AddDate(0, 0, 1)

		due, err := n.store.ListRentalsEndingBetween(ctx, dayStart, dayEnd)
		if err != nil {
			return res, fmt.Errorf("list rentals for offset %d: %w", offset, err)
		}

		for _, d := range due {
			n.notify(ctx, now, offset, d, &res)
		}
	}

	n.logger.Info("notification run finished",
		zap.Int("attempted", res.Attempted),
		zap.Int("sent", res.Sent),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)

	return res, nil
}

func (n *Notifier) notify(ctx context.Context, now time.Time, offset int, d model.DueRental, res *Result) {
	log := n.logger.With(zap.Int64("rental_id", d.Rental.ID), zap.Int("offset", offset))

	status := lifecycle.ComputeStatus(n.policy, now, d.Rental, d.LatestPayment)
	typ, ok := emailTypeFor(status)
	if !ok {
		res.Skipped++
		return
	}

	clientID := d.Rental.ClientID
	entry := &model.EmailLog{
		RentalID:   d.Rental.ID,
		ClientID:   &clientID,
		Type:       typ,
		OffsetDays: offset,
	}
	reserved, err := n.store.ReserveEmailLog(ctx, entry)
	if err != nil {
		log.Error("failed to reserve email log", zap.Error(err))
		res.Failed++
		return
	}
	if !reserved {
		res.Skipped++
		return
	}

	res.Attempted++

	sendErr := n.send(ctx, d, typ, offset)
	outcome, errText := model.EmailStatusSent, ""
	if sendErr != nil {
		outcome, errText = model.EmailStatusFailed, sendErr.Error()
		res.Failed++
		log.Warn("failed to send reminder", zap.String("type", string(typ)), zap.Error(sendErr))
	} else {
		res.Sent++
		log.Debug("reminder sent", zap.String("type", string(typ)))
	}

	if err := n.store.CompleteEmailLog(context.WithoutCancel(ctx), entry.ID, outcome, n.now(), errText); err != nil {
		log.Error("failed to complete email log", zap.Int64("email_log_id", entry.ID), zap.Error(err))
	}
}

func (n *Notifier) send(ctx context.Context, d model.DueRental, typ model.EmailType, offset int) error {
	if d.ClientEmail == "" {
		return errors.New("client has no email address")
	}

	subject, body, err := render(typ, d, offset, n.policy.Zone())
	if err != nil {
		return err
	}

	return n.sink.Send(ctx, d.ClientEmail, subject, body)
}

// emailTypeFor выбирает тип письма по статусу. Уведомляются только аренды,
// у которых скоро конец срока или очередной платёж.
func emailTypeFor(status model.RentalStatus) (model.EmailType, bool) {
	switch status {
	case model.RentalStatusExpiringSoon:
		return model.EmailTypeRentalExpiration, true
	case model.RentalStatusPaymentSoon:
		return model.EmailTypePaymentReminder, true
	default:
		return "", false
	}
}
