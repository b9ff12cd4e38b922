// Package lifecycle вычисляет статус аренды и продлевает её по подтверждённым платежам.
package lifecycle

import (
	"time"

	"github.com/mmeshcher/cellrent/internal/model"
)

// Policy задаёт пороги вычисления статуса в календарных днях.
type Policy struct {
	Location         *time.Location
	ExpiringSoonDays int
	PaymentSoonDays  int
	BillingCycleDays int
}

// DefaultPolicy возвращает пороги 2/7/30 дней в UTC.
func DefaultPolicy() Policy {
	return Policy{
		Location:         time.UTC,
		ExpiringSoonDays: 2,
		PaymentSoonDays:  7,
		BillingCycleDays: 30,
	}
}

// Zone возвращает часовой пояс календарных дней, по умолчанию UTC.
func (p Policy) Zone() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// ComputeStatus выводит статус аренды из её дат, флага ручного закрытия и
// последнего подтверждённого платежа. Функция чистая: без ввода-вывода и побочных эффектов.
func ComputeStatus(p Policy, now time.Time, r model.Rental, latest *model.Payment) model.RentalStatus {
	if r.ManualCloseAt != nil {
		return model.RentalStatusClosed
	}
	if now.Before(r.StartDate) {
		return model.RentalStatusReservation
	}
	if now.After(r.EndDate) {
		return model.RentalStatusExpired
	}

	loc := p.Zone()
	daysLeft := CalendarDaysBetween(now, r.EndDate, loc)

	if daysLeft <= p.ExpiringSoonDays {
		return model.RentalStatusExpiringSoon
	}
	if daysLeft <= p.PaymentSoonDays && !paidInWindow(p, r, latest) {
		return model.RentalStatusPaymentSoon
	}
	if justExtended(p, now, r, latest) {
		return model.RentalStatusExtended
	}

	return model.RentalStatusActive
}

// paidInWindow: подтверждённый платёж пришёл не раньше календарного дня endDate - PaymentSoonDays.
func paidInWindow(p Policy, r model.Rental, latest *model.Payment) bool {
	if !confirmed(latest) {
		return false
	}
	loc := p.Zone()
	windowStart := StartOfDay(r.EndDate, loc).AddDate(0, 0, -p.PaymentSoonDays)
	return !latest.ConfirmedAt.Before(windowStart)
}

// justExtended: последний платёж сдвинул endDate вперёд, и статус для текущей версии ещё не наблюдался.
func justExtended(p Policy, now time.Time, r model.Rental, latest *model.Payment) bool {
	if !confirmed(latest) || !latest.AppliedToRental {
		return false
	}
	if latest.ExtendedTo == nil || latest.PrevEndDate == nil {
		return false
	}
	if !latest.ExtendedTo.Equal(r.EndDate) || !latest.PrevEndDate.Before(*latest.ExtendedTo) {
		return false
	}
	if latest.ConfirmedAt.Before(now.AddDate(0, 0, -p.BillingCycleDays)) {
		return false
	}
	return r.StatusVersion < r.Version
}

func confirmed(p *model.Payment) bool {
	return p != nil && p.Status == model.PaymentStatusConfirmed && p.ConfirmedAt != nil
}

// StartOfDay возвращает полночь календарного дня t в часовом поясе loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// CalendarDaysBetween возвращает разницу календарных дат to и from в часовом поясе loc.
func CalendarDaysBetween(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	a := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	b := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}
