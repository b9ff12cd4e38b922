package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/cellrent/internal/model"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return v
}

func ptrTime(v time.Time) *time.Time {
	return &v
}

func TestComputeStatus(t *testing.T) {
	policy := DefaultPolicy()
	now := mustTime(t, "2025-01-08T12:00:00Z")
	start := now.AddDate(0, -1, 0)

	tests := []struct {
		name    string
		rental  model.Rental
		payment *model.Payment
		want    model.RentalStatus
	}{
		{
			name: "closed wins over everything",
			rental: model.Rental{
				StartDate:     now.AddDate(0, 0, 5),
				EndDate:       now.AddDate(0, 0, -5),
				ManualCloseAt: ptrTime(now.Add(-time.Hour)),
			},
			want: model.RentalStatusClosed,
		},
		{
			name:   "reservation before start",
			rental: model.Rental{StartDate: now.Add(time.Hour), EndDate: now.AddDate(0, 1, 0)},
			want:   model.RentalStatusReservation,
		},
		{
			name:   "expired after end",
			rental: model.Rental{StartDate: start, EndDate: now.Add(-time.Second)},
			want:   model.RentalStatusExpired,
		},
		{
			name:   "expiring soon at two days",
			rental: model.Rental{StartDate: start, EndDate: now.AddDate(0, 0, 2)},
			want:   model.RentalStatusExpiringSoon,
		},
		{
			name:   "expiring soon on the last day",
			rental: model.Rental{StartDate: start, EndDate: now.Add(time.Hour)},
			want:   model.RentalStatusExpiringSoon,
		},
		{
			name:   "payment soon at three days",
			rental: model.Rental{StartDate: start, EndDate: now.AddDate(0, 0, 3)},
			want:   model.RentalStatusPaymentSoon,
		},
		{
			name:   "payment soon at seven days",
			rental: model.Rental{StartDate: start, EndDate: now.AddDate(0, 0, 7)},
			want:   model.RentalStatusPaymentSoon,
		},
		{
			name:   "paid inside the reminder window",
			rental: model.Rental{StartDate: start, EndDate: now.AddDate(0, 0, 3)},
			payment: &model.Payment{
				Status:      model.PaymentStatusConfirmed,
				ConfirmedAt: ptrTime(now.AddDate(0, 0, -1)),
			},
			want: model.RentalStatusActive,
		},
		{
			name:   "payment before the window does not count",
			rental: model.Rental{StartDate: start, EndDate: now.AddDate(0, 0, 3)},
			payment: &model.Payment{
				Status:      model.PaymentStatusConfirmed,
				ConfirmedAt: ptrTime(now.AddDate(0, 0, -20)),
			},
			want: model.RentalStatusPaymentSoon,
		},
		{
			name:   "active at eight days",
			rental: model.Rental{StartDate: start, EndDate: now.AddDate(0, 0, 8)},
			want:   model.RentalStatusActive,
		},
		{
			name: "extended until the status for the version is observed",
			rental: model.Rental{
				StartDate:     start,
				EndDate:       mustTime(t, "2025-02-09T00:00:00Z"),
				Version:       2,
				StatusVersion: 1,
			},
			payment: &model.Payment{
				Status:          model.PaymentStatusConfirmed,
				ConfirmedAt:     ptrTime(now),
				AppliedToRental: true,
				PrevEndDate:     ptrTime(mustTime(t, "2025-01-10T00:00:00Z")),
				ExtendedTo:      ptrTime(mustTime(t, "2025-02-09T00:00:00Z")),
			},
			want: model.RentalStatusExtended,
		},
		{
			name: "extension already observed falls through to active",
			rental: model.Rental{
				StartDate:     start,
				EndDate:       mustTime(t, "2025-02-09T00:00:00Z"),
				Version:       2,
				StatusVersion: 2,
			},
			payment: &model.Payment{
				Status:          model.PaymentStatusConfirmed,
				ConfirmedAt:     ptrTime(now),
				AppliedToRental: true,
				PrevEndDate:     ptrTime(mustTime(t, "2025-01-10T00:00:00Z")),
				ExtendedTo:      ptrTime(mustTime(t, "2025-02-09T00:00:00Z")),
			},
			want: model.RentalStatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeStatus(policy, now, tt.rental, tt.payment)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestComputeStatus_Deterministic(t *testing.T) {
	policy := DefaultPolicy()
	now := mustTime(t, "2025-01-08T12:00:00Z")
	r := model.Rental{StartDate: now.AddDate(0, -1, 0), EndDate: now.AddDate(0, 0, 5), Version: 3}
	p := &model.Payment{Status: model.PaymentStatusConfirmed, ConfirmedAt: ptrTime(now.AddDate(0, 0, -30))}

	first := ComputeStatus(policy, now, r, p)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, ComputeStatus(policy, now, r, p))
	}
}

func TestComputeStatus_CalendarDaysInConfiguredZone(t *testing.T) {
	msk := time.FixedZone("MSK", 3*60*60)
	now := mustTime(t, "2025-01-08T21:30:00Z")
	r := model.Rental{StartDate: now.AddDate(0, -1, 0), EndDate: mustTime(t, "2025-01-11T12:00:00Z")}

	policy := DefaultPolicy()
	assert.Equal(t, model.RentalStatusPaymentSoon, ComputeStatus(policy, now, r, nil))

	// По Москве уже 9 января, до конца аренды два календарных дня.
	policy.Location = msk
	assert.Equal(t, model.RentalStatusExpiringSoon, ComputeStatus(policy, now, r, nil))
}

func TestCalendarDaysBetween(t *testing.T) {
	from := mustTime(t, "2025-01-08T23:59:00Z")
	to := mustTime(t, "2025-01-09T00:01:00Z")

	assert.Equal(t, 1, CalendarDaysBetween(from, to, time.UTC))
	assert.Equal(t, 0, CalendarDaysBetween(from, from.Add(time.Minute/2), time.UTC))
}
