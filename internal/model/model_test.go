package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayment_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		from    PaymentStatus
		to      PaymentStatus
		wantErr bool
	}{
		{name: "pending to confirmed", from: PaymentStatusPending, to: PaymentStatusConfirmed},
		{name: "pending to failed", from: PaymentStatusPending, to: PaymentStatusFailed},
		{name: "pending to pending", from: PaymentStatusPending, to: PaymentStatusPending, wantErr: true},
		{name: "confirmed to failed", from: PaymentStatusConfirmed, to: PaymentStatusFailed, wantErr: true},
		{name: "failed to confirmed", from: PaymentStatusFailed, to: PaymentStatusConfirmed, wantErr: true},
		{name: "confirmed to confirmed", from: PaymentStatusConfirmed, to: PaymentStatusConfirmed, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payment{Status: tt.from}
			err := p.CanTransitionTo(tt.to)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidState))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPayment_IsTerminal(t *testing.T) {
	assert.False(t, (&Payment{Status: PaymentStatusPending}).IsTerminal())
	assert.True(t, (&Payment{Status: PaymentStatusConfirmed}).IsTerminal())
	assert.True(t, (&Payment{Status: PaymentStatusFailed}).IsTerminal())
}

func TestRental_Closed(t *testing.T) {
	r := &Rental{}
	assert.False(t, r.Closed())

	now := time.Now()
	r.ManualCloseAt = &now
	assert.True(t, r.Closed())
}

func TestGatewayError(t *testing.T) {
	cause := errors.New("connection reset")

	tests := []struct {
		name         string
		err          *GatewayError
		wantMsg      string
		wantRejected bool
	}{
		{
			name:    "transport with status",
			err:     &GatewayError{Op: "Init", StatusCode: 502, Err: cause},
			wantMsg: "gateway Init: status 502: connection reset",
		},
		{
			name:    "transport",
			err:     &GatewayError{Op: "Init", Err: cause},
			wantMsg: "gateway Init: connection reset",
		},
		{
			name:         "rejected",
			err:          &GatewayError{Op: "Init", Code: "9999", Message: "Неверные параметры"},
			wantMsg:      "gateway Init: rejected with code 9999: Неверные параметры",
			wantRejected: true,
		},
		{
			name:    "bare status",
			err:     &GatewayError{Op: "Init", StatusCode: 500},
			wantMsg: "gateway Init: unexpected status 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
			assert.Equal(t, tt.wantRejected, tt.err.Rejected())
		})
	}

	wrapped := &GatewayError{Op: "Init", Err: cause}
	assert.ErrorIs(t, wrapped, cause)
}

func TestValidationError(t *testing.T) {
	assert.Equal(t, "validation: amount: too small", (&ValidationError{Field: "amount", Reason: "too small"}).Error())
	assert.Equal(t, "validation: bad input", (&ValidationError{Reason: "bad input"}).Error())
}
