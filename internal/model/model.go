// Package model содержит доменные сущности сервиса аренды ячеек хранения.
package model

import (
	"fmt"
	"time"
)

// RentalStatus описывает производный статус аренды.
type RentalStatus string

const (
	RentalStatusReservation  RentalStatus = "RESERVATION"
	RentalStatusActive       RentalStatus = "ACTIVE"
	RentalStatusPaymentSoon  RentalStatus = "PAYMENT_SOON"
	RentalStatusExpiringSoon RentalStatus = "EXPIRING_SOON"
	RentalStatusExtended     RentalStatus = "EXTENDED"
	RentalStatusExpired      RentalStatus = "EXPIRED"
	RentalStatusClosed       RentalStatus = "CLOSED"
)

// Rental описывает аренду одной или нескольких ячеек клиентом.
//
// Статус не хранится как источник истины: Status/StatusVersion — кэш,
// действительный только при StatusVersion == Version.
type Rental struct {
	ID                int64
	CellIDs           []int64
	ClientID          int64
	StartDate         time.Time
	EndDate           time.Time
	ManualCloseAt     *time.Time
	ManualCloseReason *string
	Version           int64
	Status            RentalStatus
	StatusVersion     int64
	StatusCachedAt    *time.Time
	CreatedAt         time.Time
}

// Closed сообщает, закрыта ли аренда вручную.
func (r *Rental) Closed() bool {
	return r.ManualCloseAt != nil
}

// PaymentStatus описывает статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Payment описывает платёж через банковский шлюз. Суммы хранятся в копейках.
type Payment struct {
	ID                     int64
	RentalID               int64
	GatewayOrderID         string
	GatewayPaymentID       *string
	AmountMinor            int64
	Currency               string
	Status                 PaymentStatus
	GatewayStatus          string
	RawNotificationPayload []byte
	SignatureValid         bool
	AppliedToRental        bool
	PrevEndDate            *time.Time
	ExtendedTo             *time.Time
	AppliedVersion         *int64
	CreatedAt              time.Time
	ConfirmedAt            *time.Time
}

// IsTerminal сообщает, что платёж больше не может менять статус.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusConfirmed || p.Status == PaymentStatusFailed
}

// CanTransitionTo проверяет допустимость перехода PENDING → CONFIRMED | FAILED.
func (p *Payment) CanTransitionTo(target PaymentStatus) error {
	if p.Status == PaymentStatusPending && (target == PaymentStatusConfirmed || target == PaymentStatusFailed) {
		return nil
	}
	return fmt.Errorf("%w: payment %s -> %s", ErrInvalidState, p.Status, target)
}

// EmailType описывает вид уведомления клиенту.
type EmailType string

const (
	EmailTypeRentalExpiration EmailType = "RENTAL_EXPIRATION"
	EmailTypePaymentReminder  EmailType = "PAYMENT_REMINDER"
	EmailTypeRentalExtended   EmailType = "RENTAL_EXTENDED"
)

// EmailStatus описывает результат отправки уведомления.
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "PENDING"
	EmailStatusSent    EmailStatus = "SENT"
	EmailStatusFailed  EmailStatus = "FAILED"
)

// EmailLog фиксирует попытку отправки уведомления.
// Уникален по (RentalID, Type, OffsetDays).
type EmailLog struct {
	ID         int64
	RentalID   int64
	ClientID   *int64
	Type       EmailType
	OffsetDays int
	Status     EmailStatus
	SentAt     *time.Time
	Error      *string
	CreatedAt  time.Time
}

// Client хранит контакты арендатора для уведомлений.
type Client struct {
	ID    int64
	Name  string
	Email string
}

// DueRental — аренда, попавшая в окно напоминания, вместе с контактами клиента
// и последним подтверждённым платежом.
type DueRental struct {
	Rental        Rental
	ClientName    string
	ClientEmail   string
	LatestPayment *Payment
}
