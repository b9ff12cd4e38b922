// Package validation содержит входные контракты API и таблицу ограничений их полей.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/cellrent/internal/model"
)

// CreateRentalRequest описывает заявку на создание аренды.
type CreateRentalRequest struct {
	ClientID  int64     `json:"clientId"`
	CellIDs   []int64   `json:"cellIds"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

// MaxPaymentAmount — верхняя граница одного платежа в рублях.
const MaxPaymentAmount = 10_000_000

// PaymentRequest — запрос на создание платежа. Amount — в рублях.
type PaymentRequest struct {
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// CloseRequest содержит причину ручного закрытия аренды.
type CloseRequest struct {
	Reason string `json:"reason"`
}

// ClientRequest содержит контакты клиента для уведомлений.
type ClientRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// rules — ограничения полей, проверяемые на границе API.
var rules = []struct {
	typ    any
	fields map[string]string
}{
	{CreateRentalRequest{}, map[string]string{
		"ClientID":  "required,gt=0",
		"CellIDs":   "required,min=1,unique,dive,gt=0",
		"StartDate": "required",
		"EndDate":   "required,gtfield=StartDate",
	}},
	{PaymentRequest{}, map[string]string{
		"Amount":      "required,gt=0,lte=" + strconv.Itoa(MaxPaymentAmount),
		"Description": "max=140",
	}},
	{CloseRequest{}, map[string]string{
		"Reason": "required,max=500",
	}},
	{ClientRequest{}, map[string]string{
		"Name":  "max=200",
		"Email": "required,email,max=254",
	}},
}

// Validator проверяет входные контракты по таблице ограничений.
type Validator struct {
	v *validator.Validate
}

// New создаёт проверяющий с зарегистрированной таблицей ограничений.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	for _, r := range rules {
		v.RegisterStructValidationMapRules(r.fields, r.typ)
	}
	return &Validator{v: v}
}

// Struct проверяет значение и возвращает *model.ValidationError для первого нарушения.
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &model.ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}

	return &model.ValidationError{Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "min":
		return "must contain at least " + fe.Param() + " items"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "unique":
		return "must not contain duplicates"
	case "gtfield":
		return "must be after " + fe.Param()
	case "email":
		return "must be a valid email address"
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}
