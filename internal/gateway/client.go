// Package gateway предоставляет клиент банковского платёжного шлюза:
// подписанные запросы на создание платежа и проверку уведомлений банка.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/cellrent/internal/model"
)

// Статусы шлюза, означающие успешную оплату.
const (
	StatusConfirmed  = "CONFIRMED"
	StatusAuthorized = "AUTHORIZED"
)

// Config содержит параметры подключения к шлюзу.
type Config struct {
	BaseURL         string
	TerminalKey     string
	Password        string
	Timeout         time.Duration
	RetryMax        int
	RetryWaitMin    time.Duration
	RetryWaitMax    time.Duration
	NotificationURL string
	SuccessURL      string
	FailURL         string
}

// Client инкапсулирует HTTP-взаимодействие со шлюзом.
type Client struct {
	baseURL     string
	terminalKey string
	password    string
	urls        map[string]string
	httpClient  *retryablehttp.Client
}

// InitRequest описывает создание платежа. Amount — в копейках.
type InitRequest struct {
	Amount      int64
	OrderID     string
	Description string
}

// InitResponse описывает ответ шлюза на создание платежа.
type InitResponse struct {
	Success     bool       `json:"Success"`
	ErrorCode   string     `json:"ErrorCode"`
	Message     string     `json:"Message,omitempty"`
	Details     string     `json:"Details,omitempty"`
	TerminalKey string     `json:"TerminalKey,omitempty"`
	Status      string     `json:"Status,omitempty"`
	PaymentID   FlexString `json:"PaymentId,omitempty"`
	OrderID     string     `json:"OrderId,omitempty"`
	Amount      int64      `json:"Amount,omitempty"`
	PaymentURL  string     `json:"PaymentURL,omitempty"`
}

// Notification описывает уведомление банка о результате платежа.
type Notification struct {
	TerminalKey string     `json:"TerminalKey"`
	OrderID     string     `json:"OrderId"`
	Success     bool       `json:"Success"`
	Status      string     `json:"Status"`
	PaymentID   FlexString `json:"PaymentId"`
	ErrorCode   string     `json:"ErrorCode"`
	Amount      int64      `json:"Amount"`
	Token       string     `json:"Token"`
}

// Confirmed сообщает, что статус шлюза означает успешную оплату.
func (n *Notification) Confirmed() bool {
	return n.Status == StatusConfirmed || n.Status == StatusAuthorized
}

// FlexString принимает из JSON как строку, так и число.
type FlexString string

// UnmarshalJSON реализует json.Unmarshaler.
func (s *FlexString) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("payment id: %w", err)
	}
	*s = FlexString(n.String())
	return nil
}

// NewClient создаёт клиент шлюза с ограниченным числом повторов и экспоненциальной задержкой.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.CheckRetry = retryNon2xx
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveledLogger{logger.Named("gateway").Sugar()}

	urls := make(map[string]string)
	if cfg.NotificationURL != "" {
		urls["NotificationURL"] = cfg.NotificationURL
	}
	if cfg.SuccessURL != "" {
		urls["SuccessURL"] = cfg.SuccessURL
	}
	if cfg.FailURL != "" {
		urls["FailURL"] = cfg.FailURL
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		terminalKey: cfg.TerminalKey,
		password:    cfg.Password,
		urls:        urls,
		httpClient:  rc,
	}
}

// retryNon2xx повторяет запрос при сетевой ошибке и любом ответе вне 2xx.
func retryNon2xx(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return resp.StatusCode < 200 || resp.StatusCode >= 300, nil
}

// Init создаёт платёж в шлюзе и возвращает ссылку на платёжную форму.
// Отказ банка (Success=false) не повторяется.
func (c *Client) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	const op = "Init"

	fields := map[string]string{
		"TerminalKey": c.terminalKey,
		"Amount":      strconv.FormatInt(req.Amount, 10),
		"OrderId":     req.OrderID,
	}
	body := map[string]any{
		"TerminalKey": c.terminalKey,
		"Amount":      req.Amount,
		"OrderId":     req.OrderID,
	}
	if req.Description != "" {
		fields["Description"] = req.Description
		body["Description"] = req.Description
	}
	for k, v := range c.urls {
		fields[k] = v
		body[k] = v
	}
	body[tokenField] = Sign(fields, c.password)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &model.GatewayError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, payload)
	if err != nil {
		return nil, &model.GatewayError{Op: op, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		gErr := &model.GatewayError{Op: op, Err: err}
		// После исчерпания повторов последний ответ передаётся вместе с ошибкой.
		if resp != nil {
			gErr.StatusCode = resp.StatusCode
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, gErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &model.GatewayError{Op: op, StatusCode: resp.StatusCode}
	}

	var out InitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &model.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if !out.Success {
		code := out.ErrorCode
		if code == "" {
			code = "UNKNOWN"
		}
		msg := out.Message
		if out.Details != "" {
			msg = strings.TrimSpace(msg + " " + out.Details)
		}
		return nil, &model.GatewayError{Op: op, StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	return &out, nil
}

// VerifyNotification проверяет подпись уведомления по его собственным полям и
// разбирает его. Несовпадение подписи или чужой терминал — model.ErrSignature.
func (c *Client) VerifyNotification(raw []byte) (*Notification, error) {
	fields, err := ScalarFields(raw)
	if err != nil {
		return nil, &model.ValidationError{Field: "payload", Reason: err.Error()}
	}

	if !Verify(fields, c.password) {
		return nil, fmt.Errorf("%w: token", model.ErrSignature)
	}
	if fields["TerminalKey"] != c.terminalKey {
		return nil, fmt.Errorf("%w: terminal key", model.ErrSignature)
	}

	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, &model.ValidationError{Field: "payload", Reason: err.Error()}
	}
	if n.OrderID == "" {
		return nil, &model.ValidationError{Field: "OrderId", Reason: "required"}
	}

	return &n, nil
}

// IsRejected сообщает, что ошибка — явный отказ банка, а не транспортный сбой.
func IsRejected(err error) bool {
	var gErr *model.GatewayError
	return errors.As(err, &gErr) && gErr.Rejected()
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
