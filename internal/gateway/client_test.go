package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/cellrent/internal/model"
)

const (
	testTerminal = "TinkoffBankTest"
	testPassword = "secret-password"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:      url,
		TerminalKey:  testTerminal,
		Password:     testPassword,
		Timeout:      time.Second,
		RetryMax:     2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}, nil)
}

func TestInit_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/Init" {
			t.Fatalf("path = %s, want /Init", r.URL.Path)
		}

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		assert.Equal(t, testTerminal, body["TerminalKey"])
		assert.Equal(t, float64(100000), body["Amount"])
		assert.Equal(t, "order-1", body["OrderId"])
		assert.Equal(t, "cell rent", body["Description"])

		want := Sign(map[string]string{
			"TerminalKey": testTerminal,
			"Amount":      "100000",
			"OrderId":     "order-1",
			"Description": "cell rent",
		}, testPassword)
		assert.Equal(t, want, body["Token"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Success":true,"ErrorCode":"0","Status":"NEW","PaymentId":3093639567,"OrderId":"order-1","Amount":100000,"PaymentURL":"https://pay.example/3093639567"}`))
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := newTestClient(ts.URL).Init(ctx, InitRequest{Amount: 100000, OrderID: "order-1", Description: "cell rent"})
	require.NoError(t, err)
	assert.Equal(t, FlexString("3093639567"), res.PaymentID)
	assert.Equal(t, "https://pay.example/3093639567", res.PaymentURL)
}

func TestInit_RejectionIsNotRetried(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(`{"Success":false,"ErrorCode":"204","Message":"Неверный токен","Details":"check password"}`))
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Init(context.Background(), InitRequest{Amount: 100000, OrderID: "order-1"})

	var gErr *model.GatewayError
	require.True(t, errors.As(err, &gErr), "expected GatewayError, got %v", err)
	assert.Equal(t, "204", gErr.Code)
	assert.Contains(t, gErr.Message, "check password")
	assert.True(t, IsRejected(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestInit_RetriesTransientFailure(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"Success":true,"PaymentId":"42","PaymentURL":"https://pay.example/42"}`))
	}))
	defer ts.Close()

	res, err := newTestClient(ts.URL).Init(context.Background(), InitRequest{Amount: 100000, OrderID: "order-1"})
	require.NoError(t, err)
	assert.Equal(t, FlexString("42"), res.PaymentID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestInit_GivesUpAfterRetries(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	_, err := newTestClient(ts.URL).Init(context.Background(), InitRequest{Amount: 100000, OrderID: "order-1"})

	var gErr *model.GatewayError
	require.True(t, errors.As(err, &gErr), "expected GatewayError, got %v", err)
	assert.Equal(t, http.StatusBadRequest, gErr.StatusCode)
	assert.False(t, gErr.Rejected())
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestInit_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	_, err := newTestClient(url).Init(context.Background(), InitRequest{Amount: 100000, OrderID: "order-1"})

	var gErr *model.GatewayError
	require.True(t, errors.As(err, &gErr), "expected GatewayError, got %v", err)
	assert.Error(t, gErr.Err)
}

func TestVerifyNotification(t *testing.T) {
	c := newTestClient("http://unused")

	fields := map[string]string{
		"TerminalKey": testTerminal,
		"OrderId":     "order-1",
		"Success":     "true",
		"Status":      "CONFIRMED",
		"PaymentId":   "pay_12345",
		"ErrorCode":   "0",
		"Amount":      "100000",
	}
	token := Sign(fields, testPassword)

	raw := []byte(`{"TerminalKey":"TinkoffBankTest","OrderId":"order-1","Success":true,"Status":"CONFIRMED",` +
		`"PaymentId":"pay_12345","ErrorCode":"0","Amount":100000,"Data":{"x":"y"},"Token":"` + token + `"}`)

	n, err := c.VerifyNotification(raw)
	require.NoError(t, err)
	assert.Equal(t, "order-1", n.OrderID)
	assert.Equal(t, FlexString("pay_12345"), n.PaymentID)
	assert.True(t, n.Confirmed())

	tampered := []byte(`{"TerminalKey":"TinkoffBankTest","OrderId":"order-1","Success":true,"Status":"CONFIRMED",` +
		`"PaymentId":"pay_12345","ErrorCode":"0","Amount":900000,"Token":"` + token + `"}`)
	_, err = c.VerifyNotification(tampered)
	assert.ErrorIs(t, err, model.ErrSignature)

	_, err = c.VerifyNotification([]byte(`not json`))
	var vErr *model.ValidationError
	assert.True(t, errors.As(err, &vErr), "expected ValidationError, got %v", err)
}

func TestVerifyNotification_ForeignTerminal(t *testing.T) {
	c := newTestClient("http://unused")

	fields := map[string]string{"TerminalKey": "other", "OrderId": "order-1", "Status": "CONFIRMED"}
	raw, err := json.Marshal(map[string]string{
		"TerminalKey": "other",
		"OrderId":     "order-1",
		"Status":      "CONFIRMED",
		"Token":       Sign(fields, testPassword),
	})
	require.NoError(t, err)

	_, err = c.VerifyNotification(raw)
	assert.ErrorIs(t, err, model.ErrSignature)
}
