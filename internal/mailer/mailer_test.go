package mailer

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSend_BuildsMessage(t *testing.T) {
	d := &fakeDialer{}
	m := NewWithDialer(d, "noreply@cellrent.example", nil)

	err := m.Send(context.Background(), "client@example.com", "Напоминание", "Срок аренды истекает")
	require.NoError(t, err)
	require.Len(t, d.sent, 1)

	msg := d.sent[0]
	assert.Equal(t, []string{"noreply@cellrent.example"}, msg.GetHeader("From"))
	assert.Equal(t, []string{"client@example.com"}, msg.GetHeader("To"))

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "text/plain")
}

func TestSend_WrapsDialError(t *testing.T) {
	dialErr := errors.New("dial tcp: connection refused")
	m := NewWithDialer(&fakeDialer{err: dialErr}, "noreply@cellrent.example", nil)

	err := m.Send(context.Background(), "client@example.com", "s", "b")
	assert.ErrorIs(t, err, dialErr)
	assert.Contains(t, err.Error(), "client@example.com")
}

func TestSend_CanceledContext(t *testing.T) {
	d := &fakeDialer{}
	m := NewWithDialer(d, "noreply@cellrent.example", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, "client@example.com", "s", "b")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, d.sent)
}

func TestNop_Send(t *testing.T) {
	err := Nop{}.Send(context.Background(), "a@b", "s", "b")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
