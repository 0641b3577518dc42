package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
)

type captureSender struct {
	sent []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.sent = append(c.sent, m...)
	return c.err
}

func TestSMTPNotifierSendsPlainText(t *testing.T) {
	sender := &captureSender{}
	n := &SMTPNotifier{dialer: sender, from: "payouts@netcomp.local"}

	err := n.Notify(context.Background(), Message{To: "ana@example.com", Subject: "Withdrawal completed", Body: "done"})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []string{"ana@example.com"}, sender.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"payouts@netcomp.local"}, sender.sent[0].GetHeader("From"))
	assert.Equal(t, []string{"Withdrawal completed"}, sender.sent[0].GetHeader("Subject"))
}

func TestSMTPNotifierWrapsSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("connection refused")}
	n := &SMTPNotifier{dialer: sender, from: "payouts@netcomp.local"}

	err := n.Notify(context.Background(), Message{To: "ana@example.com", Subject: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNotifyRejectsMissingRecipient(t *testing.T) {
	sender := &captureSender{}
	n := &SMTPNotifier{dialer: sender, from: "payouts@netcomp.local"}

	require.Error(t, n.Notify(context.Background(), Message{Subject: "s"}))
	require.Error(t, NewLogNotifier(logger.Nop()).Notify(context.Background(), Message{To: "a@b.c"}))
	assert.Empty(t, sender.sent)
}

func TestNewFallsBackToLogNotifier(t *testing.T) {
	n, err := New(config.SMTPConfig{}, logger.Nop())
	require.NoError(t, err)
	_, ok := n.(*LogNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.Notify(context.Background(), Message{To: "a@b.c", Subject: "hi"}))

	n, err = New(config.SMTPConfig{Host: "smtp.local", Port: 25, From: "x@y.z"}, logger.Nop())
	require.NoError(t, err)
	_, ok = n.(*SMTPNotifier)
	assert.True(t, ok)
}
