package notifier

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/keyvault/internal/core/domain"
)

func sampleDelivery() domain.KeyDelivery {
	return domain.KeyDelivery{
		OrderID: "o1",
		Email:   "buyer@example.com",
		Allocations: []domain.Allocation{
			{ProductID: "sku-1", Description: "Pro license", Keys: []string{"K3", "K2"}},
			{ProductID: "sku-2", Keys: []string{"B1"}},
		},
	}
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("shop@example.com", sampleDelivery()))

	headers, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.Contains(t, headers, "To: buyer@example.com")
	assert.Contains(t, headers, "Subject: Your license keys for order o1")
	assert.Contains(t, body, "Pro license:\r\n  K3\r\n  K2\r\n")
	assert.Contains(t, body, "sku-2:\r\n  B1\r\n")
}

func TestSMTPMailer_Misconfigured(t *testing.T) {
	ctx := context.Background()

	err := NewSMTPMailer(SMTPConfig{}).NotifyKeys(ctx, sampleDelivery())
	assert.ErrorContains(t, err, "host not configured")

	err = NewSMTPMailer(SMTPConfig{Host: "localhost", Port: "25"}).NotifyKeys(ctx, sampleDelivery())
	assert.ErrorContains(t, err, "from not configured")

	d := sampleDelivery()
	d.Email = ""
	err = NewSMTPMailer(SMTPConfig{Host: "localhost", Port: "25", From: "shop@example.com"}).NotifyKeys(ctx, d)
	assert.ErrorContains(t, err, "no recipient")
}

func TestLogNotifier_DoesNotLogKeys(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, NewLogNotifier(log).NotifyKeys(context.Background(), sampleDelivery()))

	out := buf.String()
	assert.Contains(t, out, `"order_id":"o1"`)
	assert.Contains(t, out, `"product_id":"sku-1"`)
	assert.NotContains(t, out, "K3")
}
