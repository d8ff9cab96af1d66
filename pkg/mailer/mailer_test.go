package mailer

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindredhq/kindred/pkg/config"
	"github.com/kindredhq/kindred/pkg/observability"
)

func TestLogMailerRecordsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)
	m := NewLogMailer(logger)

	require.NoError(t, m.Send("ada@example.com", "Verify your email", "click here"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ada@example.com", entry["to"])
	assert.Equal(t, "Verify your email", entry["subject"])
}

func TestNewSMTPAddress(t *testing.T) {
	m := NewSMTP(config.MailConfig{SMTPHost: "mail.example.com", SMTPPort: 587, From: "no-reply@example.com"})
	assert.Equal(t, "mail.example.com:587", m.addr)
	assert.Nil(t, m.auth, "no auth without a username")
}
