package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IMAP_USER", "Support@Helpdesk.test")
	t.Setenv("IMAP_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "support@helpdesk.test", cfg.Ingestion.SystemAddress)
	assert.Equal(t, "helpdesk.test", cfg.Ingestion.MessageIDDomain)
	assert.Equal(t, 4*time.Hour, cfg.Ingestion.SLAWindow())
	assert.Equal(t, 5*time.Minute, cfg.Ingestion.PollLockTTL())
	assert.Equal(t, "Support@Helpdesk.test", cfg.SMTP.Username)
	assert.Equal(t, "secret", cfg.SMTP.Password)
	assert.Equal(t, 5*time.Second, cfg.Mailbox.AuthTimeout())
	assert.Equal(t, "INBOX", cfg.Mailbox.Folder)
	assert.False(t, cfg.Mailbox.Enabled())
	assert.False(t, cfg.SMTP.Enabled())
	assert.Equal(t, 30*time.Second, cfg.SMTP.Timeout())
	assert.True(t, cfg.SMTP.StartTLS)
	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IMAP_HOST", "imap.helpdesk.test")
	t.Setenv("IMAP_USER", "support@helpdesk.test")
	t.Setenv("IMAP_PORT", "143")
	t.Setenv("SYSTEM_EMAIL_ADDRESS", "help@desk.test")
	t.Setenv("MESSAGE_ID_DOMAIN", "mail.desk.test")
	t.Setenv("SLA_WINDOW_MINUTES", "30")
	t.Setenv("IMAP_TLS", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Mailbox.Enabled())
	assert.Equal(t, "imap.helpdesk.test:143", cfg.Mailbox.Addr())
	assert.True(t, cfg.Mailbox.TLS)
	assert.Equal(t, "help@desk.test", cfg.Ingestion.SystemAddress)
	assert.Equal(t, "mail.desk.test", cfg.Ingestion.MessageIDDomain)
	assert.Equal(t, 30*time.Minute, cfg.Ingestion.SLAWindow())
}

func TestValidate(t *testing.T) {
	t.Setenv("SLA_WINDOW_MINUTES", "0")
	t.Setenv("POLL_SCHEDULE", "sometimes")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SLA_WINDOW_MINUTES")
	assert.Contains(t, err.Error(), "POLL_SCHEDULE")
}

func TestInvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")

	_, err := Load()
	require.Error(t, err)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("a@example.com"))
	assert.Equal(t, "localhost", domainOf(""))
	assert.Equal(t, "localhost", domainOf("broken@"))
}
