package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dharshni15/job/internal/notifications"
)

func TestNewSender_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:    "missing host",
			config:  Config{FromAddress: "no-reply@example.com"},
			wantErr: "host is required",
		},
		{
			name:    "missing from address",
			config:  Config{Host: "smtp.example.com"},
			wantErr: "from address is required",
		},
		{
			name:   "valid config",
			config: Config{Host: "smtp.example.com", FromAddress: "no-reply@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, err := NewSender(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, sender)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, sender)
			}
		})
	}
}

func TestNewSender_Defaults(t *testing.T) {
	sender, err := NewSender(Config{
		Host:        "smtp.example.com",
		FromAddress: "no-reply@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, 587, sender.config.Port)
	assert.NotZero(t, sender.config.DialTimeout)
	assert.Nil(t, sender.auth, "no credentials, no auth")
}

func TestNewSender_AuthSetup(t *testing.T) {
	sender, err := NewSender(Config{
		Host:        "smtp.example.com",
		FromAddress: "no-reply@example.com",
		User:        "user",
		Password:    "pass",
	})
	require.NoError(t, err)
	assert.NotNil(t, sender.auth)
}

func TestSender_BuildMessage(t *testing.T) {
	sender, err := NewSender(Config{
		Host:        "smtp.example.com",
		FromAddress: "Job Portal <no-reply@example.com>",
	})
	require.NoError(t, err)

	raw := string(sender.buildMessage("<id-1@example.com>", notifications.Message{
		To:      "user@example.com",
		Subject: "New job match",
		HTML:    "<p>A role for you</p>",
		Text:    "A role for you",
	}))

	assert.Contains(t, raw, "From: Job Portal <no-reply@example.com>\r\n")
	assert.Contains(t, raw, "To: user@example.com\r\n")
	assert.Contains(t, raw, "Subject: New job match\r\n")
	assert.Contains(t, raw, "Message-ID: <id-1@example.com>\r\n")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
	assert.Contains(t, raw, "<p>A role for you</p>")
}

func TestSender_BuildMessage_EncodesSubject(t *testing.T) {
	sender, err := NewSender(Config{
		Host:        "smtp.example.com",
		FromAddress: "no-reply@example.com",
	})
	require.NoError(t, err)

	raw := string(sender.buildMessage("<id-2@example.com>", notifications.Message{
		To:      "user@example.com",
		Subject: "Été — offres d'emploi",
		Text:    "bonjour",
	}))

	assert.Contains(t, raw, "Subject: =?utf-8?q?")
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"user@example.com", "user@example.com"},
		{"Job Portal <no-reply@example.com>", "no-reply@example.com"},
		{"Broken <no-reply@example.com", "Broken <no-reply@example.com"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, extractEmail(tt.in))
	}
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("Job Portal <no-reply@example.com>"))
	assert.Equal(t, "example.com", domainOf("user@example.com"))
	assert.Equal(t, "localhost", domainOf("not-an-address"))
}
