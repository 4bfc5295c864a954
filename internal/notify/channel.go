package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Channel delivers outbound text messages to a recipient identity.
// Deliveries are best-effort single shots: failures are reported to the
// caller for logging, never retried here.
type Channel interface {
	Send(ctx context.Context, recipient, body string) error
}

// SendError reports a delivery failure on the messaging channel.
type SendError struct {
	Channel string
	Code    string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s send failed (%s): %v", e.Channel, e.Code, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Config controls channel construction.
type Config struct {
	Mode       string // auto|twilio|mock
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// NewChannel selects a delivery backend. Auto picks Twilio when credentials
// are configured and falls back to the recording mock otherwise.
func NewChannel(cfg Config) (Channel, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.AccountSID) != "" && strings.TrimSpace(cfg.AuthToken) != "" {
			return NewTwilioChannel(cfg)
		}
		return NewMockChannel(), nil
	case "twilio":
		return NewTwilioChannel(cfg)
	case "mock":
		return NewMockChannel(), nil
	default:
		return nil, fmt.Errorf("unsupported notification channel mode %q", cfg.Mode)
	}
}

var errMissingCredentials = errors.New("twilio account SID, auth token and from number are required")
