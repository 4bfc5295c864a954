package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/planifyhq/relay/internal/conversation"
)

// Adapter generates the next assistant reply from an ordered turn context.
type Adapter interface {
	Complete(ctx context.Context, turns []conversation.Turn) (string, error)
}

// ProviderError reports a downstream completion failure. Code is a stable
// label suitable for metrics (network, timeout, http_status_NNN,
// malformed_response).
type ProviderError struct {
	Provider string
	Code     string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s completion failed (%s): %v", e.Provider, e.Code, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Config controls adapter construction.
type Config struct {
	Mode      string // auto|openai|mock
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// NewAdapter selects a completion backend. Auto picks OpenAI when an API
// key is configured and falls back to the deterministic mock otherwise.
func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewOpenAIAdapter(cfg), nil
		}
		return NewMockAdapter(), nil
	case "openai":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("completion API key is required for openai mode")
		}
		return NewOpenAIAdapter(cfg), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported completion adapter mode %q", cfg.Mode)
	}
}
