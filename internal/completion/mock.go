package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/planifyhq/relay/internal/conversation"
)

// MockAdapter provides deterministic local replies when no completion
// backend is configured.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Complete(_ context.Context, turns []conversation.Turn) (string, error) {
	last := ""
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == conversation.RoleUser {
			last = strings.TrimSpace(turns[i].Content)
			break
		}
	}
	if last == "" {
		return "Hola, soy Planify. ¿En qué puedo ayudarte hoy?", nil
	}
	return fmt.Sprintf("Entendido: %s", last), nil
}
