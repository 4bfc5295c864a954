package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Filter decides whether an inbound message violates content policy.
type Filter interface {
	IsViolation(text string) bool
}

// ManagerConfig controls the moderation policy and the context window.
type ManagerConfig struct {
	SystemPrompt   string
	WindowSize     int
	BlockThreshold int
}

// Manager drives the per-sender moderation state machine. All state lives in
// the store; the manager itself holds no conversation data between requests,
// only a keyed mutex serializing concurrent messages from the same sender so
// that warning-count read-modify-write cycles cannot interleave.
type Manager struct {
	store  Store
	filter Filter
	cfg    ManagerConfig
	log    zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, filter Filter, cfg ManagerConfig, log zerolog.Logger) *Manager {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.BlockThreshold <= 0 {
		cfg.BlockThreshold = 3
	}
	return &Manager{
		store:  store,
		filter: filter,
		cfg:    cfg,
		log:    log,
		locks:  make(map[string]*sync.Mutex),
	}
}

// HandleInbound runs one inbound message through the state machine and
// returns the tagged outcome. On OutcomeReadyForCompletion the user turn is
// already persisted and Outcome.Context holds the trailing window ending
// with it; the caller invokes the completion capability and then
// RecordAssistantReply. Moderation persistence failures are returned as
// errors: losing a warning increment would silently weaken enforcement.
func (m *Manager) HandleInbound(ctx context.Context, rawIdentity, text string) (Outcome, error) {
	identity, err := NormalizeIdentity(rawIdentity)
	if err != nil {
		return Outcome{}, err
	}

	unlock := m.lockIdentity(identity)
	defer unlock()

	rec, ok, err := m.store.FindByIdentity(ctx, identity)
	if err != nil {
		return Outcome{}, fmt.Errorf("load record: %w", err)
	}
	if !ok {
		now := time.Now().UTC()
		rec = UserRecord{Identity: identity, LastUpdatedAt: now}
		systemTurn := Turn{
			ID:        uuid.NewString(),
			Role:      RoleSystem,
			Content:   m.cfg.SystemPrompt,
			CreatedAt: now,
		}
		if err := m.store.Insert(ctx, rec, systemTurn); err != nil {
			return Outcome{}, fmt.Errorf("create record: %w", err)
		}
		m.log.Info().Str("identity", identity).Msg("new sender registered")
	}

	if rec.Blocked {
		return Outcome{Kind: OutcomeBlocked, Identity: identity}, nil
	}

	if m.filter.IsViolation(text) {
		rec.WarningCount++
		newlyBlocked := rec.WarningCount >= m.cfg.BlockThreshold
		if err := m.store.UpdateModeration(ctx, identity, rec.WarningCount, newlyBlocked); err != nil {
			return Outcome{}, fmt.Errorf("persist moderation update: %w", err)
		}
		if newlyBlocked {
			m.log.Warn().Str("identity", identity).Int("warnings", rec.WarningCount).Msg("sender blocked")
			return Outcome{Kind: OutcomeNewlyBlocked, Identity: identity}, nil
		}
		remaining := m.cfg.BlockThreshold - rec.WarningCount
		m.log.Info().Str("identity", identity).Int("remaining", remaining).Msg("sender warned")
		return Outcome{Kind: OutcomeWarned, Identity: identity, Remaining: remaining}, nil
	}

	userTurn := Turn{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendTurn(ctx, identity, userTurn); err != nil {
		return Outcome{}, fmt.Errorf("append user turn: %w", err)
	}

	window, err := m.store.RecentTurns(ctx, identity, m.cfg.WindowSize)
	if err != nil {
		return Outcome{}, fmt.Errorf("load context window: %w", err)
	}

	return Outcome{Kind: OutcomeReadyForCompletion, Identity: identity, Context: window}, nil
}

// RecordAssistantReply appends the generated assistant turn for a sender.
// Identity must be the normalized address from a previous Outcome.
func (m *Manager) RecordAssistantReply(ctx context.Context, identity, reply string) error {
	unlock := m.lockIdentity(identity)
	defer unlock()

	turn := Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   reply,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.AppendTurn(ctx, identity, turn); err != nil {
		return fmt.Errorf("append assistant turn: %w", err)
	}
	return nil
}

// lockIdentity serializes handling per sender. The lock map keeps one mutex
// per distinct identity for the process lifetime; with very large sender
// populations this would need eviction or striped locks.
func (m *Manager) lockIdentity(identity string) func() {
	m.mu.Lock()
	l, ok := m.locks[identity]
	if !ok {
		l = &sync.Mutex{}
		m.locks[identity] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}
