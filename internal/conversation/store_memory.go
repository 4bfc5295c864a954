package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*UserRecord
	turns   map[string][]Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*UserRecord),
		turns:   make(map[string][]Turn),
	}
}

func (s *InMemoryStore) FindByIdentity(_ context.Context, identity string) (UserRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[identity]
	if !ok {
		return UserRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *InMemoryStore) Insert(_ context.Context, record UserRecord, systemTurn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Identity]; ok {
		return fmt.Errorf("insert %s: identity already exists", record.Identity)
	}
	if systemTurn.ID == "" {
		systemTurn.ID = uuid.NewString()
	}
	if record.LastUpdatedAt.IsZero() {
		record.LastUpdatedAt = time.Now().UTC()
	}
	rec := record
	s.records[record.Identity] = &rec
	s.turns[record.Identity] = []Turn{systemTurn}
	return nil
}

func (s *InMemoryStore) UpdateModeration(_ context.Context, identity string, warningCount int, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return fmt.Errorf("update moderation for %s: %w", identity, ErrIdentityNotFound)
	}
	rec.WarningCount = warningCount
	rec.Blocked = blocked
	rec.LastUpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, identity string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[identity]
	if !ok {
		return fmt.Errorf("append turn for %s: %w", identity, ErrIdentityNotFound)
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	s.turns[identity] = append(s.turns[identity], turn)
	rec.LastUpdatedAt = turn.CreatedAt
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, identity string, limit int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[identity]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Turn, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
