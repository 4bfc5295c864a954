package conversation

import (
	"context"
	"errors"
)

// ErrIdentityNotFound reports a write against a sender that has no record.
var ErrIdentityNotFound = errors.New("identity not found")

// Store persists per-identity conversation and moderation state. Each write
// method must be atomic for its identity: the warning counter and block flag
// are the sole enforcement mechanism, so a torn or lost moderation update is
// a policy violation rather than a transient nuisance.
type Store interface {
	// FindByIdentity returns the record for identity, or ok=false when the
	// sender has never been seen.
	FindByIdentity(ctx context.Context, identity string) (UserRecord, bool, error)
	// Insert creates a new record together with its initial system turn.
	Insert(ctx context.Context, record UserRecord, systemTurn Turn) error
	// UpdateModeration persists the warning counter and block flag and
	// advances the record's update time.
	UpdateModeration(ctx context.Context, identity string, warningCount int, blocked bool) error
	// AppendTurn appends one turn to the identity's conversation and
	// advances the record's update time.
	AppendTurn(ctx context.Context, identity string, turn Turn) error
	// RecentTurns returns up to limit trailing turns in chronological order.
	RecentTurns(ctx context.Context, identity string, limit int) ([]Turn, error)
	Close() error
}
