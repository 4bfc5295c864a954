package conversation

import "time"

// Role identifies who produced a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single message unit in a sender's conversation.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// UserRecord is the durable moderation state for one sender identity.
// The conversational turns themselves are persisted alongside the record
// and retrieved as a trailing window, never mutated in place.
type UserRecord struct {
	Identity      string    `json:"identity"`
	WarningCount  int       `json:"warning_count"`
	Blocked       bool      `json:"blocked"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// OutcomeKind tags the result of handling one inbound message.
type OutcomeKind string

const (
	// OutcomeBlocked means the sender was already blocked; nothing was
	// persisted and no completion may be attempted.
	OutcomeBlocked OutcomeKind = "blocked"
	// OutcomeNewlyBlocked means this message crossed the block threshold.
	OutcomeNewlyBlocked OutcomeKind = "newly_blocked"
	// OutcomeWarned means the message violated policy but the sender still
	// has Remaining chances before being blocked.
	OutcomeWarned OutcomeKind = "warned"
	// OutcomeReadyForCompletion means the message was clean, the user turn
	// is persisted, and Context holds the window for the completion call.
	OutcomeReadyForCompletion OutcomeKind = "ready_for_completion"
)

// Outcome is the tagged result of Manager.HandleInbound. Identity is always
// the normalized sender address; Remaining and Context are populated only
// for the kinds documented above.
type Outcome struct {
	Kind      OutcomeKind
	Identity  string
	Remaining int
	Context   []Turn
}
