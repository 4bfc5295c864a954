package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversation state in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			identity TEXT PRIMARY KEY,
			warning_count INT NOT NULL DEFAULT 0,
			blocked BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_turns (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL REFERENCES conversations(identity),
			seq BIGINT GENERATED ALWAYS AS IDENTITY,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_turns_identity_seq ON conversation_turns (identity, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) FindByIdentity(ctx context.Context, identity string) (UserRecord, bool, error) {
	var rec UserRecord
	err := s.pool.QueryRow(ctx,
		`SELECT identity, warning_count, blocked, last_updated_at
		 FROM conversations WHERE identity=$1`,
		identity,
	).Scan(&rec.Identity, &rec.WarningCount, &rec.Blocked, &rec.LastUpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRecord{}, false, nil
	}
	if err != nil {
		return UserRecord{}, false, fmt.Errorf("find conversation: %w", err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Insert(ctx context.Context, record UserRecord, systemTurn Turn) error {
	if systemTurn.ID == "" {
		systemTurn.ID = uuid.NewString()
	}
	if record.LastUpdatedAt.IsZero() {
		record.LastUpdatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (identity, warning_count, blocked, last_updated_at)
		 VALUES ($1, $2, $3, $4)`,
		record.Identity, record.WarningCount, record.Blocked, record.LastUpdatedAt,
	); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_turns (id, identity, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		systemTurn.ID, record.Identity, string(systemTurn.Role), systemTurn.Content, systemTurn.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert system turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateModeration(ctx context.Context, identity string, warningCount int, blocked bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET warning_count=$2, blocked=$3, last_updated_at=now()
		 WHERE identity=$1`,
		identity, warningCount, blocked,
	)
	if err != nil {
		return fmt.Errorf("update moderation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update moderation for %s: %w", identity, ErrIdentityNotFound)
	}
	return nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, identity string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversation_turns (id, identity, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		turn.ID, identity, string(turn.Role), turn.Content, turn.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET last_updated_at=$2 WHERE identity=$1`,
		identity, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("append turn for %s: %w", identity, ErrIdentityNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, identity string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at
		 FROM conversation_turns WHERE identity=$1 ORDER BY seq DESC LIMIT $2`,
		identity, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	turns := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		var role string
		if err := rows.Scan(&t.ID, &role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		t.Role = Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Reverse into chronological order for prompt coherence.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	return turns, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
