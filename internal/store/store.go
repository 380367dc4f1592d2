package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bidi-pilot/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// schemaStatements create the transcript tables. Each is idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
        id UUID PRIMARY KEY,
        start_url TEXT NOT NULL,
        instruction TEXT NOT NULL,
        started_at TIMESTAMPTZ NOT NULL
    );`,
	`CREATE TABLE IF NOT EXISTS chat_turns (
        conversation_id UUID NOT NULL REFERENCES conversations (id),
        seq INTEGER NOT NULL,
        question TEXT NOT NULL,
        image_count INTEGER NOT NULL,
        answer TEXT NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (conversation_id, seq)
    );`,
	`CREATE TABLE IF NOT EXISTS input_events (
        conversation_id UUID NOT NULL REFERENCES conversations (id),
        seq INTEGER NOT NULL,
        kind TEXT NOT NULL,
        name TEXT NOT NULL,
        detail JSONB NOT NULL,
        created_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (conversation_id, seq)
    );`,
}

const (
	sqlInsertConversation = `
        INSERT INTO conversations (id, start_url, instruction, started_at)
        VALUES ($1, $2, $3, $4);
    `
	sqlInsertTurn = `
        INSERT INTO chat_turns (conversation_id, seq, question, image_count, answer, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlInsertEvent = `
        INSERT INTO input_events (conversation_id, seq, kind, name, detail, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	sqlSelectTurns = `
        SELECT seq, question, image_count, answer, created_at
        FROM chat_turns
        WHERE conversation_id = $1
        ORDER BY seq ASC;
    `
)

// Event kinds recorded in input_events.
const (
	KindAction        = "action"
	KindAssertionOK   = "assertion_ok"
	KindAssertionFail = "assertion_fail"
)

// Turn is one recorded question and answer.
type Turn struct {
	Seq        int
	Question   string
	ImageCount int
	Answer     string
	CreatedAt  time.Time
}

// Store persists conversation transcripts in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

// EnsureSchema creates the transcript tables in one transaction.
func (s *Store) EnsureSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	for _, stmt := range schemaStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// StartConversation records a new conversation and returns a recorder for it.
func (s *Store) StartConversation(ctx context.Context, startURL, instruction string) (*Recorder, error) {
	id := uuid.New()
	if _, err := s.pool.Exec(ctx, sqlInsertConversation, id, startURL, instruction, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	return &Recorder{
		store: s,
		id:    id,
		log:   s.log.With(zap.String("conversation_id", id.String())),
	}, nil
}

// Transcript returns the recorded turns of a conversation in order.
func (s *Store) Transcript(ctx context.Context, conversationID uuid.UUID) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, sqlSelectTurns, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Seq, &t.Question, &t.ImageCount, &t.Answer, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return turns, nil
}

// Recorder writes one conversation's chat turns and input events as they happen.
// It is both a chat observer and an input tool observer. Write failures are logged, never
// returned, so a database outage cannot stop a run.
type Recorder struct {
	store *Store
	id    uuid.UUID
	log   *zap.Logger

	mu       sync.Mutex
	turnSeq  int
	eventSeq int
}

// ID returns the conversation id.
func (r *Recorder) ID() uuid.UUID { return r.id }

func (r *Recorder) nextTurn() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turnSeq++
	return r.turnSeq
}

func (r *Recorder) nextEvent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventSeq++
	return r.eventSeq
}

// -- Chat observer --

func (r *Recorder) OnChatStart(context.Context) {}

func (r *Recorder) OnChatQuestion(context.Context, schemas.ChatMessage) {}

func (r *Recorder) OnChatAnswer(context.Context, string) {}

func (r *Recorder) OnChatConversation(ctx context.Context, question schemas.ChatMessage, answer string) {
	seq := r.nextTurn()
	_, err := r.store.pool.Exec(ctx, sqlInsertTurn, r.id, seq, question.Text, len(question.Images), answer, time.Now().UTC())
	if err != nil {
		r.log.Error("Failed to record chat turn", zap.Int("seq", seq), zap.Error(err))
	}
}

// -- Input tool observer --

func (r *Recorder) OnActionStart(ctx context.Context, ev schemas.ActionEvent) {
	detail, err := json.Marshal(ev.Params)
	if err != nil || ev.Params == nil {
		detail = []byte("{}")
	}
	r.recordEvent(ctx, KindAction, ev.Action, detail)
}

func (r *Recorder) OnAssertionOK(ctx context.Context, description string) {
	r.recordEvent(ctx, KindAssertionOK, description, []byte("{}"))
}

func (r *Recorder) OnAssertionFail(ctx context.Context, description string) {
	r.recordEvent(ctx, KindAssertionFail, description, []byte("{}"))
}

func (r *Recorder) recordEvent(ctx context.Context, kind, name string, detail []byte) {
	seq := r.nextEvent()
	_, err := r.store.pool.Exec(ctx, sqlInsertEvent, r.id, seq, kind, name, detail, time.Now().UTC())
	if err != nil {
		r.log.Error("Failed to record input event", zap.String("kind", kind), zap.Int("seq", seq), zap.Error(err))
	}
}
