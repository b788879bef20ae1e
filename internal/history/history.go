// Package history provides SQLite-based persistence for conversation turns.
// Every turn belongs to a conversation group; the store is the durable side of
// the chat session and is written only once a turn's answer is final.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/ollamachat/internal/logger"
	"github.com/comigor/ollamachat/internal/metrics"
)

// ErrNotFound is returned when a group has no stored turns or a turn does not exist.
var ErrNotFound = errors.New("history: not found")

var schema = []string{`CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    group_id TEXT NOT NULL,
    instruction TEXT,
    question TEXT NOT NULL,
    answer TEXT NOT NULL,
    image TEXT,
    created_at TEXT NOT NULL,
    engine TEXT NOT NULL,
    base_url TEXT
);`,
	`CREATE INDEX IF NOT EXISTS turns_group_created ON turns (group_id, created_at);`,
}

// Store is a single-handle sqlite conversation store. It is safe for
// concurrent use; statements are serialized on one connection.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	lastTS time.Time
	now    func() time.Time
}

// Open opens (creating if needed) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create turns table: %w", err)
		}
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// timestamp returns a strictly increasing UTC timestamp so created_at stays
// unique even when two turns land within the clock's resolution.
func (s *Store) timestamp() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = ts
	return ts.Format(TimestampLayout)
}

// InsertTurn persists a finished turn and returns it with its row id and
// creation timestamp.
func (s *Store) InsertTurn(ctx context.Context, nt NewTurn) (Turn, error) {
	created := s.timestamp()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (group_id, instruction, question, answer, image, created_at, engine, base_url) VALUES (?,?,?,?,?,?,?,?);`,
		nt.GroupID, nt.Instruction, nt.Question, nt.Answer, nt.Image, created, nt.Engine, nt.BaseURL)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert").Inc()
		return Turn{}, fmt.Errorf("insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert").Inc()
		return Turn{}, fmt.Errorf("insert turn id: %w", err)
	}
	logger.L.Debug("stored turn", "group", nt.GroupID, "id", id)
	return Turn{
		ID:          id,
		GroupID:     nt.GroupID,
		Instruction: nt.Instruction,
		Question:    nt.Question,
		Answer:      nt.Answer,
		Image:       nt.Image,
		CreatedAt:   created,
		Engine:      nt.Engine,
		BaseURL:     nt.BaseURL,
	}, nil
}

// TurnsForGroup returns all turns of a group in creation order. A group
// without turns yields ErrNotFound.
func (s *Store) TurnsForGroup(ctx context.Context, groupID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, instruction, question, answer, image, created_at, engine, base_url FROM turns WHERE group_id = ? ORDER BY created_at ASC, id ASC;`,
		groupID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("query").Inc()
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t                           Turn
			instruction, image, baseURL sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.GroupID, &instruction, &t.Question, &t.Answer, &image, &t.CreatedAt, &t.Engine, &baseURL); err != nil {
			metrics.StoreErrors.WithLabelValues("query").Inc()
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Instruction = nullable(instruction)
		t.Image = nullable(image)
		t.BaseURL = nullable(baseURL)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		metrics.StoreErrors.WithLabelValues("query").Inc()
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// AllGroups lists every conversation group, most recently active first.
func (s *Store) AllGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, MAX(created_at) AS last_created, base_url FROM turns GROUP BY group_id ORDER BY last_created DESC;`)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("query").Inc()
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var (
			g       Group
			baseURL sql.NullString
		)
		if err := rows.Scan(&g.GroupID, &g.LastCreated, &baseURL); err != nil {
			metrics.StoreErrors.WithLabelValues("query").Inc()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		g.BaseURL = nullable(baseURL)
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeleteTurn removes the turn of groupID created at createdAt.
func (s *Store) DeleteTurn(ctx context.Context, groupID, createdAt string) error {
	return s.exec(ctx, "delete", `DELETE FROM turns WHERE group_id = ? AND created_at = ?;`, groupID, createdAt)
}

// DeleteTurnByID removes one turn by row id. ErrNotFound is returned when the
// row does not belong to groupID.
func (s *Store) DeleteTurnByID(ctx context.Context, groupID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE group_id = ? AND id = ?;`, groupID, id)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("delete turn %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteGroup removes every turn of a group.
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	return s.exec(ctx, "delete", `DELETE FROM turns WHERE group_id = ?;`, groupID)
}

// DeleteAll empties the store.
func (s *Store) DeleteAll(ctx context.Context) error {
	return s.exec(ctx, "delete", `DELETE FROM turns;`)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		metrics.StoreErrors.WithLabelValues(op).Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
