package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/auracap/internal/types"
)

const callColumns = `id, tab_id, remote_call_id, source, kind, scope, operation_name, display_name,
	request_payload, response_payload, state, errors, requested_at, responded_at`

// Observer is notified after a call row is inserted or completed.
type Observer func(call types.CapturedCall)

// Store is the durable log of captured calls plus the settings table.
type Store struct {
	db *sql.DB

	mu        sync.RWMutex
	retention func() int
	observers []Observer
}

// Open opens (or creates) the SQLite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetRetention installs the function consulted for the retained-call limit.
// A nil function or a non-positive limit disables trimming.
func (s *Store) SetRetention(fn func() int) {
	s.mu.Lock()
	s.retention = fn
	s.mu.Unlock()
}

// AddObserver registers fn to be called after every successful write.
func (s *Store) AddObserver(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Put inserts a new call. Retention trimming runs afterwards and never fails
// the insert.
func (s *Store) Put(ctx context.Context, call *types.CapturedCall) error {
	if call == nil || strings.TrimSpace(call.ID) == "" {
		return types.NewError(types.CodeValidation, "call id is required", nil)
	}
	if call.State == "" {
		call.State = types.CallPending
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO api_calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.OriginTab, call.RemoteCallID, string(call.Source), call.Kind,
		call.Scope, call.OperationName, call.DisplayName,
		nullableJSON(call.RequestPayload), nullableJSON(call.ResponsePayload),
		string(call.State), nullableJSON(call.Errors), call.RequestedAt, call.RespondedAt)
	if err != nil {
		return types.NewError(types.CodeStorage, "insert call", err)
	}

	s.trimAfterWrite(ctx)
	s.notify(*call)
	return nil
}

// Complete transitions a PENDING call to its terminal state. It reports
// false without error when the call had already settled, and a NOT_FOUND
// error when no call has that id.
func (s *Store) Complete(ctx context.Context, id string, c types.CallCompletion) (bool, error) {
	if !c.State.Terminal() {
		return false, types.NewError(types.CodeValidation, fmt.Sprintf("invalid terminal state %q", c.State), nil)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE api_calls
		SET remote_call_id = ?, state = ?, response_payload = ?, errors = ?,
			responded_at = MAX(?, requested_at)
		WHERE id = ? AND state = 'PENDING'`,
		c.RemoteCallID, string(c.State), nullableJSON(c.ResponsePayload), nullableJSON(c.Errors),
		c.RespondedAt, id)
	if err != nil {
		return false, types.NewError(types.CodeStorage, "complete call", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, types.NewError(types.CodeStorage, "complete call", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}

	s.trimAfterWrite(ctx)
	if call, err := s.Get(ctx, id); err == nil {
		s.notify(*call)
	}
	return true, nil
}

// Get returns one call by id.
func (s *Store) Get(ctx context.Context, id string) (*types.CapturedCall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM api_calls WHERE id = ?`, id)
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.CodeNotFound, "call "+id+" not found", nil)
	}
	if err != nil {
		return nil, types.NewError(types.CodeStorage, "get call", err)
	}
	return call, nil
}

// ListByTab returns the calls of one tab, newest first.
func (s *Store) ListByTab(ctx context.Context, tabID string) ([]types.CapturedCall, error) {
	return s.list(ctx, `SELECT `+callColumns+` FROM api_calls WHERE tab_id = ?
		ORDER BY requested_at DESC, rowid DESC`, tabID)
}

// ListAll returns all calls across tabs, newest first.
func (s *Store) ListAll(ctx context.Context) ([]types.CapturedCall, error) {
	return s.list(ctx, `SELECT `+callColumns+` FROM api_calls ORDER BY requested_at DESC, rowid DESC`)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]types.CapturedCall, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.NewError(types.CodeStorage, "list calls", err)
	}
	defer rows.Close()

	calls := make([]types.CapturedCall, 0)
	for rows.Next() {
		call, err := scanCall(rows)
		if err != nil {
			return nil, types.NewError(types.CodeStorage, "scan call", err)
		}
		calls = append(calls, *call)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewError(types.CodeStorage, "list calls", err)
	}
	return calls, nil
}

// DeleteByIDs removes the given calls and returns how many were deleted.
func (s *Store) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return s.exec(ctx, "delete calls", `DELETE FROM api_calls WHERE id IN (`+placeholders+`)`, args...)
}

// ClearByTab removes every call of one tab.
func (s *Store) ClearByTab(ctx context.Context, tabID string) (int64, error) {
	return s.exec(ctx, "clear tab calls", `DELETE FROM api_calls WHERE tab_id = ?`, tabID)
}

// ClearAll removes every call.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	return s.exec(ctx, "clear calls", `DELETE FROM api_calls`)
}

// Count returns the number of stored calls.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_calls`).Scan(&n); err != nil {
		return 0, types.NewError(types.CodeStorage, "count calls", err)
	}
	return n, nil
}

// Trim deletes the oldest calls by requested_at until at most max remain.
// Concurrent trims may briefly over- or under-shoot; the next write converges.
func (s *Store) Trim(ctx context.Context, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	count, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	excess := count - max
	if excess <= 0 {
		return 0, nil
	}
	return s.exec(ctx, "trim calls", `DELETE FROM api_calls WHERE id IN (
		SELECT id FROM api_calls ORDER BY requested_at ASC, rowid ASC LIMIT ?)`, excess)
}

func (s *Store) trimAfterWrite(ctx context.Context) {
	s.mu.RLock()
	retention := s.retention
	s.mu.RUnlock()
	if retention == nil {
		return
	}

	// Trimming is housekeeping: it must not fail or be cancelled with the write.
	trimCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	n, err := s.Trim(trimCtx, retention())
	if err != nil {
		slog.Warn("retention trim failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("retention trimmed calls", "deleted", n)
	}
}

func (s *Store) notify(call types.CapturedCall) {
	s.mu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(call)
	}
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, types.NewError(types.CodeStorage, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, types.NewError(types.CodeStorage, op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*types.CapturedCall, error) {
	var (
		call                         types.CapturedCall
		source, state                string
		reqPayload, resPayload, errs sql.NullString
	)
	if err := row.Scan(&call.ID, &call.OriginTab, &call.RemoteCallID, &source, &call.Kind,
		&call.Scope, &call.OperationName, &call.DisplayName,
		&reqPayload, &resPayload, &state, &errs, &call.RequestedAt, &call.RespondedAt); err != nil {
		return nil, err
	}
	call.Source = types.CallSource(source)
	call.State = types.CallState(state)
	call.RequestPayload = rawOrNil(reqPayload)
	call.ResponsePayload = rawOrNil(resPayload)
	call.Errors = rawOrNil(errs)
	return &call, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}
