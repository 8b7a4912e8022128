// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a durable backend.Backend implementation for
// single-node deployments, using the pure-Go modernc.org/sqlite driver so
// the binary stays cgo-free.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/workflowc/compiler/internal/controller/backend"
	cerrors "github.com/workflowc/compiler/pkg/errors"
	_ "modernc.org/sqlite"
)

var _ backend.Backend = (*Backend)(nil)

// Backend is a SQLite-backed implementation of backend.Backend.
type Backend struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens (creating if absent) a SQLite database at cfg.Path, configures
// pragmas, and runs migrations.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes; a single connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			payload BLOB,
			execution_state BLOB,
			results TEXT,
			start_time TEXT,
			end_time TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status)`,
		`CREATE TABLE IF NOT EXISTS process_chains (
			id TEXT PRIMARY KEY,
			submission_id TEXT NOT NULL,
			payload BLOB NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			results TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (submission_id) REFERENCES submissions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_process_chains_submission_id ON process_chains(submission_id)`,
		`CREATE INDEX IF NOT EXISTS idx_process_chains_status ON process_chains(submission_id, status)`,
		`CREATE TABLE IF NOT EXISTS services (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS output_adapters (
			data_type TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS leases (
			name TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

func (b *Backend) FetchNext(ctx context.Context, fromStatus, toStatus string) (*backend.Submission, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "fetchNext.begin", Cause: err}
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `SELECT id FROM submissions WHERE status = ? LIMIT 1`, fromStatus).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "fetchNext.select", Cause: err}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE submissions SET status = ? WHERE id = ?`, toStatus, id); err != nil {
		return nil, &cerrors.TransientIOError{Op: "fetchNext.update", Cause: err}
	}

	s, err := scanSubmission(tx.QueryRowContext(ctx, submissionSelect+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, &cerrors.TransientIOError{Op: "fetchNext.commit", Cause: err}
	}
	return s, nil
}

const submissionSelect = `SELECT id, status, payload, execution_state, results, start_time, end_time, created_at FROM submissions`

func scanSubmission(row *sql.Row) (*backend.Submission, error) {
	var s backend.Submission
	var resultsJSON sql.NullString
	var startTime, endTime sql.NullString
	var createdAt string

	err := row.Scan(&s.ID, &s.Status, &s.Payload, &s.ExecutionState, &resultsJSON, &startTime, &endTime, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "scanSubmission", Cause: err}
	}

	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &s.Results); err != nil {
			return nil, &cerrors.TransientIOError{Op: "scanSubmission.unmarshalResults", Cause: err}
		}
	}
	if startTime.Valid {
		t, _ := time.Parse(time.RFC3339, startTime.String)
		s.StartTime = &t
	}
	if endTime.Valid {
		t, _ := time.Parse(time.RFC3339, endTime.String)
		s.EndTime = &t
	}
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &s, nil
}

func (b *Backend) FindById(ctx context.Context, id string) (*backend.Submission, error) {
	s, err := scanSubmission(b.db.QueryRowContext(ctx, submissionSelect+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	return s, nil
}

func (b *Backend) FindIdsByStatus(ctx context.Context, status string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id FROM submissions WHERE status = ?`, status)
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "findIdsByStatus", Cause: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &cerrors.TransientIOError{Op: "findIdsByStatus.scan", Cause: err}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (b *Backend) GetStatus(ctx context.Context, id string) (string, error) {
	var status string
	err := b.db.QueryRowContext(ctx, `SELECT status FROM submissions WHERE id = ?`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	if err != nil {
		return "", &cerrors.TransientIOError{Op: "getStatus", Cause: err}
	}
	return status, nil
}

func (b *Backend) SetStatus(ctx context.Context, id, status string) error {
	return b.mustAffectRow(ctx, "submission", id,
		`UPDATE submissions SET status = ? WHERE id = ?`, status, id)
}

func (b *Backend) SetStartTime(ctx context.Context, id string, t time.Time) error {
	return b.mustAffectRow(ctx, "submission", id,
		`UPDATE submissions SET start_time = ? WHERE id = ?`, t.Format(time.RFC3339), id)
}

func (b *Backend) SetEndTime(ctx context.Context, id string, t time.Time) error {
	return b.mustAffectRow(ctx, "submission", id,
		`UPDATE submissions SET end_time = ? WHERE id = ?`, t.Format(time.RFC3339), id)
}

func (b *Backend) GetExecutionState(ctx context.Context, id string) ([]byte, error) {
	var state []byte
	err := b.db.QueryRowContext(ctx, `SELECT execution_state FROM submissions WHERE id = ?`, id).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, &cerrors.NotFoundError{Resource: "submission", ID: id}
	}
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "getExecutionState", Cause: err}
	}
	return state, nil
}

func (b *Backend) SetExecutionState(ctx context.Context, id string, state []byte) error {
	return b.mustAffectRow(ctx, "submission", id,
		`UPDATE submissions SET execution_state = ? WHERE id = ?`, state, id)
}

func (b *Backend) SetResults(ctx context.Context, id string, results map[string][]any) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return &cerrors.TransientIOError{Op: "setResults.marshal", Cause: err}
	}
	return b.mustAffectRow(ctx, "submission", id,
		`UPDATE submissions SET results = ? WHERE id = ?`, string(payload), id)
}

// PutSubmission inserts or replaces a submission; used by the CLI's submit
// command.
func (b *Backend) PutSubmission(ctx context.Context, s *backend.Submission) error {
	resultsJSON, err := json.Marshal(s.Results)
	if err != nil {
		return &cerrors.TransientIOError{Op: "putSubmission.marshal", Cause: err}
	}
	createdAt := s.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO submissions (id, status, payload, execution_state, results, start_time, end_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			execution_state = excluded.execution_state,
			results = excluded.results,
			start_time = excluded.start_time,
			end_time = excluded.end_time
	`, s.ID, s.Status, s.Payload, s.ExecutionState, string(resultsJSON), formatTime(s.StartTime), formatTime(s.EndTime), createdAt.Format(time.RFC3339))
	if err != nil {
		return &cerrors.TransientIOError{Op: "putSubmission", Cause: err}
	}
	return nil
}

func (b *Backend) AddProcessChains(ctx context.Context, submissionId string, chains []backend.ProcessChainRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &cerrors.TransientIOError{Op: "addProcessChains.begin", Cause: err}
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)
	for _, pc := range chains {
		status := pc.Status
		if status == "" {
			status = backend.PCStatusRegistered
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO process_chains (id, submission_id, payload, status, error_message, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, pc.Id, submissionId, pc.Payload, status, nullString(pc.ErrorMessage), now); err != nil {
			return &cerrors.TransientIOError{Op: "addProcessChains.insert", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &cerrors.TransientIOError{Op: "addProcessChains.commit", Cause: err}
	}
	return nil
}

func (b *Backend) FindBySubmissionId(ctx context.Context, submissionId string) ([]backend.ProcessChainRecord, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, submission_id, payload, status, error_message, results, created_at
		FROM process_chains WHERE submission_id = ?
	`, submissionId)
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "findBySubmissionId", Cause: err}
	}
	defer rows.Close()

	var out []backend.ProcessChainRecord
	for rows.Next() {
		pc, err := scanProcessChainRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, nil
}

func scanProcessChainRow(rows *sql.Rows) (backend.ProcessChainRecord, error) {
	var pc backend.ProcessChainRecord
	var errorMessage, resultsJSON sql.NullString
	var createdAt string

	if err := rows.Scan(&pc.Id, &pc.SubmissionId, &pc.Payload, &pc.Status, &errorMessage, &resultsJSON, &createdAt); err != nil {
		return pc, &cerrors.TransientIOError{Op: "scanProcessChain", Cause: err}
	}
	if errorMessage.Valid {
		pc.ErrorMessage = errorMessage.String
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		if err := json.Unmarshal([]byte(resultsJSON.String), &pc.Results); err != nil {
			return pc, &cerrors.TransientIOError{Op: "scanProcessChain.unmarshalResults", Cause: err}
		}
	}
	pc.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return pc, nil
}

func (b *Backend) CountByStatus(ctx context.Context, submissionId, status string) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM process_chains WHERE submission_id = ? AND status = ?
	`, submissionId, status).Scan(&count)
	if err != nil {
		return 0, &cerrors.TransientIOError{Op: "countByStatus", Cause: err}
	}
	return count, nil
}

func (b *Backend) FindStatusesBySubmissionId(ctx context.Context, submissionId string) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, status FROM process_chains WHERE submission_id = ?
	`, submissionId)
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "findStatusesBySubmissionId", Cause: err}
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, &cerrors.TransientIOError{Op: "findStatusesBySubmissionId.scan", Cause: err}
		}
		out[id] = status
	}
	return out, nil
}

func (b *Backend) GetResults(ctx context.Context, pcId string) (map[string][]any, error) {
	var resultsJSON sql.NullString
	err := b.db.QueryRowContext(ctx, `SELECT results FROM process_chains WHERE id = ?`, pcId).Scan(&resultsJSON)
	if err == sql.ErrNoRows {
		return nil, &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "getResults", Cause: err}
	}
	if !resultsJSON.Valid || resultsJSON.String == "" {
		return nil, nil
	}
	var results map[string][]any
	if err := json.Unmarshal([]byte(resultsJSON.String), &results); err != nil {
		return nil, &cerrors.TransientIOError{Op: "getResults.unmarshal", Cause: err}
	}
	return results, nil
}

func (b *Backend) GetChainStatus(ctx context.Context, pcId string) (string, error) {
	var status string
	err := b.db.QueryRowContext(ctx, `SELECT status FROM process_chains WHERE id = ?`, pcId).Scan(&status)
	if err == sql.ErrNoRows {
		return "", &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	if err != nil {
		return "", &cerrors.TransientIOError{Op: "getChainStatus", Cause: err}
	}
	return status, nil
}

func (b *Backend) SetChainStatus(ctx context.Context, pcId, status string) error {
	return b.mustAffectRow(ctx, "processChain", pcId,
		`UPDATE process_chains SET status = ? WHERE id = ?`, status, pcId)
}

func (b *Backend) GetErrorMessage(ctx context.Context, pcId string) (string, error) {
	var msg sql.NullString
	err := b.db.QueryRowContext(ctx, `SELECT error_message FROM process_chains WHERE id = ?`, pcId).Scan(&msg)
	if err == sql.ErrNoRows {
		return "", &cerrors.NotFoundError{Resource: "processChain", ID: pcId}
	}
	if err != nil {
		return "", &cerrors.TransientIOError{Op: "getErrorMessage", Cause: err}
	}
	return msg.String, nil
}

func (b *Backend) SetErrorMessage(ctx context.Context, pcId string, msg string) error {
	return b.mustAffectRow(ctx, "processChain", pcId,
		`UPDATE process_chains SET error_message = ? WHERE id = ?`, nullString(msg), pcId)
}

// SetChainResults records the results an external scheduler reports for a
// finished process chain, consumed by the controller before ingesting them
// into the compiler's next Generate call.
func (b *Backend) SetChainResults(ctx context.Context, pcId string, results map[string][]any) error {
	payload, err := json.Marshal(results)
	if err != nil {
		return &cerrors.TransientIOError{Op: "setChainResults.marshal", Cause: err}
	}
	return b.mustAffectRow(ctx, "processChain", pcId,
		`UPDATE process_chains SET results = ? WHERE id = ?`, string(payload), pcId)
}

func (b *Backend) mustAffectRow(ctx context.Context, resource, id, query string, args ...any) error {
	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &cerrors.TransientIOError{Op: resource + ".update", Cause: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return &cerrors.TransientIOError{Op: resource + ".rowsAffected", Cause: err}
	}
	if n == 0 {
		return &cerrors.NotFoundError{Resource: resource, ID: id}
	}
	return nil
}

func (b *Backend) FindServices(ctx context.Context) ([]backend.ServiceMetadataRecord, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, payload FROM services`)
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "findServices", Cause: err}
	}
	defer rows.Close()

	var out []backend.ServiceMetadataRecord
	for rows.Next() {
		var rec backend.ServiceMetadataRecord
		if err := rows.Scan(&rec.Id, &rec.Payload); err != nil {
			return nil, &cerrors.TransientIOError{Op: "findServices.scan", Cause: err}
		}
		out = append(out, rec)
	}
	return out, nil
}

// PutServices replaces the cached service metadata set, called by the
// filesystem-watching registry whenever service YAML files change.
func (b *Backend) PutServices(ctx context.Context, records []backend.ServiceMetadataRecord) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &cerrors.TransientIOError{Op: "putServices.begin", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM services`); err != nil {
		return &cerrors.TransientIOError{Op: "putServices.clear", Cause: err}
	}
	for _, rec := range records {
		if _, err := tx.ExecContext(ctx, `INSERT INTO services (id, payload) VALUES (?, ?)`, rec.Id, rec.Payload); err != nil {
			return &cerrors.TransientIOError{Op: "putServices.insert", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &cerrors.TransientIOError{Op: "putServices.commit", Cause: err}
	}
	return nil
}

func (b *Backend) FindOutputAdapter(ctx context.Context, dataType string) (bool, error) {
	var exists int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM output_adapters WHERE data_type = ?`, dataType).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &cerrors.TransientIOError{Op: "findOutputAdapter", Cause: err}
	}
	return true, nil
}

// PutOutputAdapters replaces the set of registered output adapter data
// types.
func (b *Backend) PutOutputAdapters(ctx context.Context, dataTypes []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return &cerrors.TransientIOError{Op: "putOutputAdapters.begin", Cause: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM output_adapters`); err != nil {
		return &cerrors.TransientIOError{Op: "putOutputAdapters.clear", Cause: err}
	}
	for _, dt := range dataTypes {
		if _, err := tx.ExecContext(ctx, `INSERT INTO output_adapters (data_type) VALUES (?)`, dt); err != nil {
			return &cerrors.TransientIOError{Op: "putOutputAdapters.insert", Cause: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &cerrors.TransientIOError{Op: "putOutputAdapters.commit", Cause: err}
	}
	return nil
}

type sqliteLease struct {
	b    *Backend
	name string
}

func (l *sqliteLease) Release(ctx context.Context) error {
	_, err := l.b.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ?`, l.name)
	if err != nil {
		return &cerrors.TransientIOError{Op: "lease.release", Cause: err}
	}
	return nil
}

// TryLock acquires name for timeout by racing an INSERT against a
// conflicting row; an expired lease is reclaimed in the same statement.
func (b *Backend) TryLock(ctx context.Context, name string, timeout time.Duration) (backend.Lease, error) {
	expiresAt := time.Now().Add(timeout).Format(time.RFC3339)

	result, err := b.db.ExecContext(ctx, `
		INSERT INTO leases (name, expires_at) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET expires_at = excluded.expires_at
		WHERE leases.expires_at < ?
	`, name, expiresAt, time.Now().Format(time.RFC3339))
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "tryLock", Cause: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, &cerrors.TransientIOError{Op: "tryLock.rowsAffected", Cause: err}
	}
	if n == 0 {
		return nil, nil
	}
	return &sqliteLease{b: b, name: name}, nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
