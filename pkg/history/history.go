// Package history keeps a journal of streamed jobs in SQLite: one row per
// job with its file, timing, line counters and final state.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"cnc-cam-core/pkg/errors"
	"cnc-cam-core/pkg/log"
	"cnc-cam-core/pkg/stream"
)

//go:embed schema.sql
var schema string

// Final job states.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
	StateAlarm     = "alarm"
)

// Job is one journal row. Finished is zero while the job runs.
type Job struct {
	ID        uuid.UUID
	File      string
	Lines     int
	Started   time.Time
	Finished  time.Time
	Sent      uint64
	Completed uint64
	Failed    uint64
	Retried   uint64
	State     string
	Error     string
}

// Duration is how long the job ran, or zero while it runs.
func (j Job) Duration() time.Duration {
	if j.Finished.IsZero() {
		return 0
	}
	return j.Finished.Sub(j.Started)
}

// Store is the journal database.
type Store struct {
	db  *sql.DB
	log *log.Logger
	now func() time.Time
}

// Open opens or creates the journal at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "history: create directory").SetFile(path)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "history: open").SetFile(path)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log.GetLogger("history"), now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrIO, "history: migrate").SetFile(path)
	}
	s.log.WithField("path", path).Debug("journal opened")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Begin records a job that is about to stream lines lines of file.
func (s *Store) Begin(ctx context.Context, file string, lines int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO jobs (id, file, lines, started_at, state)
        VALUES (?, ?, ?, ?, ?)
    `, id.String(), file, lines, s.now().UnixNano(), StateRunning)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.ErrIO, "history: insert job")
	}
	s.log.WithFields(log.Fields{"job": id.String(), "file": file, "lines": lines}).Info("job started")
	return id, nil
}

// Finish stores the final counters and state of a job. runErr may be nil.
func (s *Store) Finish(ctx context.Context, id uuid.UUID, st stream.Stats, state string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx, `
        UPDATE jobs
        SET finished_at = ?, sent = ?, completed = ?, failed = ?, retried = ?, state = ?, error = ?
        WHERE id = ?
    `, s.now().UnixNano(), int64(st.Sent), int64(st.Completed), int64(st.Failed), int64(st.Retried), state, msg, id.String())
	if err != nil {
		return errors.Wrap(err, errors.ErrIO, "history: update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrNotFound, "history: no such job").SetContext("job", id.String())
	}
	s.log.WithFields(log.Fields{
		"job":       id.String(),
		"state":     state,
		"completed": st.Completed,
		"failed":    st.Failed,
	}).Info("job finished")
	return nil
}

const selectJob = `
        SELECT id, file, lines, started_at, finished_at, sent, completed, failed, retried, state, error
        FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var (
		j        Job
		id       string
		started  int64
		finished sql.NullInt64
		sent     int64
		done     int64
		failed   int64
		retried  int64
	)
	if err := row.Scan(&id, &j.File, &j.Lines, &started, &finished, &sent, &done, &failed, &retried, &j.State, &j.Error); err != nil {
		return Job{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Job{}, err
	}
	j.ID = parsed
	j.Started = time.Unix(0, started)
	if finished.Valid {
		j.Finished = time.Unix(0, finished.Int64)
	}
	j.Sent, j.Completed, j.Failed, j.Retried = uint64(sent), uint64(done), uint64(failed), uint64(retried)
	return j, nil
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, selectJob+" WHERE id = ?", id.String()))
	if stderrors.Is(err, sql.ErrNoRows) {
		return Job{}, errors.New(errors.ErrNotFound, "history: no such job").SetContext("job", id.String())
	}
	if err != nil {
		return Job{}, errors.Wrap(err, errors.ErrIO, "history: read job")
	}
	return j, nil
}

// List returns up to limit jobs, newest first. A limit of zero or less
// returns every job.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectJob+" ORDER BY started_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "history: list jobs")
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrIO, "history: read job")
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrIO, "history: list jobs")
	}
	return out, nil
}

// FinalState maps the outcome of a streaming session to a journal state.
func FinalState(st stream.Stats, runErr error) string {
	switch {
	case errors.Is(runErr, errors.ErrProtoAlarm):
		return StateAlarm
	case stderrors.Is(runErr, context.Canceled), errors.Is(runErr, errors.ErrCancelled):
		return StateCancelled
	case runErr != nil || st.Failed > 0:
		return StateFailed
	}
	return StateCompleted
}
