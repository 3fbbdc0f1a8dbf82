// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps the catalog in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite catalog requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		port INTEGER NOT NULL,
		path TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'stopped',
		last_started TEXT,
		last_stopped TEXT,
		position INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
		service_id TEXT NOT NULL REFERENCES services(id) ON DELETE CASCADE,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, service_id)
	);

	CREATE INDEX IF NOT EXISTS idx_group_members_service ON group_members(service_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (Service, error) {
	var svc Service
	var status string
	var started, stopped sql.NullString
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.Port, &svc.Path,
		&svc.Command, &status, &started, &stopped); err != nil {
		return Service{}, err
	}
	svc.Status = Status(status)
	svc.LastStarted = parseTime(started)
	svc.LastStopped = parseTime(stopped)
	return svc, nil
}

const serviceColumns = `id, name, description, port, path, command, status, last_started, last_stopped`

func (s *SQLiteStore) ListServices(ctx context.Context) ([]Service, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services ORDER BY position, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	services := []Service{}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

func (s *SQLiteStore) GetService(ctx context.Context, id string) (Service, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = ?`, id)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Service{}, fmt.Errorf("service %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Service{}, fmt.Errorf("get service: %w", err)
	}
	return svc, nil
}

func (s *SQLiteStore) UpsertService(ctx context.Context, svc Service) (Service, error) {
	if err := svc.Validate(); err != nil {
		return Service{}, err
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.Status == "" {
		svc.Status = StatusStopped
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, description, port, path, command, status, last_started, last_stopped, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM services))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			port = excluded.port,
			path = excluded.path,
			command = excluded.command,
			status = excluded.status,
			last_started = excluded.last_started,
			last_stopped = excluded.last_stopped`,
		svc.ID, svc.Name, svc.Description, svc.Port, svc.Path, svc.Command, string(svc.Status),
		formatTime(svc.LastStarted), formatTime(svc.LastStopped))
	if err != nil {
		return Service{}, fmt.Errorf("upsert service: %w", err)
	}
	return svc, nil
}

func (s *SQLiteStore) DeleteService(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return requireAffected(res, "service", id)
}

func (s *SQLiteStore) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM groups ORDER BY position, rowid`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	groups := []Group{}
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		members, err := s.members(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Services = members
	}
	return groups, nil
}

func (s *SQLiteStore) members(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT service_id FROM group_members WHERE group_id = ? ORDER BY position, rowid`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	members := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) GetGroup(ctx context.Context, id string) (Group, error) {
	var g Group
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM groups WHERE id = ?`, id).Scan(&g.ID, &g.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Group{}, fmt.Errorf("get group: %w", err)
	}
	if g.Services, err = s.members(ctx, id); err != nil {
		return Group{}, err
	}
	return g, nil
}

func (s *SQLiteStore) CreateGroup(ctx context.Context, name string) (Group, error) {
	if name == "" {
		return Group{}, errors.New("group name is required")
	}
	g := Group{ID: uuid.NewString(), Name: name, Services: []string{}}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO groups (id, name, position) VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM groups))`,
		g.ID, g.Name)
	if err != nil {
		return Group{}, fmt.Errorf("create group: %w", err)
	}
	return g, nil
}

func (s *SQLiteStore) RenameGroup(ctx context.Context, id, name string) error {
	if name == "" {
		return errors.New("group name is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE groups SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("rename group: %w", err)
	}
	return requireAffected(res, "group", id)
}

func (s *SQLiteStore) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireAffected(res, "group", id)
}

func (s *SQLiteStore) AddMember(ctx context.Context, groupID, serviceID string) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	if _, err := s.GetService(ctx, serviceID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO group_members (group_id, service_id, position)
		VALUES (?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM group_members WHERE group_id = ?))`,
		groupID, serviceID, groupID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveMember(ctx context.Context, groupID, serviceID string) error {
	if _, err := s.GetGroup(ctx, groupID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND service_id = ?`, groupID, serviceID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func requireAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
	}
	return nil
}
