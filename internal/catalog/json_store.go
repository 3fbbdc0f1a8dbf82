// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"vawter.tech/stopper"
)

// fileData is the on-disk layout of services.json.
type fileData struct {
	Services []Service `json:"services"`
	Groups   []Group   `json:"groups"`
}

// JSONStore keeps the catalog in a single JSON file. Writes replace the file
// atomically; when watching is enabled, external edits are picked up.
type JSONStore struct {
	path string

	mu        sync.RWMutex
	data      fileData
	lastSaved []byte

	sctx *stopper.Context
}

// OpenJSONStore loads the catalog file, creating an empty one if missing.
func OpenJSONStore(ctx context.Context, path string, watch bool) (*JSONStore, error) {
	if path == "" {
		return nil, errors.New("json catalog requires a path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog path: %w", err)
	}

	s := &JSONStore{path: abs}
	if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
		s.data = fileData{Services: []Service{}, Groups: []Group{}}
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	} else if err := s.reload(); err != nil {
		return nil, err
	}

	if watch {
		if err := s.watch(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// decodeFile accepts both the {services, groups} object and a bare services array.
func decodeFile(raw []byte) (fileData, error) {
	var data fileData
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fileData{Services: []Service{}, Groups: []Group{}}, nil
	}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &data.Services); err != nil {
			return fileData{}, err
		}
	} else if err := json.Unmarshal(raw, &data); err != nil {
		return fileData{}, err
	}
	if data.Services == nil {
		data.Services = []Service{}
	}
	if data.Groups == nil {
		data.Groups = []Group{}
	}
	for i := range data.Groups {
		if data.Groups[i].Services == nil {
			data.Groups[i].Services = []string{}
		}
	}
	return data, nil
}

func (s *JSONStore) reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	if s.lastSaved != nil && bytes.Equal(raw, s.lastSaved) {
		return nil
	}
	data, err := decodeFile(raw)
	if err != nil {
		return fmt.Errorf("parse catalog %s: %w", s.path, err)
	}
	s.data = data
	s.lastSaved = raw
	return nil
}

// saveLocked writes the catalog. Caller holds s.mu for writing.
func (s *JSONStore) saveLocked() error {
	out, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if err := renameio.WriteFile(s.path, out, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	s.lastSaved = out
	return nil
}

func (s *JSONStore) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	// Watch the directory: atomic replace swaps the inode under the file name.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("catalog watcher: %w", err)
	}

	s.sctx = stopper.WithContext(ctx)
	s.sctx.Defer(func() {
		_ = watcher.Close()
	})

	base := filepath.Base(s.path)
	s.sctx.Go(func(sctx *stopper.Context) error {
		debounce := newDebouncer(defaultDebounceDuration)
		defer debounce.stop()
		for {
			select {
			case <-sctx.Stopping():
				return nil
			case ev, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(ev.Name) != base || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				debounce.trigger(func() {
					if err := s.reload(); err != nil {
						log.Printf("Catalog: reload after external edit failed: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				log.Printf("Catalog: watcher error: %v", err)
			}
		}
	})
	return nil
}

// Close stops the file watcher.
func (s *JSONStore) Close() error {
	if s.sctx == nil {
		return nil
	}
	s.sctx.Stop(100 * time.Millisecond)
	return s.sctx.Wait()
}

func (s *JSONStore) ListServices(ctx context.Context) ([]Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Service, len(s.data.Services))
	copy(out, s.data.Services)
	return out, nil
}

func (s *JSONStore) GetService(ctx context.Context, id string) (Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.data.Services {
		if svc.ID == id {
			return svc, nil
		}
	}
	return Service{}, fmt.Errorf("service %q: %w", id, ErrNotFound)
}

func (s *JSONStore) UpsertService(ctx context.Context, svc Service) (Service, error) {
	if err := svc.Validate(); err != nil {
		return Service{}, err
	}
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	if svc.Status == "" {
		svc.Status = StatusStopped
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.data.Services {
		if s.data.Services[i].ID == svc.ID {
			s.data.Services[i] = svc
			replaced = true
			break
		}
	}
	if !replaced {
		s.data.Services = append(s.data.Services, svc)
	}
	if err := s.saveLocked(); err != nil {
		return Service{}, err
	}
	return svc, nil
}

func (s *JSONStore) DeleteService(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, svc := range s.data.Services {
		if svc.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("service %q: %w", id, ErrNotFound)
	}
	s.data.Services = append(s.data.Services[:idx], s.data.Services[idx+1:]...)
	for i := range s.data.Groups {
		s.data.Groups[i].Services = removeID(s.data.Groups[i].Services, id)
	}
	return s.saveLocked()
}

func (s *JSONStore) ListGroups(ctx context.Context) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, len(s.data.Groups))
	for i, g := range s.data.Groups {
		out[i] = copyGroup(g)
	}
	return out, nil
}

func (s *JSONStore) GetGroup(ctx context.Context, id string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.groupIndex(id); i >= 0 {
		return copyGroup(s.data.Groups[i]), nil
	}
	return Group{}, fmt.Errorf("group %q: %w", id, ErrNotFound)
}

func (s *JSONStore) CreateGroup(ctx context.Context, name string) (Group, error) {
	if name == "" {
		return Group{}, errors.New("group name is required")
	}
	g := Group{ID: uuid.NewString(), Name: name, Services: []string{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Groups = append(s.data.Groups, g)
	if err := s.saveLocked(); err != nil {
		return Group{}, err
	}
	return copyGroup(g), nil
}

func (s *JSONStore) RenameGroup(ctx context.Context, id, name string) error {
	if name == "" {
		return errors.New("group name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndex(id)
	if i < 0 {
		return fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	s.data.Groups[i].Name = name
	return s.saveLocked()
}

func (s *JSONStore) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndex(id)
	if i < 0 {
		return fmt.Errorf("group %q: %w", id, ErrNotFound)
	}
	s.data.Groups = append(s.data.Groups[:i], s.data.Groups[i+1:]...)
	return s.saveLocked()
}

func (s *JSONStore) AddMember(ctx context.Context, groupID, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndex(groupID)
	if i < 0 {
		return fmt.Errorf("group %q: %w", groupID, ErrNotFound)
	}
	found := false
	for _, svc := range s.data.Services {
		if svc.ID == serviceID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("service %q: %w", serviceID, ErrNotFound)
	}
	if s.data.Groups[i].Has(serviceID) {
		return nil
	}
	s.data.Groups[i].Services = append(s.data.Groups[i].Services, serviceID)
	return s.saveLocked()
}

func (s *JSONStore) RemoveMember(ctx context.Context, groupID, serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.groupIndex(groupID)
	if i < 0 {
		return fmt.Errorf("group %q: %w", groupID, ErrNotFound)
	}
	s.data.Groups[i].Services = removeID(s.data.Groups[i].Services, serviceID)
	return s.saveLocked()
}

func (s *JSONStore) groupIndex(id string) int {
	for i, g := range s.data.Groups {
		if g.ID == id {
			return i
		}
	}
	return -1
}

func copyGroup(g Group) Group {
	members := make([]string, len(g.Services))
	copy(members, g.Services)
	g.Services = members
	return g
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
