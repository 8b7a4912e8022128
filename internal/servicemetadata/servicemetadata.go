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

// Package servicemetadata discovers workflow.ServiceMetadata definitions
// from YAML files on disk and keeps a backend's service registry in sync,
// optionally watching the directory for changes.
package servicemetadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/workflowc/compiler/internal/controller/backend"
	"github.com/workflowc/compiler/pkg/workflow"
)

// DefaultGlob matches every YAML file in the service directory, recursively.
const DefaultGlob = "**/*.{yaml,yml}"

// Config locates the service definition files on disk.
type Config struct {
	// Dir is the directory service definition files are discovered under.
	Dir string

	// Glob is a doublestar pattern, relative to Dir. Empty means DefaultGlob.
	Glob string

	// WatchForChanges enables fsnotify-driven hot reload of Dir.
	WatchForChanges bool
}

// Writer is the subset of backend.Backend this package writes to, kept
// narrow so any backend implementation (memory, sqlite, postgres) that
// exposes a bulk service-replace method can be driven by a Loader.
type Writer interface {
	PutServices(ctx context.Context, records []backend.ServiceMetadataRecord) error
}

// Load discovers every service definition file under cfg.Dir matching
// cfg.Glob and decodes each into a workflow.ServiceMetadata. Files are read
// as YAML (the authoring format); the caller re-encodes to JSON before
// handing records to a backend, since registries store service metadata as
// JSON.
func Load(cfg Config) ([]workflow.ServiceMetadata, error) {
	glob := cfg.Glob
	if glob == "" {
		glob = DefaultGlob
	}

	matches, err := doublestar.Glob(os.DirFS(cfg.Dir), glob)
	if err != nil {
		return nil, fmt.Errorf("globbing %s under %s: %w", glob, cfg.Dir, err)
	}

	services := make([]workflow.ServiceMetadata, 0, len(matches))
	for _, rel := range matches {
		svc, err := loadOne(os.DirFS(cfg.Dir), rel)
		if err != nil {
			return nil, fmt.Errorf("loading service definition %s: %w", rel, err)
		}
		services = append(services, svc)
	}
	return services, nil
}

func loadOne(fsys fs.FS, path string) (workflow.ServiceMetadata, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return workflow.ServiceMetadata{}, err
	}
	var svc workflow.ServiceMetadata
	if err := yaml.Unmarshal(data, &svc); err != nil {
		return workflow.ServiceMetadata{}, err
	}
	for i := range svc.Parameters {
		svc.Parameters[i].HasDefault = svc.Parameters[i].Default != nil
	}
	return svc, nil
}

// ToRecords re-encodes services as JSON, the registry's storage encoding.
func ToRecords(services []workflow.ServiceMetadata) ([]backend.ServiceMetadataRecord, error) {
	out := make([]backend.ServiceMetadataRecord, len(services))
	for i, svc := range services {
		payload, err := json.Marshal(svc)
		if err != nil {
			return nil, fmt.Errorf("encoding service %s: %w", svc.Id, err)
		}
		out[i] = backend.ServiceMetadataRecord{Id: svc.Id, Payload: payload}
	}
	return out, nil
}

// Sync loads every service definition under cfg.Dir and replaces w's
// registered set wholesale.
func Sync(ctx context.Context, cfg Config, w Writer) error {
	services, err := Load(cfg)
	if err != nil {
		return err
	}
	records, err := ToRecords(services)
	if err != nil {
		return err
	}
	return w.PutServices(ctx, records)
}

// Watcher reloads the service registry whenever a file under cfg.Dir
// changes, for deployments with cfg.WatchForChanges enabled.
type Watcher struct {
	cfg Config
	w   Writer
	log *slog.Logger
	fsw *fsnotify.Watcher
}

// NewWatcher performs an initial Sync, then arms an fsnotify watch on
// cfg.Dir so subsequent edits trigger a reload.
func NewWatcher(ctx context.Context, cfg Config, w Writer, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "servicemetadata")

	if err := Sync(ctx, cfg, w); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", cfg.Dir, err)
	}

	return &Watcher{cfg: cfg, w: w, log: logger, fsw: fsw}, nil
}

// Run processes filesystem events until ctx is canceled, reloading the
// registry on every write/create/remove/rename under cfg.Dir.
func (ww *Watcher) Run(ctx context.Context) {
	defer ww.fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ww.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := Sync(ctx, ww.cfg, ww.w); err != nil {
				ww.log.Error("service metadata reload failed", "error", err)
			}
		case err, ok := <-ww.fsw.Errors:
			if !ok {
				return
			}
			ww.log.Error("service metadata watcher error", "error", err)
		}
	}
}
