package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/pgsync-go/pgsync/internal/config"
	"github.com/pgsync-go/pgsync/internal/schema"
	"github.com/pgsync-go/pgsync/internal/sink"
	"github.com/pgsync-go/pgsync/internal/sourcedb"
)

// app bundles the shared, process-wide dependencies every subcommand
// needs: the resolved configuration, a logger, one pooled connection to
// the source database, and one search-engine client, all reused across
// every schema target (§12 "multiple root schemas per process ... share
// one source connection pool").
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	adapter *sourcedb.Adapter
	sink    *sink.Sink
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	adapter, err := sourcedb.Connect(ctx, cfg.SourceDSN)
	if err != nil {
		return nil, fmt.Errorf("connect to source database: %w", err)
	}

	sk, err := sink.New(cfg.SearchAddresses, cfg.SearchUsername, cfg.SearchPassword, cfg.SearchInsecure, sink.WithLogger(logger))
	if err != nil {
		adapter.Close()
		return nil, fmt.Errorf("connect to search engine: %w", err)
	}

	return &app{cfg: cfg, logger: logger, adapter: adapter, sink: sk}, nil
}

func (a *app) close() {
	a.adapter.Close()
	_ = a.logger.Sync()
}

// sinkFor returns the shared search-engine client; every target speaks to
// the same cluster, just a different index (§12).
func (a *app) sinkFor(_ *schema.Tree) *sink.Sink {
	return a.sink
}

// target is one built schema tree, used when re-deriving the _view
// manifest at bootstrap time.
type target struct {
	tree *schema.Tree
}

// loadTargets reads cfg.SchemaPath — a single JSON schema document, or a
// directory of them (§12 "accepts a schema directory, not just a single
// file") — and builds a Tree for each against the shared adapter.
func (a *app) loadTargets(ctx context.Context) ([]*target, error) {
	paths, err := schemaDocumentPaths(a.cfg.SchemaPath)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no schema documents found at %s", a.cfg.SchemaPath)
	}

	catalog := sourcedb.NewCatalogView(ctx, a.adapter)
	targets := make([]*target, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read schema document %s: %w", p, err)
		}
		tree, err := schema.Build(data, catalog)
		if err != nil {
			return nil, fmt.Errorf("build schema tree from %s: %w", p, err)
		}
		targets = append(targets, &target{tree: tree})
	}
	return targets, nil
}

// schemaDocumentPaths resolves path to the sorted list of schema document
// files it names: path itself if it's a file, or every *.json file
// directly inside it if it's a directory.
func schemaDocumentPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("schema path %q: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read schema directory %q: %w", path, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
