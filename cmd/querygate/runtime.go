package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"querygate/internal/logging"
	"querygate/internal/membership"
	"querygate/internal/reasoning"
	"querygate/internal/telemetry"
	"querygate/internal/types"
	"querygate/internal/validate"
)

// runtime is everything a command needs to validate queries.
type runtime struct {
	store   membership.Store
	engine  *validate.Engine
	metrics *telemetry.Metrics

	stopMetrics context.CancelFunc
	served      chan error
}

// openStore opens the configured backend and applies --catalog-file.
func openStore(ctx context.Context) (membership.Store, error) {
	store, err := membership.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	for _, path := range catalogFiles {
		if err := loadCatalog(ctx, store, path); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}

// openRuntime wires store, reasoner, metrics and engine from cfg.
func openRuntime(ctx context.Context) (*runtime, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	rt := &runtime{store: store, metrics: telemetry.NewMetrics(reg)}

	var client reasoning.Client
	if cfg.ReasoningEnabled() {
		guard, err := reasoning.New(ctx, cfg, rt.metrics)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		client = guard
	}

	opts, err := validate.OptionsFromConfig(cfg, store, client, rt.metrics)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if rt.engine, err = validate.New(opts); err != nil {
		_ = store.Close()
		return nil, err
	}

	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		serveCtx, cancel := context.WithCancel(context.Background())
		rt.stopMetrics = cancel
		rt.served = make(chan error, 1)
		go func() { rt.served <- telemetry.Serve(serveCtx, addr, reg) }()
		logging.Get(logging.CategoryCLI).Info("serving /metrics on %s", addr)
	}
	logging.Boot("runtime ready: store=%s reasoning=%t", cfg.Store.Backend, client != nil)
	return rt, nil
}

func (rt *runtime) Close() error {
	if rt.stopMetrics != nil {
		rt.stopMetrics()
		if err := <-rt.served; err != nil {
			logging.Get(logging.CategoryCLI).Warn("metrics listener: %v", err)
		}
	}
	return rt.store.Close()
}

// catalogFile is the --catalog-file format.
type catalogFile struct {
	Namespaces map[string][]string `yaml:"namespaces"`
}

// loadCatalog replaces each listed namespace with the file's identifiers.
func loadCatalog(ctx context.Context, store membership.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read catalog file")
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return errors.Wrapf(err, "failed to parse catalog file %s", path)
	}

	names := make([]string, 0, len(f.Namespaces))
	for ns := range f.Namespaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		if err := store.SetAll(ctx, types.Namespace(ns), f.Namespaces[ns]); err != nil {
			return err
		}
		logging.Get(logging.CategoryCLI).Debug("catalog %s: %d identifier(s) for %s", path, len(f.Namespaces[ns]), ns)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
