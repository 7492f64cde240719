// Package batch validates many independent queries on a bounded worker pool.
package batch

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"querygate/internal/logging"
	"querygate/internal/types"
)

// Validator is the part of the engine a batch needs.
type Validator interface {
	Validate(ctx context.Context, lang types.QueryLanguage, ns types.Namespace, query string, intent *types.QueryIntent) (types.ValidationReport, error)
}

// Item is one query to validate.
type Item struct {
	ID        string             `yaml:"id" json:"id"`
	Language  string             `yaml:"language" json:"language"`
	Namespace string             `yaml:"namespace" json:"namespace"`
	Query     string             `yaml:"query" json:"query"`
	Intent    *types.QueryIntent `yaml:"intent,omitempty" json:"intent,omitempty"`
}

// Result pairs an item with its report.
type Result struct {
	Item   Item                   `json:"item"`
	Report types.ValidationReport `json:"report"`
}

// File is the on-disk batch format.
type File struct {
	Defaults struct {
		Language  string `yaml:"language"`
		Namespace string `yaml:"namespace"`
	} `yaml:"defaults"`
	Queries []Item `yaml:"queries"`
}

// LoadFile reads a batch file. Items inherit the file defaults, and intents
// go through the same checks as programmatic ones.
func LoadFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read batch file")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse batch file")
	}

	items := make([]Item, 0, len(f.Queries))
	for i, it := range f.Queries {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.Language == "" {
			it.Language = f.Defaults.Language
		}
		if it.Namespace == "" {
			it.Namespace = f.Defaults.Namespace
		}
		if it.Intent != nil {
			intent, err := types.NewQueryIntent(*it.Intent)
			if err != nil {
				return nil, errors.Wrapf(err, "query %d (%s)", i, it.ID)
			}
			it.Intent = intent
		}
		items = append(items, it)
	}
	logging.BatchDebug("loaded %d queries from %s", len(items), path)
	return items, nil
}

// Run validates items with at most workers in flight. Results keep input
// order. The first infrastructure or caller error cancels the remaining
// items and is returned.
func Run(ctx context.Context, v Validator, items []Item, workers int) ([]Result, error) {
	if workers < 1 {
		workers = 1
	}
	batchID := uuid.NewString()
	log := logging.Get(logging.CategoryBatch).With(zap.String("batch_id", batchID))
	start := time.Now()

	results := make([]Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, it := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lang, err := types.ParseLanguage(it.Language)
			if err != nil {
				return errors.Wrapf(err, "item %s", it.ID)
			}
			report, err := v.Validate(gctx, lang, types.Namespace(it.Namespace), it.Query, it.Intent)
			if err != nil {
				return errors.Wrapf(err, "item %s", it.ID)
			}
			results[i] = Result{Item: it, Report: report}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn("batch aborted after %v: %v", time.Since(start), err)
		return nil, err
	}

	valid := 0
	for _, r := range results {
		if r.Report.IsValid {
			valid++
		}
	}
	log.Zap().Info("batch finished",
		zap.Int("items", len(items)),
		zap.Int("valid", valid),
		zap.Int("workers", workers),
		zap.Duration("elapsed", time.Since(start)))
	return results, nil
}
