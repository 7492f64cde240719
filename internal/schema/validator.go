// Package schema checks extracted identifiers against a namespace catalog.
package schema

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"querygate/internal/logging"
	"querygate/internal/membership"
	"querygate/internal/telemetry"
	"querygate/internal/types"
)

// DefaultBulkFetchThreshold is used when Options leaves the threshold unset.
const DefaultBulkFetchThreshold = 20

// maxDisplayed caps how many invalid identifiers the message names.
const maxDisplayed = 5

// Strategy is how membership is checked.
type Strategy string

const (
	StrategyAuto    Strategy = ""
	StrategySkip    Strategy = "skip"     // nothing to check
	StrategyBulk    Strategy = "bulk"     // one GetAll and a set difference
	StrategyPerItem Strategy = "per_item" // one Exists per identifier
)

// Options configures a Validator.
type Options struct {
	BulkFetchThreshold int
	// Force pins a strategy regardless of size; StrategyAuto picks by threshold.
	Force   Strategy
	Metrics *telemetry.Metrics
}

// Validator is the schema stage.
type Validator struct {
	store membership.Store
	opts  Options
}

// NewValidator returns a validator reading from store.
func NewValidator(store membership.Store, opts Options) *Validator {
	if opts.BulkFetchThreshold < 1 {
		opts.BulkFetchThreshold = DefaultBulkFetchThreshold
	}
	return &Validator{store: store, opts: opts}
}

// ForceBulk returns a copy of v that always fetches the whole catalog.
func (v *Validator) ForceBulk() *Validator {
	opts := v.opts
	opts.Force = StrategyBulk
	return &Validator{store: v.store, opts: opts}
}

// ForcePerItem returns a copy of v that always checks identifiers one by one.
func (v *Validator) ForcePerItem() *Validator {
	opts := v.opts
	opts.Force = StrategyPerItem
	return &Validator{store: v.store, opts: opts}
}

// Choose returns the strategy used for n identifiers.
func (v *Validator) Choose(n int) Strategy {
	switch {
	case n == 0:
		return StrategySkip
	case v.opts.Force != StrategyAuto:
		return v.opts.Force
	case n >= v.opts.BulkFetchThreshold:
		return StrategyBulk
	default:
		return StrategyPerItem
	}
}

// ValidateSchema reports which identifiers of ids are missing from ns. An
// empty catalog is a validation failure, not an error; errors are store
// failures or an empty namespace.
func (v *Validator) ValidateSchema(ctx context.Context, ns types.Namespace, ids types.IdentifierSet) (types.SchemaValidationResult, error) {
	if err := ns.Check(); err != nil {
		return types.SchemaValidationResult{}, err
	}

	strategy := v.Choose(ids.Len())
	v.opts.Metrics.CountStrategy(string(strategy))

	var (
		invalid []string
		err     error
	)
	switch strategy {
	case StrategySkip:
		return types.SchemaValidationResult{IsValid: true}, nil
	case StrategyBulk:
		invalid, err = v.bulk(ctx, ns, ids.Values)
	default:
		invalid, err = v.perItem(ctx, ns, ids.Values)
	}
	if err != nil {
		return types.SchemaValidationResult{}, err
	}

	invalid = sortedUnique(invalid)
	logging.SchemaDebug("namespace %s: %d/%d invalid via %s", ns, len(invalid), ids.Len(), strategy)
	if len(invalid) == 0 {
		return types.SchemaValidationResult{IsValid: true}, nil
	}
	logging.Schema("namespace %s rejected %s", ns, strings.Join(invalid, ", "))
	return types.SchemaValidationResult{
		InvalidIdentifiers: invalid,
		ErrorMessage:       Message(ns, invalid),
	}, nil
}

func (v *Validator) bulk(ctx context.Context, ns types.Namespace, ids []string) ([]string, error) {
	known, err := v.store.GetAll(ctx, ns)
	if err != nil {
		return nil, err
	}
	var invalid []string
	for _, id := range ids {
		if _, ok := known[membership.Normalize(id)]; !ok {
			invalid = append(invalid, id)
		}
	}
	return invalid, nil
}

func (v *Validator) perItem(ctx context.Context, ns types.Namespace, ids []string) ([]string, error) {
	var invalid []string
	for _, id := range ids {
		ok, err := v.store.Exists(ctx, ns, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			invalid = append(invalid, id)
		}
	}
	return invalid, nil
}

func sortedUnique(ids []string) []string {
	sort.Strings(ids)
	return slices.Compact(ids)
}

// Message formats the failure text for sorted invalid identifiers.
func Message(ns types.Namespace, invalid []string) string {
	count := len(invalid)
	if count == 0 {
		return ""
	}
	shown := invalid
	if count > maxDisplayed {
		shown = invalid[:maxDisplayed]
	}
	quoted := make([]string, len(shown))
	for i, id := range shown {
		quoted[i] = "'" + id + "'"
	}
	list := strings.Join(quoted, ", ")
	if count > maxDisplayed {
		return fmt.Sprintf("Found %d invalid identifiers in namespace '%s': %s, and %d more",
			count, ns, list, count-maxDisplayed)
	}
	return fmt.Sprintf("Found %d invalid identifier(s) in namespace '%s': %s", count, ns, list)
}
