// Package validate runs a query through the syntax, schema and semantic
// stages in order and assembles the report.
package validate

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"querygate/internal/config"
	"querygate/internal/extract"
	"querygate/internal/grammar"
	"querygate/internal/logging"
	"querygate/internal/membership"
	"querygate/internal/reasoning"
	"querygate/internal/schema"
	"querygate/internal/semantic"
	"querygate/internal/syntax"
	"querygate/internal/telemetry"
	"querygate/internal/types"
)

// Options holds everything an Engine needs. Nothing is read from globals.
type Options struct {
	Registry *grammar.Registry
	Store    membership.Store

	// Extractor replaces the parse tree walk for schema identifiers.
	Extractor extract.Extractor

	Schema   schema.Options
	Semantic semantic.Options
	Metrics  *telemetry.Metrics
}

// Engine is the validation orchestrator. It keeps no state between calls,
// so a single Engine serves concurrent validations.
type Engine struct {
	syntax    *syntax.Validator
	extractor extract.Extractor
	schema    *schema.Validator
	semantic  *semantic.Validator
	metrics   *telemetry.Metrics
}

// New builds an engine from opts.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("validation engine needs a membership store")
	}
	reg := opts.Registry
	if reg == nil {
		reg = grammar.Default()
	}

	schemaOpts := opts.Schema
	if schemaOpts.Metrics == nil {
		schemaOpts.Metrics = opts.Metrics
	}
	semanticOpts := opts.Semantic
	if semanticOpts.Registry == nil {
		semanticOpts.Registry = reg
	}
	sem, err := semantic.NewValidator(semanticOpts)
	if err != nil {
		return nil, err
	}

	logging.Engine("validation engine ready: extractor=%t reasoner=%t scoring=%s",
		opts.Extractor != nil, semanticOpts.Reasoner != nil, semanticOpts.Scoring)
	return &Engine{
		syntax:    syntax.NewValidator(reg),
		extractor: opts.Extractor,
		schema:    schema.NewValidator(opts.Store, schemaOpts),
		semantic:  sem,
		metrics:   opts.Metrics,
	}, nil
}

// OptionsFromConfig maps configuration onto engine options. client may be
// nil when cfg enables no reasoning.
func OptionsFromConfig(cfg *config.Config, store membership.Store, client reasoning.Client, metrics *telemetry.Metrics) (Options, error) {
	reg := grammar.Default()
	if cfg.Grammar.Dir != "" {
		var err error
		if reg, err = grammar.NewDirRegistry(cfg.Grammar.Dir); err != nil {
			return Options{}, err
		}
	}

	scoring, err := semantic.ParseScoring(cfg.Semantic.Scoring)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		Registry: reg,
		Store:    store,
		Schema: schema.Options{
			BulkFetchThreshold: cfg.Schema.BulkFetchThreshold,
			Metrics:            metrics,
		},
		Semantic: semantic.Options{
			Registry:      reg,
			Scoring:       scoring,
			MinConfidence: cfg.Semantic.MinConfidence,
		},
		Metrics: metrics,
	}

	if cfg.Extraction.Strategy == "delegated" {
		if opts.Extractor, err = extract.New(cfg.Extraction, reg, client); err != nil {
			return Options{}, err
		}
	}
	if cfg.Semantic.Reasoner {
		if client == nil {
			return Options{}, errors.New("semantic reasoner enabled without a reasoning client")
		}
		opts.Semantic.Reasoner = client
	}
	if cfg.Semantic.PolicyPath != "" {
		if opts.Semantic.Policy, err = semantic.LoadPolicy(cfg.Semantic.PolicyPath); err != nil {
			return Options{}, err
		}
	}
	return opts, nil
}

// Validate runs query through SYNTAX, SCHEMA and, when intent is non-nil,
// SEMANTIC. The first failing stage ends the run. Validation failures are in
// the report; infrastructure failures are returned as errors with no report.
func (e *Engine) Validate(ctx context.Context, lang types.QueryLanguage, ns types.Namespace, query string, intent *types.QueryIntent) (types.ValidationReport, error) {
	if !lang.Valid() {
		return types.ValidationReport{}, errors.Wrapf(types.ErrUnknownLanguage, "%q", string(lang))
	}
	if err := ns.Check(); err != nil {
		return types.ValidationReport{}, err
	}

	log := logging.Get(logging.CategoryEngine).With(
		zap.String("run_id", uuid.NewString()),
		zap.String("language", string(lang)),
		zap.String("namespace", string(ns)),
	)
	report := types.ValidationReport{Language: lang, Namespace: ns}

	var tree *grammar.Tree
	passed, err := e.runStage(ctx, lang, types.StageSyntax, func(ctx context.Context) (bool, error) {
		res, t, err := e.syntax.ParseForValidation(lang, query)
		if err != nil {
			return false, err
		}
		tree = t
		report.Stages = append(report.Stages, types.StageResult{Stage: types.StageSyntax, Syntax: &res})
		return res.IsValid, nil
	})
	if err != nil || !passed {
		return e.finish(log, report, types.StageSyntax, passed, err)
	}

	passed, err = e.runStage(ctx, lang, types.StageSchema, func(ctx context.Context) (bool, error) {
		ids, err := e.identifiers(ctx, lang, query, tree)
		if err != nil {
			return false, err
		}
		log.Debug("extracted %d identifier(s)", ids.Len())
		res, err := e.schema.ValidateSchema(ctx, ns, ids)
		if err != nil {
			return false, err
		}
		report.Stages = append(report.Stages, types.StageResult{Stage: types.StageSchema, Schema: &res})
		return res.IsValid, nil
	})
	if err != nil || !passed || intent == nil {
		return e.finish(log, report, types.StageSchema, passed, err)
	}

	passed, err = e.runStage(ctx, lang, types.StageSemantic, func(ctx context.Context) (bool, error) {
		res, err := e.semantic.ValidateTree(ctx, lang, intent, tree)
		if err != nil {
			return false, err
		}
		report.Stages = append(report.Stages, types.StageResult{Stage: types.StageSemantic, Semantic: &res})
		return res.Passed(), nil
	})
	return e.finish(log, report, types.StageSemantic, passed, err)
}

func (e *Engine) identifiers(ctx context.Context, lang types.QueryLanguage, query string, tree *grammar.Tree) (types.IdentifierSet, error) {
	if e.extractor != nil {
		logging.EngineDebug("%s identifiers via extractor", lang)
		return e.extractor.Extract(ctx, lang, query)
	}
	return extract.FromTree(tree), nil
}

// finish closes a run that ended at stage.
func (e *Engine) finish(log *logging.Logger, report types.ValidationReport, stage types.Stage, passed bool, err error) (types.ValidationReport, error) {
	if err != nil {
		log.Warn("%s stage error: %v", stage, err)
		return types.ValidationReport{}, errors.Wrapf(err, "%s stage", stage)
	}
	report.IsValid = passed
	report.StoppedAt = stage
	log.Info("validation finished: valid=%t stopped_at=%s", report.IsValid, report.StoppedAt)
	return report, nil
}

// runStage wraps one stage in a span, a timer and an outcome metric.
func (e *Engine) runStage(ctx context.Context, lang types.QueryLanguage, stage types.Stage, fn func(context.Context) (bool, error)) (bool, error) {
	ctx, span := telemetry.StartStage(ctx, string(stage), string(lang))
	defer span.End()

	timer := logging.StartTimer(logging.CategoryEngine, string(stage)+" stage")
	passed, err := fn(ctx)
	elapsed := timer.Stop()

	outcome := telemetry.OutcomeFail
	switch {
	case err != nil:
		outcome = telemetry.OutcomeError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case passed:
		outcome = telemetry.OutcomePass
	}
	span.SetAttributes(attribute.String("querygate.outcome", outcome))
	e.metrics.ObserveStage(string(lang), string(stage), outcome, elapsed)
	return passed, err
}
