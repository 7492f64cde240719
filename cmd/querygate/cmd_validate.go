package main

import (
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"querygate/internal/grammar"
	"querygate/internal/semantic"
	"querygate/internal/syntax"
	"querygate/internal/types"
)

// errRejected makes the process exit 2 after a report was printed.
var errRejected = errors.New("query rejected")

var (
	language  string
	namespace string

	// Intent flags
	intentFile   string
	intentMetric string
	intentKind   string
	intentWindow string
	intentFilter map[string]string
	intentGroup  []string
	intentAggs   []string
	noSuggest    bool
)

// checkCmd runs the syntax stage only
var checkCmd = &cobra.Command{
	Use:   "check [query|-]",
	Short: "Check query syntax against the language grammar",
	Long: `Parses the query with the grammar for --lang and prints the syntax result.
Pass "-" to read the query from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

// validateCmd runs the full pipeline
var validateCmd = &cobra.Command{
	Use:   "validate [query|-]",
	Short: "Validate a query against a namespace and, optionally, an intent",
	Long: `Runs the syntax, schema and semantic stages and prints the JSON report.
The semantic stage runs only when an intent is given, either as a YAML file
(--intent) or with --metric and friends. An intent without aggregations gets
the suggestions for its metric type.

Example:
  querygate validate -l promql -n prod:orders \
    --metric http_requests_total --kind counter --filter status=500 --window 5m \
    'rate(http_requests_total{status="500"}[5m])'

Exit status is 2 when the query is rejected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	for _, c := range []*cobra.Command{checkCmd, validateCmd} {
		c.Flags().StringVarP(&language, "lang", "l", "promql", "Query language (promql, logql, searchdsl, graphdsl or an alias)")
	}
	validateCmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Catalog namespace (required)")
	validateCmd.MarkFlagRequired("namespace")

	validateCmd.Flags().StringVar(&intentFile, "intent", "", "YAML file holding the query intent")
	validateCmd.Flags().StringVar(&intentMetric, "metric", "", "Intent identifier")
	validateCmd.Flags().StringVar(&intentKind, "kind", "", "Intent identifier kind (counter, gauge, histogram, summary, timer)")
	validateCmd.Flags().StringVar(&intentWindow, "window", "", "Intent time window, e.g. 5m")
	validateCmd.Flags().StringToStringVar(&intentFilter, "filter", nil, "Intent filter key=value (repeatable)")
	validateCmd.Flags().StringSliceVar(&intentGroup, "group-by", nil, "Intent grouping dimensions")
	validateCmd.Flags().StringSliceVar(&intentAggs, "agg", nil, "Suggested aggregation functions")
	validateCmd.Flags().BoolVar(&noSuggest, "no-suggest", false, "Do not fill aggregations from the metric type")
}

func runCheck(cmd *cobra.Command, args []string) error {
	lang, err := types.ParseLanguage(language)
	if err != nil {
		return err
	}
	query, err := readQuery(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	reg := grammar.Default()
	if cfg != nil && cfg.Grammar.Dir != "" {
		if reg, err = grammar.NewDirRegistry(cfg.Grammar.Dir); err != nil {
			return err
		}
	}
	res, err := syntax.NewValidator(reg).ValidateSyntax(lang, query)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.IsValid {
		return errRejected
	}
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	lang, err := types.ParseLanguage(language)
	if err != nil {
		return err
	}
	query, err := readQuery(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}
	intent, err := intentFromFlags()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.engine.Validate(ctx, lang, types.Namespace(namespace), query, intent)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), report); err != nil {
		return err
	}
	if !report.IsValid {
		return errRejected
	}
	return nil
}

// readQuery joins args into the query text; a lone "-" reads in.
func readQuery(in io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", errors.Wrap(err, "failed to read query from stdin")
		}
		return string(data), nil
	}
	return strings.Join(args, " "), nil
}

// intentFromFlags builds the intent from --intent or the inline flags. It
// returns nil when neither is set.
func intentFromFlags() (*types.QueryIntent, error) {
	var in types.QueryIntent
	switch {
	case intentFile != "":
		data, err := os.ReadFile(intentFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read intent file")
		}
		if err := yaml.Unmarshal(data, &in); err != nil {
			return nil, errors.Wrap(err, "failed to parse intent file")
		}
	case intentMetric != "":
		in = types.QueryIntent{
			Identifier: intentMetric,
			Kind:       types.IdentifierKind(intentKind),
			Filters:    intentFilter,
			Window:     intentWindow,
			GroupBy:    intentGroup,
		}
		for _, name := range intentAggs {
			in.Aggregations = append(in.Aggregations, types.AggregationSuggestion{Kind: types.AggregationKind(name)})
		}
	default:
		return nil, nil
	}

	intent, err := types.NewQueryIntent(in)
	if err != nil {
		return nil, err
	}
	if noSuggest {
		return intent, nil
	}
	return semantic.WithSuggestions(intent), nil
}
