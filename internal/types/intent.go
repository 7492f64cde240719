package types

import (
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

// IdentifierKind is the metric type metadata carried by an intent.
type IdentifierKind string

const (
	KindCounter   IdentifierKind = "counter"
	KindGauge     IdentifierKind = "gauge"
	KindHistogram IdentifierKind = "histogram"
	KindSummary   IdentifierKind = "summary"
	KindTimer     IdentifierKind = "timer"
	KindUnknown   IdentifierKind = "unknown"
)

// ParseIdentifierKind maps a name onto the closed kind set. Empty means unknown.
func ParseIdentifierKind(name string) (IdentifierKind, error) {
	switch k := IdentifierKind(strings.ToLower(strings.TrimSpace(name))); k {
	case KindCounter, KindGauge, KindHistogram, KindSummary, KindTimer, KindUnknown:
		return k, nil
	case "":
		return KindUnknown, nil
	default:
		return "", errors.Newf("unknown identifier kind %q", name)
	}
}

// IsDistribution reports whether percentile style aggregations make sense for k.
func (k IdentifierKind) IsDistribution() bool {
	return k == KindHistogram || k == KindSummary || k == KindTimer
}

// AggregationKind is the enumerated set of aggregation functions an intent may suggest.
type AggregationKind string

const (
	AggRate              AggregationKind = "rate"
	AggIrate             AggregationKind = "irate"
	AggIncrease          AggregationKind = "increase"
	AggDelta             AggregationKind = "delta"
	AggIdelta            AggregationKind = "idelta"
	AggDeriv             AggregationKind = "deriv"
	AggPredictLinear     AggregationKind = "predict_linear"
	AggResets            AggregationKind = "resets"
	AggSum               AggregationKind = "sum"
	AggAvg               AggregationKind = "avg"
	AggMin               AggregationKind = "min"
	AggMax               AggregationKind = "max"
	AggCount             AggregationKind = "count"
	AggStddev            AggregationKind = "stddev"
	AggStdvar            AggregationKind = "stdvar"
	AggTopK              AggregationKind = "topk"
	AggBottomK           AggregationKind = "bottomk"
	AggQuantile          AggregationKind = "quantile"
	AggCountValues       AggregationKind = "count_values"
	AggGroup             AggregationKind = "group"
	AggAvgOverTime       AggregationKind = "avg_over_time"
	AggMinOverTime       AggregationKind = "min_over_time"
	AggMaxOverTime       AggregationKind = "max_over_time"
	AggSumOverTime       AggregationKind = "sum_over_time"
	AggCountOverTime     AggregationKind = "count_over_time"
	AggQuantileOverTime  AggregationKind = "quantile_over_time"
	AggStddevOverTime    AggregationKind = "stddev_over_time"
	AggStdvarOverTime    AggregationKind = "stdvar_over_time"
	AggLastOverTime      AggregationKind = "last_over_time"
	AggAbsentOverTime    AggregationKind = "absent_over_time"
	AggPresentOverTime   AggregationKind = "present_over_time"
	AggHistogramQuantile AggregationKind = "histogram_quantile"
	AggBytesOverTime     AggregationKind = "bytes_over_time"
	AggBytesRate         AggregationKind = "bytes_rate"
)

// AggregationFamily groups aggregation functions that answer the same question.
type AggregationFamily string

const (
	FamilyRate       AggregationFamily = "rate"       // per-second or total change of a counter
	FamilyDerivative AggregationFamily = "derivative" // change of a gauge
	FamilyOverTime   AggregationFamily = "over_time"  // value statistics over a window
	FamilySample     AggregationFamily = "sample"     // sample presence or position, any kind
	FamilyAggregate  AggregationFamily = "aggregate"
	FamilyPercentile AggregationFamily = "percentile"
	FamilyOther      AggregationFamily = "other"
)

var aggregationFamilies = map[AggregationKind]AggregationFamily{
	AggRate: FamilyRate, AggIrate: FamilyRate, AggIncrease: FamilyRate, AggResets: FamilyRate,
	AggBytesRate: FamilyRate,

	AggDelta: FamilyDerivative, AggIdelta: FamilyDerivative, AggDeriv: FamilyDerivative,
	AggPredictLinear: FamilyDerivative,

	AggSum: FamilyAggregate, AggAvg: FamilyAggregate, AggMin: FamilyAggregate, AggMax: FamilyAggregate,
	AggCount: FamilyAggregate, AggStddev: FamilyAggregate, AggStdvar: FamilyAggregate,
	AggTopK: FamilyAggregate, AggBottomK: FamilyAggregate, AggQuantile: FamilyAggregate,
	AggCountValues: FamilyAggregate, AggGroup: FamilyAggregate,

	AggAvgOverTime: FamilyOverTime, AggMinOverTime: FamilyOverTime, AggMaxOverTime: FamilyOverTime,
	AggSumOverTime: FamilyOverTime, AggQuantileOverTime: FamilyOverTime,
	AggStddevOverTime: FamilyOverTime, AggStdvarOverTime: FamilyOverTime, AggBytesOverTime: FamilyOverTime,

	AggCountOverTime: FamilySample, AggLastOverTime: FamilySample,
	AggAbsentOverTime: FamilySample, AggPresentOverTime: FamilySample,

	AggHistogramQuantile: FamilyPercentile,
}

// ParseAggregationKind rejects names outside the enumerated set.
func ParseAggregationKind(name string) (AggregationKind, error) {
	k := AggregationKind(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := aggregationFamilies[k]; !ok {
		return "", errors.Newf("unknown aggregation %q", name)
	}
	return k, nil
}

// FamilyOf classifies any function name found in a query, known kind or not.
func FamilyOf(fn string) AggregationFamily {
	fn = strings.ToLower(fn)
	if f, ok := aggregationFamilies[AggregationKind(fn)]; ok {
		return f
	}
	switch {
	case strings.HasPrefix(fn, "histogram_"):
		return FamilyPercentile
	case strings.HasSuffix(fn, "_over_time"):
		return FamilyOverTime
	}
	return FamilyOther
}

// AggregationParams is the closed parameter structure of an aggregation suggestion.
type AggregationParams struct {
	Quantile *float64 `json:"quantile,omitempty" yaml:"quantile,omitempty" validate:"omitempty,gte=0,lte=1"`
	K        *int     `json:"k,omitempty" yaml:"k,omitempty" validate:"omitempty,gt=0"`
}

// AggregationSuggestion is one aggregation the intent expects the query to apply.
type AggregationSuggestion struct {
	Kind   AggregationKind   `json:"function_name" yaml:"function_name" validate:"required"`
	Params AggregationParams `json:"params" yaml:"params"`
}

// =============================================================================
// QUERY INTENT
// =============================================================================

// QueryIntent describes what a generated query should compute.
// Build it with NewQueryIntent and treat it as read-only afterwards.
type QueryIntent struct {
	Identifier   string                  `json:"metric" yaml:"metric" validate:"required,max=256"`
	Kind         IdentifierKind          `json:"metric_type" yaml:"metric_type"`
	Filters      map[string]string       `json:"filters,omitempty" yaml:"filters,omitempty"`
	Window       string                  `json:"window,omitempty" yaml:"window,omitempty"`
	Aggregations []AggregationSuggestion `json:"aggregation_suggestions,omitempty" yaml:"aggregation_suggestions,omitempty" validate:"dive"`
	GroupBy      []string                `json:"group_by,omitempty" yaml:"group_by,omitempty"`
	Description  string                  `json:"description,omitempty" yaml:"description,omitempty"`
}

var intentValidator = validator.New()

// NewQueryIntent copies the caller's maps and slices into a validated intent.
func NewQueryIntent(in QueryIntent) (*QueryIntent, error) {
	out := in
	out.Identifier = strings.TrimSpace(in.Identifier)
	if out.Kind == "" {
		out.Kind = KindUnknown
	}
	kind, err := ParseIdentifierKind(string(out.Kind))
	if err != nil {
		return nil, err
	}
	out.Kind = kind
	if in.Filters != nil {
		out.Filters = make(map[string]string, len(in.Filters))
		for k, v := range in.Filters {
			out.Filters[k] = v
		}
	}
	out.Aggregations = append([]AggregationSuggestion(nil), in.Aggregations...)
	for i, agg := range out.Aggregations {
		aggKind, err := ParseAggregationKind(string(agg.Kind))
		if err != nil {
			return nil, err
		}
		out.Aggregations[i].Kind = aggKind
		out.Aggregations[i].Params = agg.Params.clone()
	}
	out.GroupBy = append([]string(nil), in.GroupBy...)
	if err := intentValidator.Struct(&out); err != nil {
		return nil, errors.Wrap(err, "invalid query intent")
	}
	return &out, nil
}

// clone copies the pointed-to values so the intent owns them.
func (p AggregationParams) clone() AggregationParams {
	var out AggregationParams
	if p.Quantile != nil {
		q := *p.Quantile
		out.Quantile = &q
	}
	if p.K != nil {
		k := *p.K
		out.K = &k
	}
	return out
}

// FilterKeys returns the filter keys in sorted order.
func (q *QueryIntent) FilterKeys() []string {
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
