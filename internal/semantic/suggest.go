package semantic

import "querygate/internal/types"

func quantile(q float64) types.AggregationSuggestion {
	return types.AggregationSuggestion{
		Kind:   types.AggHistogramQuantile,
		Params: types.AggregationParams{Quantile: &q},
	}
}

func plain(kinds ...types.AggregationKind) []types.AggregationSuggestion {
	out := make([]types.AggregationSuggestion, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, types.AggregationSuggestion{Kind: k})
	}
	return out
}

// SuggestAggregations returns the aggregations that usually make sense for
// kind. Unknown kinds get none. Every call returns fresh values.
func SuggestAggregations(kind types.IdentifierKind) []types.AggregationSuggestion {
	switch kind {
	case types.KindCounter:
		return plain(types.AggRate, types.AggIncrease, types.AggIrate)
	case types.KindGauge:
		return plain(types.AggAvgOverTime, types.AggMaxOverTime, types.AggMinOverTime, types.AggSumOverTime)
	case types.KindHistogram:
		return []types.AggregationSuggestion{quantile(0.95), quantile(0.99)}
	case types.KindTimer:
		return append([]types.AggregationSuggestion{quantile(0.95)}, plain(types.AggAvgOverTime, types.AggMaxOverTime)...)
	case types.KindSummary:
		return plain(types.AggAvgOverTime)
	}
	return nil
}

// WithSuggestions returns intent unchanged when it names aggregations, and a
// copy filled from SuggestAggregations otherwise.
func WithSuggestions(intent *types.QueryIntent) *types.QueryIntent {
	if intent == nil || len(intent.Aggregations) > 0 {
		return intent
	}
	suggested := SuggestAggregations(intent.Kind)
	if len(suggested) == 0 {
		return intent
	}
	out := *intent
	out.Aggregations = suggested
	return &out
}
