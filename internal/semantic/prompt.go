package semantic

import (
	"fmt"
	"strconv"
	"strings"

	"querygate/internal/types"
)

// ExplainPrompt builds the user turn of an explain_query request.
func ExplainPrompt(lang types.QueryLanguage, intent *types.QueryIntent, query string) string {
	var sb strings.Builder
	name := lang.DisplayName()

	fmt.Fprintf(&sb, "Compare the following original query intent with the generated %s query:\n\n", name)
	sb.WriteString("**Original Intent:**\n")
	fmt.Fprintf(&sb, "- Metric: %s\n", intent.Identifier)
	fmt.Fprintf(&sb, "- Metric Type: %s\n", intent.Kind)
	fmt.Fprintf(&sb, "- Filters: %s\n", orNone(formatFilters(intent)))
	fmt.Fprintf(&sb, "- Time Window: %s\n", orNone(intent.Window))
	fmt.Fprintf(&sb, "- Group By: %s\n", orNone(strings.Join(intent.GroupBy, ", ")))
	fmt.Fprintf(&sb, "- Suggested Aggregations: %s\n", orNone(formatSuggestions(intent.Aggregations)))
	if intent.Description != "" {
		fmt.Fprintf(&sb, "- Description: %s\n", intent.Description)
	}

	fmt.Fprintf(&sb, "\n**Generated %s Query:**\n", name)
	fmt.Fprintf(&sb, "```%s\n%s\n```\n\n", string(lang), query)

	sb.WriteString("Analyze whether the generated query semantically matches the original intent. Consider:\n")
	sb.WriteString("1. Does it query the correct metric?\n")
	sb.WriteString("2. Are filters correctly applied?\n")
	sb.WriteString("3. Is the time window appropriate?\n")
	sb.WriteString("4. Is the aggregation function suitable for the metric type and intent?\n")
	sb.WriteString("5. Are grouping dimensions correct?\n")
	sb.WriteString("6. Does the overall query achieve the user's goal?\n\n")
	sb.WriteString("Provide your analysis in the structured format.")
	return sb.String()
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

func formatFilters(intent *types.QueryIntent) string {
	keys := intent.FilterKeys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+intent.Filters[k])
	}
	return strings.Join(parts, ", ")
}

func formatSuggestions(aggs []types.AggregationSuggestion) string {
	parts := make([]string, 0, len(aggs))
	for _, a := range aggs {
		parts = append(parts, formatSuggestion(a))
	}
	return strings.Join(parts, ", ")
}

func formatSuggestion(a types.AggregationSuggestion) string {
	var params []string
	if a.Params.Quantile != nil {
		params = append(params, "quantile="+strconv.FormatFloat(*a.Params.Quantile, 'g', -1, 64))
	}
	if a.Params.K != nil {
		params = append(params, "k="+strconv.Itoa(*a.Params.K))
	}
	if len(params) == 0 {
		return string(a.Kind)
	}
	return fmt.Sprintf("%s(%s)", a.Kind, strings.Join(params, ", "))
}
