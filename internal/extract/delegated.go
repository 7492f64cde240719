package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"querygate/internal/logging"
	"querygate/internal/reasoning"
	"querygate/internal/types"
)

// DelegatedExtractor asks the reasoning capability for identifiers. Use it
// where identifiers cannot be told apart from keywords syntactically.
type DelegatedExtractor struct {
	client        reasoning.Client
	minConfidence float64
}

// NewDelegatedExtractor returns a delegated extractor. A positive
// minConfidence rejects less certain answers with low_confidence.
func NewDelegatedExtractor(client reasoning.Client, minConfidence float64) *DelegatedExtractor {
	return &DelegatedExtractor{client: client, minConfidence: minConfidence}
}

type extractionResponse struct {
	Identifiers []string `json:"identifiers"`
	Confidence  *float64 `json:"confidence"`
}

// Extract implements Extractor.
func (e *DelegatedExtractor) Extract(ctx context.Context, lang types.QueryLanguage, expression string) (types.IdentifierSet, error) {
	if strings.TrimSpace(expression) == "" {
		return types.NewIdentifierSet(nil, 1), nil
	}

	task := reasoning.TaskExtractIdentifiers
	out, err := e.client.Complete(ctx, reasoning.Request{
		Task:   task,
		System: reasoning.SystemPrompt(task),
		User:   fmt.Sprintf("Language: %s\nExpression: %s", lang.DisplayName(), expression),
	})
	if err != nil {
		return types.IdentifierSet{}, reasoning.Classify(task, err)
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(reasoning.StripFence(out)), &resp); err != nil {
		return types.IdentifierSet{}, &types.ExtractionError{
			Cause: types.CauseMalformedResponse, Task: string(task), Err: errors.Wrap(err, "decode identifiers"),
		}
	}
	if resp.Confidence == nil {
		return types.IdentifierSet{}, &types.ExtractionError{
			Cause: types.CauseMalformedResponse, Task: string(task), Err: errors.New("response has no confidence"),
		}
	}

	confidence := *resp.Confidence
	if e.minConfidence > 0 && confidence < e.minConfidence {
		return types.IdentifierSet{}, &types.ExtractionError{
			Cause: types.CauseLowConfidence,
			Task:  string(task),
			Err:   errors.Newf("confidence %.2f below %.2f", confidence, e.minConfidence),
		}
	}

	kept, dropped := normalizeAll(resp.Identifiers)
	for _, d := range dropped {
		logging.Get(logging.CategoryReasoning).Warn("skipping invalid identifier format: %q", d)
	}
	set := types.NewIdentifierSet(kept, confidence)
	logging.ReasoningDebug("extracted %d identifier(s) at confidence %.2f", set.Len(), set.Confidence)
	return set, nil
}
