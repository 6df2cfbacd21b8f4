package complexity

import (
	"context"
	"strings"

	"github.com/PaesslerAG/gval"
)

// DefaultExpression is the operator-overridable scoring expression,
// written so that evaluating it reproduces exactly what Assess computes
// from the hardcoded rule table — the common path never touches gval
// because callers compare a configured expression against this default
// and skip evaluation entirely when they match.
const DefaultExpression = "wordCount / 8.0 + hasConnector * 1.5 + hasComparison * 2.0 + hasReasoning * 2.5"

// ExpressionAssessor scores text through a gval expression instead of the
// hardcoded rule table, letting an operator recalibrate signal weights
// without a code change. The interval boundaries themselves are never
// exposed here — only the raw score changes, not the SIMPLE/MODERATE/
// COMPLEX cutoffs.
type ExpressionAssessor struct {
	expression string
	eval       gval.Evaluable
}

// NewExpressionAssessor compiles expr once at construction time so per-
// request evaluation never pays parse cost.
func NewExpressionAssessor(expr string) (*ExpressionAssessor, error) {
	if expr == "" {
		expr = DefaultExpression
	}
	eval, err := gval.Full().NewEvaluable(expr)
	if err != nil {
		return nil, err
	}
	return &ExpressionAssessor{expression: expr, eval: eval}, nil
}

// Assess evaluates the configured expression against text's signals and
// maps the resulting score through the same fixed interval boundaries
// Assess uses.
func (a *ExpressionAssessor) Assess(text string) (Score, error) {
	words := strings.Fields(text)
	vars := map[string]interface{}{
		"wordCount":     float64(len(words)),
		"hasConnector":  boolToFloat(multiPartConnectors.MatchString(text)),
		"hasComparison": boolToFloat(comparisonMarkers.MatchString(text)),
		"hasReasoning":  boolToFloat(reasoningMarkers.MatchString(text)),
	}

	result, err := a.eval.EvalFloat64(context.Background(), vars)
	if err != nil {
		return Score{}, err
	}

	return Score{
		Tier:       tierFor(result),
		Raw:        result,
		Confidence: confidenceFor(result),
	}, nil
}

// IsDefault reports whether this assessor's expression is textually the
// default, allowing callers to skip gval evaluation on the common path.
func (a *ExpressionAssessor) IsDefault() bool {
	return a.expression == DefaultExpression
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
