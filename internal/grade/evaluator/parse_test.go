package evaluator_test

import (
	"reflect"
	"testing"

	"judgeflow/internal/grade/evaluator"
	appErr "judgeflow/pkg/errors"
)

const plainJSON = `{"score": 8, "feedback": "Clean hash map solution.", "improvements": ["Name variables clearly"], "timeComplexity": "O(n)", "spaceComplexity": "O(n)"}`

func TestParseEvaluationFencedMatchesPlain(t *testing.T) {
	t.Parallel()

	plain, err := evaluator.ParseEvaluation(plainJSON)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	fenced, err := evaluator.ParseEvaluation("Here is my review:\n```json\n" + plainJSON + "\n```\nGood luck!")
	if err != nil {
		t.Fatalf("fenced: %v", err)
	}
	if !reflect.DeepEqual(plain, fenced) {
		t.Fatalf("fenced parse differs: %+v vs %+v", plain, fenced)
	}
	if plain.Score != 8 || plain.TimeComplexity != "O(n)" || len(plain.Improvements) != 1 {
		t.Fatalf("unexpected evaluation: %+v", plain)
	}
}

func TestParseEvaluationBalancedSpan(t *testing.T) {
	t.Parallel()

	text := `Sure! The review is {"score": "7", "feedback": "Uses {braces} in a string", "improvements": "Add tests", "time_complexity": "O(n log n)"} hope it helps`
	eval, err := evaluator.ParseEvaluation(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if eval.Score != 7 || eval.Feedback != "Uses {braces} in a string" {
		t.Fatalf("unexpected evaluation: %+v", eval)
	}
	if eval.TimeComplexity != "O(n log n)" {
		t.Fatalf("expected snake_case complexity to be accepted, got %q", eval.TimeComplexity)
	}
	if len(eval.Improvements) != 1 || eval.Improvements[0] != "Add tests" {
		t.Fatalf("expected single improvement, got %v", eval.Improvements)
	}
}

func TestParseEvaluationArraySpan(t *testing.T) {
	t.Parallel()

	eval, err := evaluator.ParseEvaluation(`result: [{"score": 5, "feedback": "ok"}]`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if eval.Score != 5 {
		t.Fatalf("unexpected score %v", eval.Score)
	}
}

func TestParseEvaluationClampsScore(t *testing.T) {
	t.Parallel()

	high, err := evaluator.ParseEvaluation(`{"score": 14, "feedback": "x"}`)
	if err != nil || high.Score != 10 {
		t.Fatalf("expected clamp to 10, got %+v %v", high, err)
	}
	low, err := evaluator.ParseEvaluation(`{"score": -3, "feedback": "x"}`)
	if err != nil || low.Score != 0 {
		t.Fatalf("expected clamp to 0, got %+v %v", low, err)
	}
}

func TestParseEvaluationFailures(t *testing.T) {
	t.Parallel()

	for _, text := range []string{
		"",
		"I think the code is fine.",
		"```\nnot json\n```",
		`{"unrelated": true}`,
		`{"score": 5, "feedback": "unterminated"`,
	} {
		_, err := evaluator.ParseEvaluation(text)
		if !appErr.Is(err, appErr.EvaluationParseFailed) {
			t.Fatalf("expected EvaluationParseFailed for %q, got %v", text, err)
		}
	}
}
