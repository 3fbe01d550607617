package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"judgeflow/internal/grade/model"
	appErr "judgeflow/pkg/errors"
)

const (
	minScore = 0
	maxScore = 10
)

var fencePattern = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*[ \t]*\r?\n?(.*?)```")

// ParseEvaluation extracts an Evaluation from free text. It tries the whole text,
// then the first fenced block, then the first balanced {...} or [...] span.
func ParseEvaluation(text string) (*model.Evaluation, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, appErr.New(appErr.EvaluationParseFailed).WithMessage("empty evaluation response")
	}

	if eval, err := decodeEvaluation(trimmed); err == nil {
		return eval, nil
	}
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		if eval, err := decodeEvaluation(strings.TrimSpace(m[1])); err == nil {
			return eval, nil
		}
	}
	for _, span := range balancedSpans(trimmed) {
		if eval, err := decodeEvaluation(span); err == nil {
			return eval, nil
		}
	}
	return nil, appErr.New(appErr.EvaluationParseFailed).
		WithMessage("no valid evaluation JSON in response").
		WithDetail("response_prefix", prefix(trimmed, 120))
}

type rawEvaluation struct {
	Score               flexNumber  `json:"score"`
	Feedback            string      `json:"feedback"`
	Improvements        flexStrings `json:"improvements"`
	TimeComplexity      string      `json:"timeComplexity"`
	SpaceComplexity     string      `json:"spaceComplexity"`
	TimeComplexitySnake string      `json:"time_complexity"`
	SpaceComplexitySnk  string      `json:"space_complexity"`
}

func decodeEvaluation(s string) (*model.Evaluation, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var list []json.RawMessage
		if err := json.Unmarshal([]byte(s), &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("empty array")
		}
		s = string(list[0])
	}

	var raw rawEvaluation
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after evaluation")
	}
	if !raw.Score.set && raw.Feedback == "" {
		return nil, fmt.Errorf("evaluation has neither score nor feedback")
	}

	eval := &model.Evaluation{
		Score:           clampScore(raw.Score.value),
		Feedback:        strings.TrimSpace(raw.Feedback),
		Improvements:    []string(raw.Improvements),
		TimeComplexity:  firstNonEmpty(raw.TimeComplexity, raw.TimeComplexitySnake),
		SpaceComplexity: firstNonEmpty(raw.SpaceComplexity, raw.SpaceComplexitySnk),
	}
	if eval.Improvements == nil {
		eval.Improvements = []string{}
	}
	return eval, nil
}

// balancedSpans returns every balanced {...} or [...] span in order of its
// opening bracket. Brackets inside string literals are ignored.
func balancedSpans(s string) []string {
	var spans []string
	for start := 0; start < len(s); start++ {
		if s[start] != '{' && s[start] != '[' {
			continue
		}
		if end := matchBracket(s, start); end > start {
			spans = append(spans, s[start:end+1])
		}
	}
	return spans
}

func matchBracket(s string, start int) int {
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return minScore
	}
	return math.Max(minScore, math.Min(maxScore, v))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// flexNumber accepts 7, 7.5 or "7".
type flexNumber struct {
	value float64
	set   bool
}

func (f *flexNumber) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	raw = strings.Trim(raw, `"`)
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/10")
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid score %s", string(data))
	}
	f.value, f.set = v, true
	return nil
}

// flexStrings accepts a list of strings or a single string.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*f = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single = strings.TrimSpace(single); single != "" {
		*f = []string{single}
	}
	return nil
}
