package evaluator

import (
	"fmt"
	"strings"

	"judgeflow/internal/grade/model"
)

const systemPrompt = "You are a senior software engineer reviewing coding interview solutions. " +
	"Reply with a single JSON object and nothing else."

const responseShape = `{"score": <number 0-10>, "feedback": "<string>", "improvements": ["<string>"], "timeComplexity": "<big-O>", "spaceComplexity": "<big-O>"}`

// Request is one evaluation call.
type Request struct {
	Statement  string
	Language   string
	SourceCode string
	// Verdicts is nil for a code-only review.
	Verdicts []model.TestVerdict
}

// CodeOnly reports whether no execution results are available.
func (r Request) CodeOnly() bool {
	return r.Verdicts == nil
}

// BuildPrompt renders the user prompt for r.
func BuildPrompt(r Request) string {
	var b strings.Builder
	b.WriteString("Evaluate the following solution.\n\n")
	b.WriteString("Problem:\n")
	b.WriteString(strings.TrimSpace(r.Statement))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Language: %s\n\n", r.Language)
	b.WriteString("Code:\n```")
	b.WriteString(strings.ToLower(r.Language))
	b.WriteString("\n")
	b.WriteString(r.SourceCode)
	if !strings.HasSuffix(r.SourceCode, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")

	if r.CodeOnly() {
		b.WriteString("The code could not be executed. Judge correctness by reading it.\n\n")
	} else {
		passed := 0
		for _, v := range r.Verdicts {
			if v.Passed {
				passed++
			}
		}
		fmt.Fprintf(&b, "Test results: %d/%d passed\n", passed, len(r.Verdicts))
		for _, v := range r.Verdicts {
			writeVerdict(&b, v)
		}
		b.WriteString("\n")
	}

	b.WriteString("Respond with JSON exactly in this shape:\n")
	b.WriteString(responseShape)
	b.WriteString("\n")
	return b.String()
}

func writeVerdict(b *strings.Builder, v model.TestVerdict) {
	state := "FAIL"
	if v.Passed {
		state = "PASS"
	}
	if v.Hidden {
		fmt.Fprintf(b, "- #%d %s (hidden)", v.Index+1, state)
	} else {
		fmt.Fprintf(b, "- #%d %s input=%q expected=%q actual=%q", v.Index+1, state, v.Input, v.ExpectedNormalized, v.ActualNormalized)
	}
	if v.Error != "" {
		fmt.Fprintf(b, " error=%q", prefix(v.Error, 200))
	}
	b.WriteString("\n")
}
