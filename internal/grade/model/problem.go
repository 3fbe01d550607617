package model

import "strings"

// Difficulty is the problem's difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "Easy"
	DifficultyMedium Difficulty = "Medium"
	DifficultyHard   Difficulty = "Hard"
)

// ParseDifficulty accepts the tier name case-insensitively.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "easy":
		return DifficultyEasy, true
	case "medium":
		return DifficultyMedium, true
	case "hard":
		return DifficultyHard, true
	default:
		return "", false
	}
}

// TestCase is one input/expected-output pair in declared order.
type TestCase struct {
	ID             int64  `json:"id"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden"`
}

// Problem is read-only during grading.
type Problem struct {
	ID           int64      `json:"id"`
	Title        string     `json:"title"`
	Statement    string     `json:"statement"`
	Difficulty   Difficulty `json:"difficulty"`
	TestCases    []TestCase `json:"test_cases"`
	SolutionText string     `json:"solution_text,omitempty"`
}

// Gradable reports whether the problem has at least one test case.
func (p *Problem) Gradable() bool {
	return p != nil && len(p.TestCases) > 0
}
