package model

// Evaluation is the qualitative assessment of a solution.
type Evaluation struct {
	Score           float64  `json:"score"`
	Feedback        string   `json:"feedback"`
	Improvements    []string `json:"improvements"`
	TimeComplexity  string   `json:"timeComplexity"`
	SpaceComplexity string   `json:"spaceComplexity"`
}
