// Package feedback resolves interview feedback into scores and narrative
// sections. Structured JSON from the feedback model is preferred; free text
// from older prompts is parsed as a fallback.
package feedback

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/yoockh/mockcall/internal/providers/llm"
)

type Source string

const (
	SourceStructured Source = "structured"
	SourceLegacyText Source = "legacy_text"
	SourceNone       Source = "none"
)

type Parsed struct {
	Scores    Scores    `json:"scores"`
	Narrative Narrative `json:"narrative"`
	Source    Source    `json:"source"`
}

// ParseLegacy never fails; arbitrary input yields mostly empty output.
func ParseLegacy(text string) Parsed {
	p := Parsed{Scores: ExtractScores(text), Narrative: ExtractNarrative(text), Source: SourceLegacyText}
	p.Scores.Overall = p.Scores.ResolvedOverall()
	return p
}

type structuredFeedback struct {
	OverallScore *float64 `json:"overall_score"`
	Scores       struct {
		Content        *float64 `json:"content"`
		Communication  *float64 `json:"communication"`
		Confidence     *float64 `json:"confidence"`
		Technical      *float64 `json:"technical"`
		ProblemSolving *float64 `json:"problem_solving"`
	} `json:"scores"`
	Summary          string            `json:"summary"`
	Strengths        []string          `json:"strengths"`
	Improvements     []string          `json:"improvements"`
	Recommendations  []string          `json:"recommendations"`
	CategoryFeedback map[string]string `json:"category_feedback"`
}

var errNoStructuredScores = errors.New("feedback: structured payload carries no scores")

// ParseStructured validates the primary JSON feedback shape.
func ParseStructured(raw string) (Parsed, error) {
	var sf structuredFeedback
	if err := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &sf); err != nil {
		return Parsed{}, err
	}

	var s Scores
	setF := func(c Category, v *float64) {
		if v != nil {
			s.set(c, int(math.Round(*v)))
		}
	}
	setF(CategoryOverall, sf.OverallScore)
	setF(CategoryContent, sf.Scores.Content)
	setF(CategoryCommunication, sf.Scores.Communication)
	setF(CategoryConfidence, sf.Scores.Confidence)
	setF(CategoryTechnical, sf.Scores.Technical)
	setF(CategoryProblemSolving, sf.Scores.ProblemSolving)
	if s.Empty() {
		return Parsed{}, errNoStructuredScores
	}
	s.Overall = s.ResolvedOverall()

	n := Narrative{
		Summary:         strings.TrimSpace(sf.Summary),
		Strengths:       sf.Strengths,
		Improvements:    sf.Improvements,
		Recommendations: sf.Recommendations,
	}
	for k, v := range sf.CategoryFeedback {
		if n.CategoryNotes == nil {
			n.CategoryNotes = map[Category]string{}
		}
		n.CategoryNotes[Category(strings.ToLower(k))] = v
	}
	return Parsed{Scores: s, Narrative: n, Source: SourceStructured}, nil
}

// Resolve prefers the structured payload and falls back to legacy text.
func Resolve(structured, legacyText string) Parsed {
	if strings.TrimSpace(structured) != "" {
		if p, err := ParseStructured(structured); err == nil {
			return p
		}
	}
	if strings.TrimSpace(legacyText) != "" {
		return ParseLegacy(legacyText)
	}
	return Parsed{Source: SourceNone}
}
