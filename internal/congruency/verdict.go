package congruency

import (
	"encoding/json"
	"fmt"

	"github.com/yoockh/mockcall/internal/providers/llm"
)

type Recommendation string

const (
	RecommendContinue      Recommendation = "continue"
	RecommendEndGracefully Recommendation = "end_gracefully"
)

// Analysis is the validated provider verdict after the safety clamp.
type Analysis struct {
	IsCongruent             bool           `json:"is_congruent"`
	Confidence              float64        `json:"confidence"`
	Recommendation          Recommendation `json:"recommendation"`
	IsExtremelyIncompatible bool           `json:"is_extremely_incompatible"`
	OverlapPercent          int            `json:"overlap_percent"`
	MatchedSkills           []string       `json:"matched_skills"`
	MissingSkills           []string       `json:"missing_skills"`
	TransferableSkills      []string       `json:"transferable_skills"`
	Reasoning               string         `json:"reasoning,omitempty"`
}

// rawVerdict mirrors what the model is asked to return. Pointers mark the
// required fields so a missing key is distinguishable from a zero value.
type rawVerdict struct {
	IsCongruent             *bool    `json:"is_congruent"`
	Confidence              *float64 `json:"confidence"`
	Recommendation          *string  `json:"recommendation"`
	IsExtremelyIncompatible bool     `json:"is_extremely_incompatible"`
	OverlapPercent          int      `json:"overlap_percent"`
	SkillMatch              struct {
		Matched      []string `json:"matched"`
		Missing      []string `json:"missing"`
		Transferable []string `json:"transferable"`
	} `json:"skill_match"`
	Reasoning string `json:"reasoning"`
}

// ParseVerdict validates a model answer once, at the provider boundary.
// extremeConfidence is the confidence a verdict must exceed before its
// extreme-incompatibility flag (or an end recommendation) is honored.
func ParseVerdict(answer string, extremeConfidence float64) (Analysis, error) {
	var rv rawVerdict
	if err := json.Unmarshal([]byte(llm.ExtractJSON(answer)), &rv); err != nil {
		return Analysis{}, fmt.Errorf("congruency: malformed verdict: %w", err)
	}
	if rv.IsCongruent == nil || rv.Confidence == nil || rv.Recommendation == nil {
		return Analysis{}, fmt.Errorf("congruency: verdict is missing required fields")
	}
	conf := *rv.Confidence
	if conf < 0 || conf > 1 {
		return Analysis{}, fmt.Errorf("congruency: confidence %v out of range", conf)
	}
	rec := Recommendation(*rv.Recommendation)
	if rec != RecommendContinue && rec != RecommendEndGracefully {
		return Analysis{}, fmt.Errorf("congruency: unknown recommendation %q", rec)
	}

	a := Analysis{
		IsCongruent:             *rv.IsCongruent,
		Confidence:              conf,
		Recommendation:          rec,
		IsExtremelyIncompatible: rv.IsExtremelyIncompatible,
		OverlapPercent:          rv.OverlapPercent,
		MatchedSkills:           nonNil(rv.SkillMatch.Matched),
		MissingSkills:           nonNil(rv.SkillMatch.Missing),
		TransferableSkills:      nonNil(rv.SkillMatch.Transferable),
		Reasoning:               rv.Reasoning,
	}
	return clamp(a, extremeConfidence), nil
}

// clamp applies the safety bias: a single low-confidence judgment never ends
// a session, and anything short of a confident end resolves to continue.
func clamp(a Analysis, extremeConfidence float64) Analysis {
	confident := a.Confidence > extremeConfidence
	if !confident {
		a.IsExtremelyIncompatible = false
	}
	switch {
	case a.IsExtremelyIncompatible:
		a.Recommendation = RecommendEndGracefully
	case confident && !a.IsCongruent && a.Recommendation == RecommendEndGracefully:
	default:
		a.Recommendation = RecommendContinue
	}
	return a
}

func congruentDefault() Analysis {
	return Analysis{
		IsCongruent:        true,
		Recommendation:     RecommendContinue,
		MatchedSkills:      []string{},
		MissingSkills:      []string{},
		TransferableSkills: []string{},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
