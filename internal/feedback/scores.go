package feedback

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

type Category string

const (
	CategoryOverall        Category = "overall"
	CategoryContent        Category = "content"
	CategoryCommunication  Category = "communication"
	CategoryConfidence     Category = "confidence"
	CategoryTechnical      Category = "technical"
	CategoryProblemSolving Category = "problem_solving"
)

// Scores holds 0-100 sub-scores; nil means the score was not found.
type Scores struct {
	Overall        *int `json:"overall,omitempty"`
	Content        *int `json:"content,omitempty"`
	Communication  *int `json:"communication,omitempty"`
	Confidence     *int `json:"confidence,omitempty"`
	Technical      *int `json:"technical,omitempty"`
	ProblemSolving *int `json:"problem_solving,omitempty"`
}

var overallWeights = []struct {
	cat    Category
	weight float64
}{
	{CategoryContent, 0.35},
	{CategoryCommunication, 0.25},
	{CategoryConfidence, 0.20},
	{CategoryTechnical, 0.20},
}

func (s *Scores) ptr(c Category) **int {
	switch c {
	case CategoryOverall:
		return &s.Overall
	case CategoryContent:
		return &s.Content
	case CategoryCommunication:
		return &s.Communication
	case CategoryConfidence:
		return &s.Confidence
	case CategoryTechnical:
		return &s.Technical
	case CategoryProblemSolving:
		return &s.ProblemSolving
	}
	return nil
}

func (s Scores) Get(c Category) *int {
	if p := s.ptr(c); p != nil {
		return *p
	}
	return nil
}

// set stores v when it is a plausible score and the slot is still empty.
func (s *Scores) set(c Category, v int) {
	p := s.ptr(c)
	if p == nil || *p != nil || v < 0 || v > 100 {
		return
	}
	*p = &v
}

func (s Scores) Empty() bool {
	return s.Overall == nil && s.Content == nil && s.Communication == nil &&
		s.Confidence == nil && s.Technical == nil && s.ProblemSolving == nil
}

// WeightedOverall averages the present weighted categories, renormalizing
// the weights over what is present. Nil when no weighted category exists.
func (s Scores) WeightedOverall() *int {
	var sum, weights float64
	for _, w := range overallWeights {
		if v := s.Get(w.cat); v != nil {
			sum += float64(*v) * w.weight
			weights += w.weight
		}
	}
	if weights == 0 {
		return nil
	}
	out := int(math.Round(sum / weights))
	return &out
}

// ResolvedOverall is the explicit overall score, else the weighted average.
func (s Scores) ResolvedOverall() *int {
	if s.Overall != nil {
		return s.Overall
	}
	return s.WeightedOverall()
}

var scoreLabels = []struct {
	cat   Category
	label string
}{
	{CategoryOverall, `overall(?:\s+(?:score|rating|performance))?`},
	{CategoryContent, `content(?:\s+quality)?`},
	{CategoryCommunication, `communication(?:\s+skills)?`},
	{CategoryConfidence, `confidence(?:\s+level)?`},
	{CategoryTechnical, `technical(?:\s+(?:knowledge|skills|ability))?`},
	{CategoryProblemSolving, `problem[\s-]solving(?:\s+skills)?`},
}

type labelPatterns struct {
	cat     Category
	primary *regexp.Regexp
	bullet  *regexp.Regexp
}

// scoreTail captures the number, any decimal part and any "/scale" suffix,
// so fractions and other scales can be rejected instead of truncated.
const scoreTail = `(\d+)(\.\d+)?\b(?:[ \t]*/[ \t]*(\d+))?`

var patterns = func() []labelPatterns {
	out := make([]labelPatterns, 0, len(scoreLabels))
	for _, l := range scoreLabels {
		out = append(out, labelPatterns{
			cat: l.cat,
			// "Label: NN" or "Label: NN/100", optionally bolded, at line start
			primary: regexp.MustCompile(`(?im)^[ \t]*(?:\*\*)?` + l.label + `(?:\s+score)?(?:\*\*)?[ \t]*:[ \t]*(?:\*\*)?[ \t]*` + scoreTail),
			// "- Label: NN" inside a breakdown section
			bullet: regexp.MustCompile(`(?im)^[ \t]*-[ \t]*(?:\*\*)?` + l.label + `(?:\s+score)?(?:\*\*)?[ \t]*:[ \t]*(?:\*\*)?[ \t]*` + scoreTail),
		})
	}
	return out
}()

// ExtractScores pulls sub-scores out of free text. Values outside [0,100]
// are treated as false matches and dropped.
func ExtractScores(text string) (s Scores) {
	defer func() {
		if recover() != nil {
			s = Scores{}
		}
	}()

	for _, p := range patterns {
		if v, ok := firstValid(p.primary, text); ok {
			s.set(p.cat, v)
		}
	}

	breakdown := sectionBody(splitSections(text), func(title string) bool {
		return strings.Contains(title, "breakdown") || strings.Contains(title, "scores")
	})
	if breakdown != "" {
		for _, p := range patterns {
			if s.Get(p.cat) != nil {
				continue
			}
			if v, ok := firstValid(p.bullet, breakdown); ok {
				s.set(p.cat, v)
			}
		}
	}
	return s
}

// ExtractOverallScore returns the explicit overall score, else the weighted
// average of the category scores, else nil.
func ExtractOverallScore(text string) *int {
	return ExtractScores(text).ResolvedOverall()
}

// firstValid returns the first whole-number match on the 0-100 scale.
// "7.5", "0.85" and "8/10" are skipped; "80/100" is accepted.
func firstValid(re *regexp.Regexp, text string) (int, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if m[2] != "" || (m[3] != "" && m[3] != "100") {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err == nil && v >= 0 && v <= 100 {
			return v, true
		}
	}
	return 0, false
}
