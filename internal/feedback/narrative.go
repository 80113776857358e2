package feedback

import (
	"regexp"
	"strings"
)

type Narrative struct {
	Summary         string              `json:"summary,omitempty"`
	Strengths       []string            `json:"strengths,omitempty"`
	Improvements    []string            `json:"improvements,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
	CategoryNotes   map[Category]string `json:"category_notes,omitempty"`
}

type section struct {
	title string // lowercased
	body  string
}

var headerRe = regexp.MustCompile(`^(?:#{1,6}[ \t]+(.+?)[ \t#]*|\*\*([^*]+?)\*\*:?)$`)

func splitSections(text string) []section {
	var (
		out   []section
		cur   *section
		lines []string
	)
	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(strings.Join(lines, "\n"))
			out = append(out, *cur)
		}
		lines = lines[:0]
	}
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if m := headerRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			title := m[1]
			if title == "" {
				title = m[2]
			}
			cur = &section{title: strings.ToLower(strings.TrimSpace(title))}
			continue
		}
		if cur != nil {
			lines = append(lines, line)
		}
	}
	flush()
	return out
}

func sectionBody(secs []section, match func(title string) bool) string {
	for _, s := range secs {
		if match(s.title) {
			return s.body
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// bullets splits a section on leading "-" markers. Lines without a marker
// continue the previous item; a body with no markers is one item per line.
func bullets(body string) []string {
	var out []string
	marked := false
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") {
			marked = true
			if item := strings.TrimSpace(strings.TrimLeft(line, "- ")); item != "" {
				out = append(out, item)
			}
			continue
		}
		if marked && len(out) > 0 {
			out[len(out)-1] += " " + line
			continue
		}
		out = append(out, line)
	}
	return out
}

var noteCategories = []struct {
	cat  Category
	keys []string
}{
	{CategoryContent, []string{"content"}},
	{CategoryCommunication, []string{"communication"}},
	{CategoryConfidence, []string{"confidence"}},
	{CategoryTechnical, []string{"technical"}},
	{CategoryProblemSolving, []string{"problem solving", "problem-solving"}},
}

// ExtractNarrative slices the summary, lists and per-category notes out of
// markdown-ish feedback.
func ExtractNarrative(text string) (n Narrative) {
	defer func() {
		if recover() != nil {
			n = Narrative{}
		}
	}()

	for _, s := range splitSections(text) {
		switch {
		case s.body == "":
		case containsAny(s.title, "breakdown", "scores"):
		case containsAny(s.title, "summary", "overall assessment", "overview"):
			if n.Summary == "" {
				n.Summary = s.body
			}
		case containsAny(s.title, "strength"):
			n.Strengths = append(n.Strengths, bullets(s.body)...)
		case containsAny(s.title, "improve", "weakness", "growth"):
			n.Improvements = append(n.Improvements, bullets(s.body)...)
		case containsAny(s.title, "recommendation", "next step"):
			n.Recommendations = append(n.Recommendations, bullets(s.body)...)
		default:
			for _, c := range noteCategories {
				if containsAny(s.title, c.keys...) {
					if n.CategoryNotes == nil {
						n.CategoryNotes = map[Category]string{}
					}
					if _, ok := n.CategoryNotes[c.cat]; !ok {
						n.CategoryNotes[c.cat] = s.body
					}
					break
				}
			}
		}
	}
	return n
}
