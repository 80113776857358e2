package congruency

import (
	"fmt"
	"strings"
)

type Strength int

const (
	// Quick is the lenient variant used by the live gate.
	Quick Strength = iota
	// Thorough is the strict variant for offline review.
	Thorough
)

const (
	maxResumeChars  = 6000
	maxJobChars     = 3000
	maxContextTurns = 10
	maxTurnChars    = 400
)

type Turn struct {
	Role    string
	Content string
}

type Input struct {
	ResumeText     string
	JobTitle       string
	JobDescription string
	Conversation   []Turn
}

const verdictSchema = `Respond with JSON only, exactly this shape:
{
  "is_congruent": true|false,
  "confidence": 0.0-1.0,
  "recommendation": "continue"|"end_gracefully",
  "is_extremely_incompatible": true|false,
  "overlap_percent": 0-100,
  "skill_match": {"matched": [], "missing": [], "transferable": []},
  "reasoning": "one or two sentences"
}`

const quickSystem = `You screen practice interviews for a grossly mismatched resume and job.
Be lenient. Career changers, juniors and adjacent fields are congruent.
Only mark is_congruent=false when skill overlap is below roughly 10-15 percent,
and only set is_extremely_incompatible=true when the resume and the job are
from entirely unrelated fields (for example a pastry chef resume for a kernel
engineer role). When in doubt, recommend "continue".
` + verdictSchema

const thoroughSystem = `You review how well a candidate's resume fits a job.
Assess required skills, experience level and domain knowledge carefully.
Overlap of 70 percent or more is congruent. Overlap between 40 and 70 percent is
partially congruent: is_congruent=true with lower confidence and the gaps listed
as missing. Overlap below 40 percent is incongruent. Set
is_extremely_incompatible=true only for entirely unrelated fields.
` + verdictSchema

func systemPrompt(s Strength) string {
	if s == Thorough {
		return thoroughSystem
	}
	return quickSystem
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "JOB TITLE:\n%s\n\n", strings.TrimSpace(in.JobTitle))
	fmt.Fprintf(&b, "JOB DESCRIPTION:\n%s\n\n", truncate(in.JobDescription, maxJobChars))
	fmt.Fprintf(&b, "RESUME:\n%s\n", truncate(in.ResumeText, maxResumeChars))

	turns := in.Conversation
	if len(turns) > maxContextTurns {
		turns = turns[len(turns)-maxContextTurns:]
	}
	if len(turns) > 0 {
		b.WriteString("\nINTERVIEW SO FAR:\n")
		for _, t := range turns {
			fmt.Fprintf(&b, "%s: %s\n", speakerLabel(t.Role), truncate(t.Content, maxTurnChars))
		}
	}
	return b.String()
}

func speakerLabel(role string) string {
	if role == "user" {
		return "Candidate"
	}
	return "Interviewer"
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
