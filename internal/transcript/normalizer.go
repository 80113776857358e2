// Package transcript turns the raw transcripts a call provider hands back
// into ordered, millisecond-stamped speaker segments.
package transcript

import (
	"encoding/json"
	"math"
	"strings"
)

type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

type Source string

const (
	SourceTranscriptObject Source = "transcript_object"
	SourceToolCallsForm    Source = "transcript_with_tool_calls"
	SourcePlainText        Source = "plain_text"
	SourceEmpty            Source = "empty"
)

const (
	msPerWordEstimate  = 300
	minSegmentMs       = 1000
	interTurnGapMs     = 500
	plainTextWordsPerM = 150
)

type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

type Turn struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Words     []Word `json:"words,omitempty"`
	Sentiment string `json:"sentiment,omitempty"`
}

// Raw holds every transcript form a call record can carry. The first
// non-empty one in field order wins.
type Raw struct {
	TranscriptObject        []Turn `json:"transcript_object,omitempty"`
	TranscriptWithToolCalls []Turn `json:"transcript_with_tool_calls,omitempty"`
	Transcript              string `json:"transcript,omitempty"`
}

type Segment struct {
	Speaker        Speaker  `json:"speaker"`
	Content        string   `json:"content"`
	StartMs        int64    `json:"start_ms"`
	EndMs          int64    `json:"end_ms"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	SegmentIndex   int      `json:"segment_index"`
}

type Result struct {
	Segments        []Segment `json:"segments"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	Source          Source    `json:"source"`
}

func ParseRaw(data []byte) (Raw, error) {
	var r Raw
	if len(data) == 0 {
		return r, nil
	}
	err := json.Unmarshal(data, &r)
	return r, err
}

// Normalize converts raw into segments. totalDurationMs is the call length
// reported by the provider, or 0 when unknown.
func Normalize(raw Raw, totalDurationMs int64) Result {
	var (
		segs []Segment
		src  Source
	)
	switch {
	case hasSpeech(raw.TranscriptObject):
		segs, src = fromTurns(raw.TranscriptObject), SourceTranscriptObject
	case hasSpeech(raw.TranscriptWithToolCalls):
		segs, src = fromTurns(raw.TranscriptWithToolCalls), SourceToolCallsForm
	case strings.TrimSpace(raw.Transcript) != "":
		segs, src = fromPlainText(raw.Transcript, totalDurationMs), SourcePlainText
	default:
		return Result{Segments: []Segment{}, TotalDurationMs: max64(totalDurationMs, 0), Source: SourceEmpty}
	}

	for i := range segs {
		segs[i].SegmentIndex = i
	}
	total := totalDurationMs
	if total <= 0 && len(segs) > 0 {
		total = segs[len(segs)-1].EndMs
	}
	return Result{Segments: segs, TotalDurationMs: total, Source: src}
}

func SentimentScore(s string) float64 {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return 0.8
	case "negative":
		return 0.2
	default:
		return 0.5
	}
}

func speakerOf(role string) (Speaker, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "agent", "assistant", "interviewer", "ai":
		return SpeakerAgent, true
	case "user", "candidate", "human":
		return SpeakerUser, true
	default:
		return "", false
	}
}

func hasSpeech(turns []Turn) bool {
	for _, t := range turns {
		if _, ok := speakerOf(t.Role); ok && strings.TrimSpace(t.Content) != "" {
			return true
		}
	}
	return false
}

func fromTurns(turns []Turn) []Segment {
	segs := make([]Segment, 0, len(turns))
	for _, t := range turns {
		sp, ok := speakerOf(t.Role)
		content := strings.TrimSpace(t.Content)
		if !ok || content == "" {
			continue
		}

		var start, end int64
		if first, last, ok := wordBounds(t.Words); ok {
			start, end = secondsToMs(first), secondsToMs(last)
		} else {
			start = nextStart(segs)
			end = start + estimateMs(wordCount(content), msPerWordEstimate)
		}
		if n := len(segs); n > 0 && start < segs[n-1].StartMs {
			start = segs[n-1].StartMs
		}
		if end < start {
			end = start
		}

		score := SentimentScore(t.Sentiment)
		segs = append(segs, Segment{Speaker: sp, Content: content, StartMs: start, EndMs: end, SentimentScore: &score})
	}
	return segs
}

type textTurn struct {
	speaker Speaker
	content []string
}

func fromPlainText(text string, totalDurationMs int64) []Segment {
	var turns []textTurn
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if sp, rest, ok := splitSpeakerPrefix(line); ok {
			turns = append(turns, textTurn{speaker: sp, content: []string{rest}})
			continue
		}
		if n := len(turns); n > 0 {
			turns[n-1].content = append(turns[n-1].content, line)
		}
	}

	const msPerWord = 60_000 / plainTextWordsPerM
	segs := make([]Segment, 0, len(turns))
	for _, t := range turns {
		content := strings.TrimSpace(strings.Join(t.content, " "))
		if content == "" {
			continue
		}
		start := nextStart(segs)
		end := start + estimateMs(wordCount(content), msPerWord)
		segs = append(segs, Segment{Speaker: t.speaker, Content: content, StartMs: start, EndMs: end})
	}

	if totalDurationMs > 0 && len(segs) > 0 {
		rescale(segs, totalDurationMs)
	}
	return segs
}

// rescale stretches estimated timings so the last segment ends at total,
// keeping relative pacing.
func rescale(segs []Segment, total int64) {
	lastEnd := segs[len(segs)-1].EndMs
	if lastEnd <= 0 {
		return
	}
	f := float64(total) / float64(lastEnd)
	for i := range segs {
		segs[i].StartMs = int64(math.Round(float64(segs[i].StartMs) * f))
		segs[i].EndMs = int64(math.Round(float64(segs[i].EndMs) * f))
	}
	segs[len(segs)-1].EndMs = total
}

var speakerPrefixes = []struct {
	prefix  string
	speaker Speaker
}{
	{"agent:", SpeakerAgent},
	{"interviewer:", SpeakerAgent},
	{"user:", SpeakerUser},
	{"candidate:", SpeakerUser},
}

func splitSpeakerPrefix(line string) (Speaker, string, bool) {
	lower := strings.ToLower(line)
	for _, p := range speakerPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			return p.speaker, strings.TrimSpace(line[len(p.prefix):]), true
		}
	}
	return "", "", false
}

func wordBounds(words []Word) (float64, float64, bool) {
	if len(words) == 0 {
		return 0, 0, false
	}
	first, last := words[0].Start, words[len(words)-1].End
	if first < 0 || last <= 0 {
		return 0, 0, false
	}
	return first, last, true
}

func nextStart(segs []Segment) int64 {
	if len(segs) == 0 {
		return 0
	}
	return segs[len(segs)-1].EndMs + interTurnGapMs
}

func estimateMs(words int, msPerWord int64) int64 {
	return max64(int64(words)*msPerWord, minSegmentMs)
}

func wordCount(s string) int { return len(strings.Fields(s)) }

func secondsToMs(s float64) int64 { return int64(math.Round(s * 1000)) }

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
