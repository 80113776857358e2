package congruency

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	t.Run(`extreme honored only above threshold`, func(t *testing.T) {
		for _, conf := range []float64{0, 0.5, 0.89, 0.9} {
			answer := fmt.Sprintf(`{"is_congruent":false,"confidence":%v,"recommendation":"end_gracefully","is_extremely_incompatible":true}`, conf)
			a, err := ParseVerdict(answer, 0.9)
			require.NoError(t, err)
			require.False(t, a.IsExtremelyIncompatible, "confidence %v", conf)
			require.Equal(t, RecommendContinue, a.Recommendation, "confidence %v", conf)
		}
		a, err := ParseVerdict(`{"is_congruent":false,"confidence":0.91,"recommendation":"continue","is_extremely_incompatible":true}`, 0.9)
		require.NoError(t, err)
		require.True(t, a.IsExtremelyIncompatible)
		require.Equal(t, RecommendEndGracefully, a.Recommendation)
	})

	t.Run(`congruent verdict never ends without extreme flag`, func(t *testing.T) {
		a, err := ParseVerdict(`{"is_congruent":true,"confidence":0.99,"recommendation":"end_gracefully"}`, 0.9)
		require.NoError(t, err)
		require.Equal(t, RecommendContinue, a.Recommendation)
	})

	t.Run(`confident soft mismatch ends`, func(t *testing.T) {
		a, err := ParseVerdict("```json\n{\"is_congruent\":false,\"confidence\":0.95,\"recommendation\":\"end_gracefully\"}\n```", 0.9)
		require.NoError(t, err)
		require.False(t, a.IsExtremelyIncompatible)
		require.Equal(t, RecommendEndGracefully, a.Recommendation)
		require.NotNil(t, a.MatchedSkills)
	})

	t.Run(`rejects incomplete or invalid verdicts`, func(t *testing.T) {
		for _, answer := range []string{
			`not json`,
			`{"confidence":0.5,"recommendation":"continue"}`,
			`{"is_congruent":true,"recommendation":"continue"}`,
			`{"is_congruent":true,"confidence":0.5}`,
			`{"is_congruent":true,"confidence":1.5,"recommendation":"continue"}`,
			`{"is_congruent":true,"confidence":0.5,"recommendation":"stop"}`,
		} {
			_, err := ParseVerdict(answer, 0.9)
			require.Error(t, err, answer)
		}
	})
}
