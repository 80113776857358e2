package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveCallID(t *testing.T) {
	cases := []struct {
		name     string
		segments []string
		want     string
		ok       bool
	}{
		{`sole segment`, []string{"call_abc"}, "call_abc", true},
		{`after placeholder`, []string{"anything", "call_abc"}, "call_abc", true},
		{`trailing slash`, []string{"call_abc/"}, "call_abc", true},
		{`empty`, []string{""}, "", false},
		{`nothing`, nil, "", false},
		{`template braces`, []string{"{call_id}"}, "", false},
		{`colon template`, []string{"x", ":call_id"}, "", false},
		{`undefined`, []string{"undefined"}, "", false},
		{`null in any case`, []string{"NULL"}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ResolveCallID(tc.segments...)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestAgents(t *testing.T) {
	a := Agents{Default: "multi", Spanish: "es"}
	require.Equal(t, "es", a.ForLanguage("es"))
	require.Equal(t, "es", a.ForLanguage("ES-es"))
	require.Equal(t, "es", a.ForLanguage("es_MX"))
	require.Equal(t, "multi", a.ForLanguage("en-US"))
	require.Equal(t, "multi", a.ForLanguage("estonian"))
	require.Equal(t, "multi", Agents{Default: "multi"}.ForLanguage("es"))
}

func TestClosingLines(t *testing.T) {
	require.Contains(t, ClosingExtremeMismatch, "credit will be restored")
	require.NotContains(t, ClosingMismatch, "credit")
}
