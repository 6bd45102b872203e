package subagent

import "testing"

func TestIDPatternAcceptsSlugsOnly(t *testing.T) {
	cases := map[string]bool{
		"research-bot": true,
		"a":            true,
		"Research":     false,
		"has_underscore": false,
		"":             false,
		"has space":    false,
	}
	for id, want := range cases {
		if got := idPattern.MatchString(id); got != want {
			t.Errorf("idPattern.MatchString(%q) = %v, want %v", id, got, want)
		}
	}
}
