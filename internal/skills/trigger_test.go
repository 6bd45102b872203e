package skills

import "testing"

func TestMatchesTriggerKeyword(t *testing.T) {
	b, err := Parse([]byte("---\nname: x\ndescription: x\ntriggers:\n  - weather\n---\nbody"), "/skills/x")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !b.MatchesTrigger("what's the WEATHER like today") {
		t.Fatal("expected case-insensitive keyword match")
	}
	if b.MatchesTrigger("what time is it") {
		t.Fatal("expected no match for unrelated message")
	}
}

func TestMatchesTriggerRegex(t *testing.T) {
	b, err := Parse([]byte("---\nname: x\ndescription: x\ntriggers:\n  - /forecast for \\w+/\n---\nbody"), "/skills/x")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !b.MatchesTrigger("give me the forecast for paris") {
		t.Fatal("expected regex trigger to match")
	}
	if b.MatchesTrigger("forecast for") {
		t.Fatal("expected regex trigger to require a word after 'for'")
	}
}

func TestParseInvalidRegexTrigger(t *testing.T) {
	_, err := Parse([]byte("---\nname: x\ndescription: x\ntriggers:\n  - \"/(unterminated/\"\n---\nbody"), "/skills/x")
	if err == nil {
		t.Fatal("expected error for invalid regex trigger")
	}
}
