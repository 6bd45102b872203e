package skills

import (
	"fmt"
	"regexp"
	"strings"
)

// triggerMatcher tests one compiled trigger from a bundle's metadata
// against an incoming message.
type triggerMatcher interface {
	Match(message string) bool
}

// regexTrigger wraps a pattern written as /pattern/, per the common
// convention for distinguishing a regex trigger from a plain keyword.
type regexTrigger struct{ re *regexp.Regexp }

func (r regexTrigger) Match(message string) bool { return r.re.MatchString(message) }

// keywordTrigger does a case-insensitive substring match.
type keywordTrigger struct{ word string }

func (k keywordTrigger) Match(message string) bool {
	return strings.Contains(strings.ToLower(message), k.word)
}

func (b *Bundle) compileTriggers() error {
	b.matchers = make([]triggerMatcher, 0, len(b.Triggers))
	for _, trigger := range b.Triggers {
		if strings.HasPrefix(trigger, "/") && strings.HasSuffix(trigger, "/") && len(trigger) > 1 {
			pattern := trigger[1 : len(trigger)-1]
			re, err := regexp.Compile("(?i)" + pattern)
			if err != nil {
				return fmt.Errorf("skill %q: invalid trigger regex %q: %w", b.Name, trigger, err)
			}
			b.matchers = append(b.matchers, regexTrigger{re: re})
			continue
		}
		b.matchers = append(b.matchers, keywordTrigger{word: strings.ToLower(trigger)})
	}
	return nil
}

// MatchesTrigger reports whether message matches any of the bundle's
// triggers.
func (b *Bundle) MatchesTrigger(message string) bool {
	for _, m := range b.matchers {
		if m.Match(message) {
			return true
		}
	}
	return false
}
