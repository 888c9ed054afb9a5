// Package continuation decides whether a finished reply is a truncated
// fragment of a longer structured answer and, if so, what to send next.
package continuation

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultMaxRounds caps a chain of automatic continuations.
	DefaultMaxRounds = 25

	// Marker is the token a backend appends when it expects to be told to go on.
	Marker = "[to be continue]"

	// ProceedPrompt is sent when the reply ended with Marker.
	ProceedPrompt = "go on"

	// ResumeStepsPrompt is sent when a "Step [X/Y]" sequence never reached its final step.
	ResumeStepsPrompt = "Go on. If the code from any step in the previous round of dialogue was not output " +
		"completely, then starting from the step where the code is incomplete, strictly follow the output " +
		"format requirements to re-output that step and all subsequent steps."
)

var (
	markerSuffix = regexp.MustCompile(`(?i)\[to be continue\]\s*$`)
	markerStrip  = regexp.MustCompile(`(?i)\s*\[to be continue\]\s*$`)
	stepPattern  = regexp.MustCompile(`(?i)step\s*\[\s*(\d+)\s*/\s*(\d+)\s*\]`)
)

// Reason explains a Decision.
type Reason string

const (
	ReasonComplete        Reason = "complete"
	ReasonMarker          Reason = "marker"
	ReasonIncompleteSteps Reason = "incomplete_steps"
	ReasonRoundCap        Reason = "round_cap"
)

// Decision is the verdict for one finished round.
type Decision struct {
	Continue bool
	Prompt   string
	Reason   Reason
}

// Policy is the auto-continue rule set. MaxRounds 0 disables auto-continue;
// a negative value uses DefaultMaxRounds.
type Policy struct {
	MaxRounds int
}

// DefaultPolicy returns a Policy capped at DefaultMaxRounds.
func DefaultPolicy() Policy {
	return Policy{MaxRounds: DefaultMaxRounds}
}

// Limit returns the effective round cap.
func (p Policy) Limit() int {
	if p.MaxRounds < 0 {
		return DefaultMaxRounds
	}
	return p.MaxRounds
}

// Decide evaluates the accumulated text of a round. rounds is the number of
// continuations already issued in the current chain.
func (p Policy) Decide(text string, rounds int) Decision {
	verdict := evaluate(text)
	if rounds >= p.Limit() {
		if verdict.Continue {
			return Decision{Reason: ReasonRoundCap}
		}
		return Decision{Reason: ReasonComplete}
	}
	return verdict
}

// Decide evaluates text with the default policy.
func Decide(text string, rounds int) Decision {
	return DefaultPolicy().Decide(text, rounds)
}

func evaluate(text string) Decision {
	if EndsWithMarker(text) {
		return Decision{Continue: true, Prompt: ProceedPrompt, Reason: ReasonMarker}
	}
	if HasIncompleteSteps(text) {
		return Decision{Continue: true, Prompt: ResumeStepsPrompt, Reason: ReasonIncompleteSteps}
	}
	return Decision{Reason: ReasonComplete}
}

// EndsWithMarker reports whether text ends with Marker, ignoring case and
// trailing whitespace.
func EndsWithMarker(text string) bool {
	return markerSuffix.MatchString(text)
}

// StripMarker removes one trailing Marker and trims surrounding whitespace.
func StripMarker(text string) string {
	return strings.TrimSpace(markerStrip.ReplaceAllString(text, ""))
}

type stepGroup struct {
	hasIncomplete bool
	hasFinal      bool
}

// HasIncompleteSteps groups every "Step [X/Y]" by Y and reports whether some
// group announced a step X<Y but never a final step X==Y. X>Y is malformed
// and counts for neither.
func HasIncompleteSteps(text string) bool {
	matches := stepPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return false
	}

	groups := make(map[int]*stepGroup)
	for _, m := range matches {
		x, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		y, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}

		g, ok := groups[y]
		if !ok {
			g = &stepGroup{}
			groups[y] = g
		}
		switch {
		case x < y:
			g.hasIncomplete = true
		case x == y:
			g.hasFinal = true
		}
	}

	for _, g := range groups {
		if g.hasIncomplete && !g.hasFinal {
			return true
		}
	}
	return false
}
