package scrape

import (
	"strings"

	istrings "github.com/campushq/coursetrack/internal/strings"
)

// ambiguousSignals are labels the site uses both for "view your
// submission" and "view the assignment description". They must never
// resolve to submitted without corroborating score evidence.
var ambiguousSignals = map[string]bool{
	"view":        true,
	"view/submit": true,
}

// labelTable maps action-signal labels to statuses. Order matters for the
// substring pass: completion labels come before their not-started
// substrings so "resubmit" never matches "submit" first.
var labelTable = []struct {
	label  string
	status Status
}{
	{"continue exam", StatusInProgress},
	{"continue", StatusInProgress},
	{"resume", StatusInProgress},
	{"resubmit", StatusSubmitted},
	{"completed", StatusSubmitted},
	{"graded", StatusSubmitted},
	{"begin exam", StatusNotStarted},
	{"begin", StatusNotStarted},
	{"start", StatusNotStarted},
	{"take", StatusNotStarted},
	{"submit", StatusNotStarted},
	{"open", StatusNotStarted},
	{"closed", StatusNotStarted},
}

// InferStatus maps an action signal, score evidence, and status text to a
// canonical status. First match wins; the ordering prefers marking
// something not-submitted over wrongly marking it submitted, because
// status drives study-priority downstream.
func InferStatus(actionSignal string, hasScore bool, statusText string) Status {
	signal := istrings.NormalizeLowerTrimSpace(actionSignal)
	status := istrings.NormalizeLowerTrimSpace(statusText)

	if strings.HasPrefix(signal, "opens") ||
		strings.Contains(signal, "unavailable") ||
		strings.Contains(status, "unavailable") {
		return StatusUnavailable
	}

	// A score, grade letter, or excused marker is definitive completion
	// evidence.
	if hasScore {
		return StatusSubmitted
	}

	if ambiguousSignals[signal] {
		return StatusNotStarted
	}

	for _, entry := range labelTable {
		if signal == entry.label {
			return entry.status
		}
	}
	for _, entry := range labelTable {
		if strings.Contains(signal, entry.label) {
			return entry.status
		}
	}

	return StatusNotStarted
}

// InferType classifies an assignment from the site's type field and the
// title. Reflections use the exam/quiz URL format on the site, so they
// are tagged quiz.
func InferType(siteType, title string) AssignmentType {
	switch istrings.NormalizeLowerTrimSpace(siteType) {
	case "exam":
		return TypeExam
	case "quiz":
		return TypeQuiz
	}

	lowered := strings.ToLower(title)
	switch {
	case strings.Contains(lowered, "exam"):
		return TypeExam
	case strings.Contains(lowered, "quiz"), strings.Contains(lowered, "reflection"):
		return TypeQuiz
	case strings.Contains(lowered, "reading"):
		return TypeReading
	case strings.Contains(lowered, "discussion"):
		return TypeDiscussion
	}
	return TypeAssignment
}
