package scrape

import (
	"html"
	"regexp"

	istrings "github.com/campushq/coursetrack/internal/strings"
)

var htmlTag = regexp.MustCompile(`<[^>]+>`)

const descriptionLimit = 500

// CleanDescription strips a site description down to plain text: entity
// decode, tag removal, whitespace collapse, then a length cap.
func CleanDescription(description string) string {
	if description == "" {
		return ""
	}
	cleaned := html.UnescapeString(description)
	cleaned = htmlTag.ReplaceAllString(cleaned, "")
	cleaned = istrings.NormalizeWhitespace(cleaned)
	return istrings.Truncate(cleaned, descriptionLimit)
}

// CleanTitle entity-decodes and whitespace-normalizes a title so identity
// matching is stable across scrape passes.
func CleanTitle(title string) string {
	return istrings.NormalizeWhitespace(html.UnescapeString(title))
}
