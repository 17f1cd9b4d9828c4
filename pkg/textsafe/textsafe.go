// Package textsafe strips markup from user supplied free text (bios, goals, notes)
// before it is stored or rendered.
package textsafe

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var repeatedSpaceRegex = regexp.MustCompile(`\s+`)

// Sanitizer removes every HTML tag and collapses whitespace.
// Safe for concurrent use.
type Sanitizer struct {
	policyPool sync.Pool
}

// New creates a Sanitizer backed by bluemonday's strict policy.
func New() *Sanitizer {
	return &Sanitizer{
		policyPool: sync.Pool{
			New: func() interface{} {
				return bluemonday.StrictPolicy()
			},
		},
	}
}

// Text returns s as plain text on a single line.
func (s *Sanitizer) Text(in string) string {
	if in == "" {
		return ""
	}
	policy := s.policyPool.Get().(*bluemonday.Policy)
	defer s.policyPool.Put(policy)

	clean := repeatedSpaceRegex.ReplaceAllString(policy.Sanitize(in), " ")
	return strings.TrimSpace(html.UnescapeString(clean))
}

// Texts sanitizes each value and drops the ones left empty.
func (s *Sanitizer) Texts(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = s.Text(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var defaultSanitizer = New()

// Text sanitizes with the package level Sanitizer.
func Text(in string) string {
	return defaultSanitizer.Text(in)
}

// Texts sanitizes with the package level Sanitizer.
func Texts(in []string) []string {
	return defaultSanitizer.Texts(in)
}
