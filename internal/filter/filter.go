// Package filter drops fetched items matching configured exclusion patterns.
package filter

import (
	"fmt"
	"regexp"

	"github.com/mzaremba/driftwatch/internal/source"
)

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Drop removes items whose string attributes match any pattern,
// preserving the order of the rest.
func Drop(items []source.Item, patterns []*regexp.Regexp) []source.Item {
	if len(patterns) == 0 {
		return items
	}
	kept := items[:0]
	for _, it := range items {
		if matches(it, patterns) {
			continue
		}
		kept = append(kept, it)
	}
	return kept
}

func matches(it source.Item, patterns []*regexp.Regexp) bool {
	for _, v := range it.Attrs {
		s, ok := v.(string)
		if !ok {
			continue
		}
		for _, re := range patterns {
			if re.MatchString(s) {
				return true
			}
		}
	}
	return false
}
