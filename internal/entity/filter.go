package entity

import (
	"fmt"
	"strings"

	"github.com/jgivc/rinexfetch/internal/common"
)

const (
	Wildcard        = "all"
	PrefixSeparator = ","
)

// FilterSpec selects listing entries by case-insensitive prefix.
// The Wildcard matches everything and overrides any other prefix.
type FilterSpec struct {
	prefixes []string
	all      bool
}

func NewFilterSpec(prefixes []string) (FilterSpec, error) {
	seen := make(map[string]struct{}, len(prefixes))
	var clean []string

	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}

		if p == Wildcard {
			return FilterSpec{all: true}, nil
		}

		if _, exists := seen[p]; exists {
			continue
		}
		seen[p] = struct{}{}
		clean = append(clean, p)
	}

	if len(clean) == 0 {
		return FilterSpec{}, fmt.Errorf("%w: filter has no prefixes", common.ErrInvalidInput)
	}

	return FilterSpec{prefixes: clean}, nil
}

// ParseFilterSpec parses a comma separated prefix list such as "ABCD, efgh" or "all".
func ParseFilterSpec(value string) (FilterSpec, error) {
	return NewFilterSpec(strings.Split(value, PrefixSeparator))
}

func (f FilterSpec) IsWildcard() bool { return f.all }
func (f FilterSpec) IsZero() bool     { return !f.all && len(f.prefixes) == 0 }

func (f FilterSpec) Prefixes() []string {
	if f.all {
		return []string{Wildcard}
	}

	out := make([]string, len(f.prefixes))
	copy(out, f.prefixes)

	return out
}

// Match reports whether the raw link text passes the filter.
func (f FilterSpec) Match(link string) bool {
	if f.all {
		return true
	}

	lower := strings.ToLower(link)
	for _, p := range f.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}

	return false
}

func (f FilterSpec) String() string {
	return strings.Join(f.Prefixes(), PrefixSeparator)
}
