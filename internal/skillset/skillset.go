// Package skillset provides the normalized skill token set used across the
// recommendation pipeline.
//
// Normalization law: a raw token is trimmed, lower-cased and dropped when
// empty; duplicates collapse. The law is applied when raw text enters the
// system (Parse, New); set operations work on already-normalized tokens.
package skillset

import (
	"sort"
	"strings"
)

// Set is a sorted, duplicate-free list of normalized skill names.
type Set []string

// Normalize applies the normalization law to a single token.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// New builds a Set from raw tokens.
func New(raw ...string) Set {
	seen := make(map[string]struct{}, len(raw))
	out := make(Set, 0, len(raw))
	for _, r := range raw {
		n := Normalize(r)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Parse splits a comma-separated field into a Set.
func Parse(field string) Set {
	if strings.TrimSpace(field) == "" {
		return Set{}
	}
	return New(strings.Split(field, ",")...)
}

// Len returns the number of skills.
func (s Set) Len() int { return len(s) }

// Empty reports whether the set has no skills.
func (s Set) Empty() bool { return len(s) == 0 }

// Contains reports whether name (normalized) is in the set.
func (s Set) Contains(name string) bool {
	n := Normalize(name)
	i := sort.SearchStrings(s, n)
	return i < len(s) && s[i] == n
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	out := make(Set, 0, len(s)+len(o))
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		switch {
		case s[i] < o[j]:
			out = append(out, s[i])
			i++
		case s[i] > o[j]:
			out = append(out, o[j])
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	out = append(out, s[i:]...)
	return append(out, o[j:]...)
}

// Intersect returns s ∩ o.
func (s Set) Intersect(o Set) Set {
	out := Set{}
	i, j := 0, 0
	for i < len(s) && j < len(o) {
		switch {
		case s[i] < o[j]:
			i++
		case s[i] > o[j]:
			j++
		default:
			out = append(out, s[i])
			i++
			j++
		}
	}
	return out
}

// Minus returns s − o.
func (s Set) Minus(o Set) Set {
	out := Set{}
	j := 0
	for _, v := range s {
		for j < len(o) && o[j] < v {
			j++
		}
		if j < len(o) && o[j] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Intersects reports whether s and o share at least one skill.
func (s Set) Intersects(o Set) bool {
	return len(s.Intersect(o)) > 0
}

// Join renders the set as "a, b, c".
func (s Set) Join() string {
	return strings.Join(s, ", ")
}

// Field renders the set back into the comma-separated storage form.
func (s Set) Field() string {
	return strings.Join(s, ", ")
}
