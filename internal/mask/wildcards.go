/*
Package mask implements the comparison primitives of unmask: the wildcard set, the
single-pair wildcard matcher, the compiled pattern used by bulk matching and the
pairwise comparator for two independently masked strings.

Everything in this package is pure. Nothing here allocates shared state, performs I/O
or blocks, so every function is safe for concurrent use.
*/
package mask

/*
unmask — recover censored email domains from a list of known domains
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"slices"
	"strings"
	"unicode/utf8"
)

// DefaultWildcards are the censoring characters assumed by the command line
// when none are given.
const DefaultWildcards = "*?"

// WildcardSet is an immutable set of single characters. Any character of the set found
// in a masked pattern matches any one character at that position.
//
// The zero value is the empty set, which disables wildcarding. WildcardSet has value
// semantics: ASCII members live in a fixed bitmap and the rest in an immutable string,
// so a copy never shares mutable storage with the original.
type WildcardSet struct {
	ascii [2]uint64 // bitmap for runes < 128
	other string    // sorted, unique non-ASCII runes
}

// ParseWildcards flattens groups into one set. Each group is decomposed character by
// character, duplicates collapse. ParseWildcards("*?", "*") == {"*", "?"}.
func ParseWildcards(groups ...string) WildcardSet {
	var (
		ws    WildcardSet
		other []rune
	)
	for _, g := range groups {
		for _, r := range g {
			if r < utf8.RuneSelf {
				ws.ascii[r>>6] |= 1 << (uint(r) & 63)
				continue
			}
			if !slices.Contains(other, r) {
				other = append(other, r)
			}
		}
	}
	slices.Sort(other)
	ws.other = string(other)
	return ws
}

// MergeWildcards builds a set from groups of explicit tokens. Every token must be exactly
// one character; otherwise a *ConfigError is returned and no set is produced.
func MergeWildcards(groups ...[]string) (WildcardSet, error) {
	var b strings.Builder
	for _, g := range groups {
		for _, tok := range g {
			if n := utf8.RuneCountInString(tok); n != 1 {
				reason := "must be exactly one character"
				if n == 0 {
					reason = "empty token"
				}
				return WildcardSet{}, &ConfigError{Token: tok, Reason: reason}
			}
			b.WriteString(tok)
		}
	}
	return ParseWildcards(b.String()), nil
}

// Contains reports whether r is a member of the set.
func (ws WildcardSet) Contains(r rune) bool {
	if r < 0 {
		return false
	}
	if r < utf8.RuneSelf {
		return ws.ascii[r>>6]&(1<<(uint(r)&63)) != 0
	}
	return strings.ContainsRune(ws.other, r)
}

// Len returns the number of characters in the set.
func (ws WildcardSet) Len() int {
	n := 0
	for _, w := range ws.ascii {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}
	return n + utf8.RuneCountInString(ws.other)
}

// Empty reports whether the set has no members.
func (ws WildcardSet) Empty() bool {
	return ws.ascii[0] == 0 && ws.ascii[1] == 0 && ws.other == ""
}

// Union returns a new set holding the members of both sets.
func (ws WildcardSet) Union(o WildcardSet) WildcardSet {
	return ParseWildcards(ws.String(), o.String())
}

// Chars returns the members as single-character strings in ascending order.
func (ws WildcardSet) Chars() []string {
	out := make([]string, 0, ws.Len())
	for r := rune(0); r < utf8.RuneSelf; r++ {
		if ws.Contains(r) {
			out = append(out, string(r))
		}
	}
	for _, r := range ws.other {
		out = append(out, string(r))
	}
	return out
}

// String returns the members concatenated in ascending order.
func (ws WildcardSet) String() string {
	return strings.Join(ws.Chars(), "")
}

// Equal reports whether both sets hold the same members.
func (ws WildcardSet) Equal(o WildcardSet) bool {
	return ws.ascii == o.ascii && ws.other == o.other
}

// ExtractDomain returns the part of an address-like input after its last unescaped '@'.
// Inputs without one are returned unchanged. A '@' directly preceded by a backslash
// belongs to the local part. No validation is performed on the result.
func ExtractDomain(input string) string {
	for i := len(input) - 1; i >= 0; i-- {
		if input[i] != '@' {
			continue
		}
		if i > 0 && input[i-1] == '\\' {
			continue
		}
		return input[i+1:]
	}
	return input
}
