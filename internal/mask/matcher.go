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
	"unicode"
	"unicode/utf8"
)

// Match reports whether the masked pattern matches literal under the given wildcards.
//
// Lengths are compared in characters and must be equal: masking never adds or removes
// characters. Comparison is case-insensitive. A position holding a wildcard matches
// anything; every other position must be equal. Match(s, s, WildcardSet{}) is true for
// every s, including the empty string.
//
// Match is asymmetric: pattern is the masked side, literal is taken verbatim.
func Match(pattern, literal string, wildcards WildcardSet) bool {
	p := Compile(pattern, wildcards)
	return p.Match(literal)
}

// literal is one non-wildcard position of a compiled pattern.
type literal struct {
	pos int  // character offset
	r   rune // lowercased
}

// Pattern is a masked pattern compiled against one wildcard set.
// It keeps only the positions that must match literally, so evaluating it against a
// candidate costs one length check plus one comparison per literal position.
//
// A Pattern is immutable and safe to share between goroutines.
type Pattern struct {
	raw       string
	wildcards WildcardSet
	length    int // in characters
	ascii     bool
	literals  []literal
}

// Compile precomputes the literal positions of pattern under wildcards.
func Compile(pattern string, wildcards WildcardSet) Pattern {
	p := Pattern{
		raw:       pattern,
		wildcards: wildcards,
		ascii:     true,
	}
	pos := 0
	for _, r := range pattern {
		if r >= utf8.RuneSelf {
			p.ascii = false
		}
		if !isWildcard(r, wildcards) {
			p.literals = append(p.literals, literal{pos: pos, r: unicode.ToLower(r)})
		}
		pos++
	}
	p.length = pos
	return p
}

// isWildcard folds r before the membership test. Upper-case members of ws therefore
// never mask anything: "X" is folded to "x" first.
func isWildcard(r rune, ws WildcardSet) bool {
	return ws.Contains(unicode.ToLower(r))
}

// String returns the pattern as given to Compile.
func (p Pattern) String() string { return p.raw }

// Len returns the pattern length in characters.
func (p Pattern) Len() int { return p.length }

// Wildcards returns the set the pattern was compiled against.
func (p Pattern) Wildcards() WildcardSet { return p.wildcards }

// Masked reports how many positions of the pattern are wildcards.
func (p Pattern) Masked() int { return p.length - len(p.literals) }

// SameLength is the length short-circuit used by bulk matching: candidates for
// which it returns false can never match.
func (p Pattern) SameLength(candidate string) bool {
	if len(candidate) < p.length {
		// A string holds at least one byte per character.
		return false
	}
	if p.ascii && len(candidate) == p.length {
		return true
	}
	return utf8.RuneCountInString(candidate) == p.length
}

// Match evaluates the compiled pattern against one literal candidate.
func (p Pattern) Match(candidate string) bool {
	if !p.SameLength(candidate) {
		return false
	}
	if len(candidate) == p.length {
		// Byte length equals character count, so the candidate is ASCII and
		// every literal position indexes one byte.
		for _, l := range p.literals {
			if l.r >= utf8.RuneSelf || rune(lowerASCII(candidate[l.pos])) != l.r {
				return false
			}
		}
		return true
	}

	next := 0
	pos := 0
	for _, r := range candidate {
		if next == len(p.literals) {
			return true
		}
		if p.literals[next].pos == pos {
			if unicode.ToLower(r) != p.literals[next].r {
				return false
			}
			next++
		}
		pos++
	}
	return next == len(p.literals)
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
