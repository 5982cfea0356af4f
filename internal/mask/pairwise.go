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

import "unicode"

// Masked is a masked string together with the wildcard set it was censored with.
type Masked struct {
	Value     string
	Wildcards WildcardSet
}

// NewMasked extracts the domain part of value and pairs it with wildcards.
func NewMasked(value string, wildcards WildcardSet) Masked {
	return Masked{Value: ExtractDomain(value), Wildcards: wildcards}
}

func (m Masked) String() string { return m.Value }

// Compatible reports whether a and b could be two censored renderings of the same string.
// Each side is read under its own wildcard set. A position is compatible when either side
// holds a wildcard there or both characters are equal ignoring case. Strings of different
// length are never compatible.
func Compatible(a, b Masked) bool {
	ar, br := []rune(a.Value), []rune(b.Value)
	if len(ar) != len(br) {
		return false
	}
	for i := range ar {
		if isWildcard(ar[i], a.Wildcards) || isWildcard(br[i], b.Wildcards) {
			continue
		}
		if unicode.ToLower(ar[i]) != unicode.ToLower(br[i]) {
			return false
		}
	}
	return true
}

// Validity is a tri-state override for a verdict that is known ahead of computation.
type Validity uint8

const (
	// Unknown means no override: the verdict is computed.
	Unknown Validity = iota
	// Valid forces a positive verdict.
	Valid
	// Invalid forces a negative verdict.
	Invalid
)

func (v Validity) String() string {
	switch v {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Comparison is a pairwise comparison that may carry externally verified ground truth.
type Comparison struct {
	A, B  Masked
	Known Validity
}

// Verdict returns the override when one is set, otherwise Compatible(A, B).
func (c Comparison) Verdict() bool {
	switch c.Known {
	case Valid:
		return true
	case Invalid:
		return false
	default:
		return Compatible(c.A, c.B)
	}
}

// KnownDomain is a single candidate domain with an optional validity override.
// When Known is Unknown the supplied syntax check decides.
type KnownDomain struct {
	Name  string
	Known Validity
}

// IsValid returns the override, or check(Name) when there is none.
// A nil check accepts everything.
func (d KnownDomain) IsValid(check func(string) bool) bool {
	switch d.Known {
	case Valid:
		return true
	case Invalid:
		return false
	}
	if check == nil {
		return true
	}
	return check(d.Name)
}
