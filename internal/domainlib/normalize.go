/*
Package domainlib holds the domain-name helpers shared by the loaders and the query path:
normalisation of candidate and query strings and the pluggable syntax validators used to
drop implausible candidates at load time.
*/
package domainlib

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
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// NormalizeDomain standardizes a candidate domain: surrounding space is removed and the
// string is put in NFC form and lower case. Dots are kept; see TrimDots.
// Junk is not rejected here; that is the validator's job.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return ""
	}
	if !isASCII(domain) {
		// Composed form keeps "é" one character on both sides of a comparison.
		domain = norm.NFC.String(domain)
		return strings.ToLower(domain)
	}
	return lowerASCII(domain)
}

// TrimDots strips leading and trailing dots, turning "gmail.com." into "gmail.com".
// Only applied to candidates that are about to be validated.
func TrimDots(domain string) string {
	return strings.Trim(domain, ".")
}

// NormalizePattern prepares a masked query for compilation. Only the Unicode form changes:
// case, dots and spaces may all be censored positions.
func NormalizePattern(pattern string) string {
	if isASCII(pattern) {
		return pattern
	}
	return norm.NFC.String(pattern)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// lowerASCII lowercases without allocating when s is already lower case.
func lowerASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 'A' && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if b[j] >= 'A' && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}
