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
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

// Validator decides whether a normalized candidate looks like a usable domain.
// Validators are pure and safe for concurrent use.
type Validator func(domain string) bool

// hostnameRe accepts dot-separated LDH labels of at most 63 characters.
var hostnameRe = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z0-9][a-z0-9-]{0,61}[a-z0-9]$`)

// Minimum and maximum number of dots accepted by Syntax. Email provider
// domains rarely go deeper than four labels.
const (
	MinDots = 1
	MaxDots = 3
)

// Syntax is the default validator: between MinDots and MaxDots dots, and every label a
// valid hostname label once the name is converted to its ASCII (punycode) form.
func Syntax(domain string) bool {
	dots := strings.Count(domain, ".")
	if dots < MinDots || dots > MaxDots {
		return false
	}
	ascii, err := ToASCII(domain)
	if err != nil {
		return false
	}
	return hostnameRe.MatchString(ascii)
}

// PublicSuffix extends Syntax by requiring the domain to end in an ICANN-managed
// public suffix and to be more than the bare suffix.
func PublicSuffix(domain string) bool {
	if !Syntax(domain) {
		return false
	}
	ascii, _ := ToASCII(domain)
	suffix, icann := publicsuffix.PublicSuffix(ascii)
	return icann && suffix != ascii
}

// AcceptAll keeps every entry.
func AcceptAll(string) bool { return true }

// All combines validators; the result accepts a domain only if every one does.
func All(vs ...Validator) Validator {
	return func(domain string) bool {
		for _, v := range vs {
			if v != nil && !v(domain) {
				return false
			}
		}
		return true
	}
}

// ByName returns a built-in validator by name. Used by configuration. A comma-separated
// list such as "syntax,publicsuffix" combines its members with All.
func ByName(name string) (Validator, error) {
	if !strings.Contains(name, ",") {
		return byName(name)
	}
	var vs []Validator
	for _, part := range strings.Split(name, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty validator in %q", name)
		}
		v, err := byName(part)
		if err != nil {
			return nil, err
		}
		vs = append(vs, v)
	}
	return All(vs...), nil
}

func byName(name string) (Validator, error) {
	switch strings.ToLower(name) {
	case "", "syntax":
		return Syntax, nil
	case "publicsuffix", "public_suffix":
		return PublicSuffix, nil
	case "none", "any":
		return AcceptAll, nil
	}
	return nil, fmt.Errorf("unknown validator %q", name)
}

// ToASCII converts an internationalized name to its lookup (punycode) form.
// ASCII input is returned as is.
func ToASCII(domain string) (string, error) {
	if isASCII(domain) {
		return domain, nil
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(ascii), nil
}
