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

package index

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// parse decodes a candidate source into its raw entries. A source whose first non-space
// byte is '[' is a JSON array of strings; anything else is newline-delimited text.
func parse(source string, b []byte) ([]string, error) {
	b = bytes.TrimPrefix(b, utf8BOM)
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return parseJSON(source, trimmed)
	}
	return parseLines(source, b)
}

func parseJSON(source string, b []byte) ([]string, error) {
	var entries []string
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, &FormatError{Source: source, Reason: "expected a JSON array of strings", Err: err}
	}
	return entries, nil
}

// parseLines splits text on '\n'. Surrounding space (including a trailing '\r'), blank
// lines and lines starting with '#' are ignored.
func parseLines(source string, b []byte) ([]string, error) {
	if !utf8.Valid(b) {
		return nil, &FormatError{Source: source, Reason: "text is not valid UTF-8"}
	}
	entries := make([]string, 0, bytes.Count(b, []byte{'\n'})+1)
	for len(b) > 0 {
		var line []byte
		if i := bytes.IndexByte(b, '\n'); i >= 0 {
			line, b = b[:i], b[i+1:]
		} else {
			line, b = b, nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		entries = append(entries, string(line))
	}
	return entries, nil
}
