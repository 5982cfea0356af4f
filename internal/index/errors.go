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

import "fmt"

// FormatError reports a candidate source that could not be parsed. The index keeps the
// candidate set it had before the failed load.
type FormatError struct {
	Source string // name of the source, may be empty
	Reason string
	Err    error // underlying decoder error, may be nil
}

func (e *FormatError) Error() string {
	msg := "invalid candidate source"
	if e.Source != "" {
		msg += " " + fmt.Sprintf("%q", e.Source)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormatError) Unwrap() error { return e.Err }
