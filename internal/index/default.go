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
	"context"
	_ "embed"
	"fmt"
	"sync"
)

// emailProviders is the default candidate set: common email provider domains.
//
//go:embed data/email_providers.txt
var emailProviders []byte

var (
	defaultOnce    sync.Once
	defaultEntries []string
	defaultErr     error
)

// defaultDataset parses the embedded list once per process. The returned slice is shared
// and must not be modified.
func defaultDataset() ([]string, error) {
	defaultOnce.Do(func() {
		defaultEntries, defaultErr = parse("default", emailProviders)
	})
	return defaultEntries, defaultErr
}

// LoadDefault replaces the candidate set with the bundled email provider list.
func (x *Index) LoadDefault() error {
	entries, err := defaultDataset()
	if err != nil {
		return fmt.Errorf("load default dataset: %w", err)
	}
	x.install("default", known(entries))
	return nil
}

// MatchDefault matches query against the bundled email provider list. The wildcard set
// is the union of groups, or {"*"} when no group is given.
func MatchDefault(ctx context.Context, query string, groups ...string) ([]string, error) {
	if len(groups) == 0 {
		groups = []string{DefaultWildcards}
	}
	x := New(WithWildcards(groups...))
	defer x.Close()
	if err := x.LoadDefault(); err != nil {
		return nil, err
	}
	return x.Match(ctx, query)
}
