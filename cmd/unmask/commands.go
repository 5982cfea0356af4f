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

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/x-stp/unmask/internal/index"
	xio "github.com/x-stp/unmask/internal/io"
	"github.com/x-stp/unmask/internal/mask"
	"github.com/x-stp/unmask/internal/source"
)

func (a *app) compareCmd() *cobra.Command {
	var ca, cb string
	cmd := &cobra.Command{
		Use:   "compare <a> <b>",
		Short: "Check whether two censored strings can hide the same domain",
		Long: `Compares two independently censored domains or addresses. Each side is read under its
own censoring characters; a position fits when either side is censored there or both
characters are equal. Exits 1 when the two cannot be the same domain.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			left := mask.NewMasked(args[0], mask.ParseWildcards(ca))
			right := mask.NewMasked(args[1], mask.ParseWildcards(cb))
			if mask.Compatible(left, right) {
				a.styles.found.Fprint(a.out, "[+]")
				fmt.Fprintf(a.out, " %s and %s can be the same domain\n", left, right)
				return nil
			}
			a.styles.notFound.Fprint(a.out, "[x]")
			fmt.Fprintf(a.out, " %s and %s cannot be the same domain\n", left, right)
			return errNoMatch
		},
	}
	cmd.Flags().StringVar(&ca, "ca", mask.DefaultWildcards, "Censoring characters of the first string")
	cmd.Flags().StringVar(&cb, "cb", mask.DefaultWildcards, "Censoring characters of the second string")
	return cmd
}

func (a *app) fetchListCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "fetch-list <url>",
		Short: "Fetch a remote candidate list into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			if source.Classify(url) != source.KindURL {
				return fmt.Errorf("not an http(s) URL: %q", url)
			}
			st, err := a.openStore()
			if err != nil {
				return err
			}
			if st == nil && output == "" {
				return errors.New("cache.path is empty and no --output given, nothing to store the list in")
			}
			r := &source.Resolver{Store: st, Logger: a.logger}
			if st != nil {
				defer st.Close()
			}

			body, err := r.Fetch(cmd.Context(), url)
			if err != nil {
				return err
			}

			// Parse before storing anywhere else so a broken list is reported now.
			idx := index.New(index.WithFilter(a.cfg.Index.FilterValid), index.WithValidator(a.cfg.ValidatorFunc()))
			defer idx.Close()
			if err := idx.LoadBytesSource(url, body); err != nil {
				return err
			}

			if output != "" {
				buf, err := xio.NewAsyncBuffer(cmd.Context(), output, &xio.AsyncBufferOptions{Logger: a.logger})
				if err != nil {
					return err
				}
				if _, err := buf.Write(body); err != nil {
					_ = buf.Abort()
					return err
				}
				if err := buf.Close(); err != nil {
					return err
				}
			}

			a.styles.found.Fprint(a.out, "[+]")
			fmt.Fprintf(a.out, " Fetched %d domains (%d dropped) from %s\n", idx.Len(), idx.Dropped(), url)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the list to this file")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var cached bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the candidate domains, or the cached remote lists with --cached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cached {
				return a.listCached()
			}
			idx, release, err := a.buildIndex(cmd.Context(), "list")
			if err != nil {
				return err
			}
			defer release()
			for _, d := range idx.Domains() {
				fmt.Fprintln(a.out, d)
			}
			fmt.Fprintf(a.errOut, "Found %d candidate domains in %s (%d dropped)\n", idx.Len(), idx.Source(), idx.Dropped())
			return nil
		},
	}
	cmd.Flags().BoolVar(&cached, "cached", false, "List the cached remote lists instead")
	return cmd
}

func (a *app) listCached() error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	if st == nil {
		return errors.New("cache.path is empty, caching is disabled")
	}
	defer st.Close()

	metas, err := st.List()
	if err != nil {
		return err
	}
	now := time.Now()
	for _, m := range metas {
		fmt.Fprintf(a.out, "%s\n", m.Source)
		fmt.Fprintf(a.out, "    \\- Fetched:  %s (%s ago)\n", m.FetchedAt.Format(time.RFC3339), m.Age(now).Round(time.Second))
		fmt.Fprintf(a.out, "    \\- Size:     %d bytes\n", m.Size)
	}
	fmt.Fprintf(a.out, "Found %d cached lists\n", len(metas))
	return nil
}
