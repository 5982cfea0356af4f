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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/x-stp/unmask/internal/index"
	xio "github.com/x-stp/unmask/internal/io"
)

// maxLineSize bounds one line of batch input.
const maxLineSize = 1 << 20

func (a *app) batchCmd() *cobra.Command {
	var (
		input    string
		output   string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Match every masked input of a file",
		Long: `Reads one censored domain or address per line and writes one line per input in input
order: the input, a comma, then the matching domains separated by spaces. Blank lines and
lines starting with # are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.batch(cmd.Context(), input, output, compress)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "Input file, - for stdin")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().BoolVar(&compress, "compress", false, "Gzip the output file")
	return cmd
}

func (a *app) batch(ctx context.Context, input, output string, compress bool) (err error) {
	in := a.stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("failed to open batch input: %w", err)
		}
		defer f.Close()
		in = f
	}

	idx, release, err := a.buildIndex(ctx, "batch")
	if err != nil {
		return err
	}
	defer release()

	opts := xio.DefaultAsyncBufferOptions()
	opts.Compressed = compress
	opts.Logger = a.logger
	var out *xio.AsyncBuffer
	if output == "-" {
		out = xio.NewAsyncWriter(ctx, a.out, opts)
	} else {
		out, err = xio.NewAsyncBuffer(ctx, output, opts)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err != nil {
			_ = out.Abort()
			return
		}
		err = out.Close()
	}()

	n, err := runBatch(ctx, idx, in, out)
	if err != nil {
		return err
	}
	st := out.Stats()
	a.logger.Info("batch finished",
		zap.Int("inputs", n),
		zap.Int64("bytes_written", st.BytesWritten),
		zap.String("output", output))
	return nil
}

// runBatch reads inputs from r and writes one result line per input to w, in input order.
// It returns the number of inputs processed.
func runBatch(ctx context.Context, idx *index.Index, r io.Reader, w *xio.AsyncBuffer) (int, error) {
	g, ctx := errgroup.WithContext(ctx)
	lines := make(chan string, 256)

	g.Go(func() error {
		defer close(lines)
		ws := idx.Wildcards()
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 64*1024), maxLineSize)
		for sc.Scan() {
			line := trimInput(sc.Text(), ws)
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("failed to read batch input: %w", err)
		}
		return nil
	})

	var n int
	g.Go(func() error {
		for line := range lines {
			matches, err := idx.Match(ctx, line)
			if err != nil {
				return fmt.Errorf("match %q: %w", line, err)
			}
			if err := w.WriteLine(line + "," + strings.Join(matches, " ")); err != nil {
				return err
			}
			n++
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return n, err
	}
	return n, nil
}
