package io

import (
	"bytes"
	"compress/gzip"
	"context"
	stdio "io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestAsyncBufferCommitsOnClose(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	ab, err := NewAsyncBuffer(context.Background(), path, &AsyncBufferOptions{
		BufferSize:    64,
		FlushInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewAsyncBuffer: %v", err)
	}

	for i := 0; i < 100; i++ {
		if err := ab.WriteLine("g****.com,gmail.com"); err != nil {
			t.Fatalf("WriteLine: %v", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		t.Fatalf("final file must not exist before Close")
	}
	if err := ab.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ab.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got := strings.Count(string(b), "\n"); got != 100 {
		t.Fatalf("expected 100 lines, got %d", got)
	}
	if _, err := os.Stat(path + tmpSuffix); err == nil {
		t.Fatalf("expected temp file to be renamed away")
	}
	if st := ab.Stats(); st.WriteCount != 100 || st.BytesWritten != int64(len(b)) {
		t.Fatalf("unexpected stats %+v", st)
	}
	if err := ab.WriteLine("late"); err != ErrBufferClosed {
		t.Fatalf("expected ErrBufferClosed, got %v", err)
	}
}

func TestAsyncBufferAbortRemovesTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	if err := os.WriteFile(path, []byte("previous\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ab, err := NewAsyncBuffer(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("NewAsyncBuffer: %v", err)
	}
	if _, err := ab.Write([]byte("partial\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := ab.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(b) != "previous\n" {
		t.Fatalf("final file changed: %q", b)
	}
	if _, err := os.Stat(path + tmpSuffix); err == nil {
		t.Fatalf("expected temp file to be removed")
	}
}

func TestAsyncBufferCompressed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv.gz")
	ab, err := NewAsyncBuffer(context.Background(), path, &AsyncBufferOptions{Compressed: true})
	if err != nil {
		t.Fatalf("NewAsyncBuffer: %v", err)
	}
	if err := ab.WriteLine("a"); err != nil {
		t.Fatal(err)
	}
	if err := ab.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := ab.WriteLine("b"); err != nil {
		t.Fatal(err)
	}
	if err := ab.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	b, err := stdio.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(b) != "a\nb\n" {
		t.Fatalf("unexpected content %q", b)
	}
}

func TestAsyncWriterBackgroundFlush(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var out bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return out.Write(p)
	})

	ab := NewAsyncWriter(context.Background(), w, &AsyncBufferOptions{FlushInterval: 10 * time.Millisecond})
	defer ab.Close()
	if err := ab.WriteLine("hello"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := out.String()
		mu.Unlock()
		if got == "hello\n" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("background flush did not happen, got %q", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
