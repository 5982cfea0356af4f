package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providers = "gmail.com\nyahoo.com\nicloud.com\ngmial.com\n"

// testEnv isolates one command run: its own config file and cache.
type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "unmask.yaml")
	body := fmt.Sprintf("log:\n  level: error\ncache:\n  path: %q\n", filepath.Join(dir, "cache", "lists.db"))
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o644))
	return &testEnv{dir: dir, config: cfg}
}

func (e *testEnv) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	cmd := a.rootCmd()
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootMatch(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", providers)

	out, err := e.run(t, "", "--domains", domains, "john@g****.**m", "-c", "*")
	require.NoError(t, err)
	assert.Equal(t, "[+] Domains matching for john@g****.**m:\n[-] gmail.com\n[-] gmial.com\n", out)
}

func TestRootTrimsInputExceptWildcards(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", providers)

	out, err := e.run(t, "", "--domains", domains, "  y****.com\t")
	require.NoError(t, err)
	assert.Equal(t, "[+] Domains matching for y****.com:\n[-] yahoo.com\n", out)

	out, err = e.run(t, "", "--domains", domains, "-c", " ", "  ail.com")
	require.NoError(t, err)
	assert.Equal(t, "[+] Domains matching for   ail.com:\n[-] gmail.com\n", out)
}

func TestRootColor(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", providers)

	out, err := e.run(t, "", "--domains", domains, "--color", "always", "y****.com")
	require.NoError(t, err)
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "yahoo.com")

	_, err = e.run(t, "", "--domains", domains, "--color", "sometimes", "y****.com")
	require.Error(t, err)
}

func TestRootNoMatch(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", providers)

	out, err := e.run(t, "", "--domains", domains, "h????.com")
	require.ErrorIs(t, err, errNoMatch)
	assert.Equal(t, "[x] No domains matching h????.com were found\n", out)
}

func TestRootFull(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.json", `["gmail.com","yahoo.com","icloud.com","gmial.com"]`)

	out, err := e.run(t, "", "--domains", domains, "--full", "g****.**m")
	require.NoError(t, err)
	assert.Equal(t, "gmail.com\ttrue\nyahoo.com\tfalse\nicloud.com\tfalse\ngmial.com\ttrue\n", out)
}

func TestRootDefaultDataset(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, "", "someone@g????.com")
	require.NoError(t, err)
	assert.Contains(t, out, "[-] gmail.com\n")

	out, err = e.run(t, "", "g****.**m")
	require.NoError(t, err)
	assert.Contains(t, out, "[-] gmail.com\n")
	assert.Contains(t, out, "[-] gmial.com\n")
}

func TestRootStdinSource(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, providers, "--domains", "-", "i?????.com")
	require.NoError(t, err)
	assert.Equal(t, "[+] Domains matching for i?????.com:\n[-] icloud.com\n", out)
}

func TestRootErrors(t *testing.T) {
	e := newTestEnv(t)
	empty := e.file(t, "empty.txt", "# nothing here\n")
	bad := e.file(t, "bad.json", `["gmail.com", 1]`)
	domains := e.file(t, "domains.txt", providers)

	tests := []struct {
		name string
		args []string
	}{
		{"empty input", []string{"--domains", domains, ""}},
		{"address without domain", []string{"--domains", domains, "john@"}},
		{"no candidates", []string{"--domains", empty, "g****.com"}},
		{"broken source", []string{"--domains", bad, "g****.com"}},
		{"missing source", []string{"--domains", filepath.Join(e.dir, "nope.txt"), "g****.com"}},
		{"no argument", nil},
		{"too many workers", []string{"--domains", domains, "--workers", "1000000", "g****.com"}},
	}
	for _, tt := range tests {
		_, err := e.run(t, "", tt.args...)
		assert.Error(t, err, tt.name)
		assert.NotErrorIs(t, err, errNoMatch, tt.name)
	}
}

func TestNoFilterKeepsJunk(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", "gmail.com\nlocalhost\n")

	out, err := e.run(t, "", "--domains", domains, "l********")
	require.ErrorIs(t, err, errNoMatch)
	assert.Contains(t, out, "[x]")

	out, err = e.run(t, "", "--domains", domains, "--no-filter", "l********")
	require.NoError(t, err)
	assert.Contains(t, out, "[-] localhost\n")
}

func TestCompare(t *testing.T) {
	e := newTestEnv(t)

	out, err := e.run(t, "", "compare", "j***@g****.com", "gm##l.com", "--cb", "#")
	require.NoError(t, err)
	assert.Equal(t, "[+] g****.com and gm##l.com can be the same domain\n", out)

	out, err = e.run(t, "", "compare", "g****.com", "y###o.com", "--cb", "#")
	require.ErrorIs(t, err, errNoMatch)
	assert.Contains(t, out, "cannot be the same domain")
}

func TestBatch(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", providers)
	input := e.file(t, "input.txt", "john@g****.**m\n\n# comment\ny****.com\nnobody@x.io\ni?????.com\n")
	output := filepath.Join(e.dir, "out", "result.csv")

	_, err := e.run(t, "", "--domains", domains, "batch", "-i", input, "-o", output)
	require.NoError(t, err)

	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "john@g****.**m,gmail.com gmial.com\ny****.com,yahoo.com\nnobody@x.io,\ni?????.com,icloud.com\n", string(got))
	assert.NoFileExists(t, output+".tmp")
}

func TestBatchStdinToStdoutCompressed(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", providers)

	out, err := e.run(t, "y****.com\ng****.com\n", "--domains", domains, "batch", "--compress")
	require.NoError(t, err)

	zr, err := gzip.NewReader(strings.NewReader(out))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "y****.com,yahoo.com\ng****.com,gmail.com gmial.com\n", string(plain))
}

func TestBatchMissingInput(t *testing.T) {
	e := newTestEnv(t)
	output := filepath.Join(e.dir, "result.csv")
	_, err := e.run(t, "", "batch", "-i", filepath.Join(e.dir, "nope.txt"), "-o", output)
	require.Error(t, err)
	assert.NoFileExists(t, output)
}

func TestList(t *testing.T) {
	e := newTestEnv(t)
	domains := e.file(t, "domains.txt", "Gmail.com\nyahoo.com\ngmail.com\n")

	out, err := e.run(t, "", "--domains", domains, "list")
	require.NoError(t, err)
	assert.Equal(t, "gmail.com\nyahoo.com\n", out)
}

func TestFetchListAndCache(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "gmail.com\nyahoo.com\nnot a domain\n")
	}))
	url := srv.URL + "/providers.txt"
	saved := filepath.Join(e.dir, "providers.txt")

	out, err := e.run(t, "", "fetch-list", url, "-o", saved)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("[+] Fetched 2 domains (1 dropped) from %s\n", url), out)

	body, err := os.ReadFile(saved)
	require.NoError(t, err)
	assert.Equal(t, "gmail.com\nyahoo.com\nnot a domain\n", string(body))

	out, err = e.run(t, "", "list", "--cached")
	require.NoError(t, err)
	assert.Contains(t, out, url+"\n")
	assert.Contains(t, out, "Found 1 cached lists\n")

	// The cached copy is fresh, so the host is not needed any more.
	srv.Close()
	out, err = e.run(t, "", "--domains", url, "y****.com")
	require.NoError(t, err)
	assert.Equal(t, "[+] Domains matching for y****.com:\n[-] yahoo.com\n", out)
}

func TestFetchListRejectsFiles(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.run(t, "", "fetch-list", "/etc/hosts")
	require.Error(t, err)
}
