package mask

import (
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWildcards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		groups []string
		want   []string
	}{
		{"dedup across groups", []string{"*?", "*"}, []string{"*", "?"}},
		{"decomposed and deduplicated", []string{"fffç&", "*", "$$&"}, []string{"f", "ç", "&", "*", "$"}},
		{"no groups", nil, []string{}},
		{"empty group", []string{""}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ws := ParseWildcards(tt.groups...)
			assert.ElementsMatch(t, tt.want, ws.Chars())
			assert.Equal(t, len(tt.want), ws.Len())
		})
	}
}

func TestMergeWildcards(t *testing.T) {
	t.Parallel()

	ws, err := MergeWildcards([]string{"*", "?"}, []string{"*", "ç"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"*", "?", "ç"}, ws.Chars())

	_, err = MergeWildcards([]string{"*"}, []string{"**"})
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "**", cfgErr.Token)

	_, err = MergeWildcards([]string{""})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "empty token", cfgErr.Reason)
}

func TestWildcardSetValueSemantics(t *testing.T) {
	t.Parallel()

	a := ParseWildcards("*")
	b := a
	b = b.Union(ParseWildcards("?é"))

	assert.True(t, a.Equal(ParseWildcards("*")))
	assert.False(t, a.Contains('?'))
	assert.True(t, b.Contains('?'))
	assert.True(t, b.Contains('é'))
	assert.True(t, WildcardSet{}.Empty())
	assert.Equal(t, "*?é", b.String())
}

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"john@g****.**m", "g****.**m"},
		{"g****.**m", "g****.**m"},
		{"a@b@c.com", "c.com"},
		{`we\@ird@y***o.com`, "y***o.com"},
		{`only\@escaped.com`, `only\@escaped.com`},
		{"trailing@", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractDomain(tt.in), "ExtractDomain(%q)", tt.in)
	}
}

func TestMatch(t *testing.T) {
	t.Parallel()

	star := ParseWildcards("*")
	tests := []struct {
		name             string
		pattern, literal string
		ws               WildcardSet
		want             bool
	}{
		{"masked gmail", "g****.**m", "gmail.com", star, true},
		{"masked gmial", "g****.**m", "gmial.com", star, true},
		{"wrong tld", "g****.**m", "gmail.net", star, false},
		{"case insensitive", "G****.**M", "GMail.Com", star, true},
		{"no wildcards exact", "yahoo.com", "yahoo.com", WildcardSet{}, true},
		{"star literal without set", "y***o.com", "yahoo.com", WildcardSet{}, false},
		{"empty strings", "", "", star, true},
		{"shorter pattern", "g***.com", "gmail.com", star, false},
		{"longer pattern", "g*****.com", "gmail.com", star, false},
		{"unicode literal mismatch", "c*rr*a.es", "córreo.es", star, false},
		{"unicode candidate", "c*rreo.es", "córreo.es", star, true},
		{"unicode pattern", "çö*.com", "ÇÖx.com", star, true},
		{"question mark", "h?tmail.fr", "hotmail.fr", ParseWildcards("?"), true},
		{"space wildcard", "  ail.com", "gmail.com", ParseWildcards(" "), true},
		{"space wildcard keeps length", "  ail.com", "ail.com", ParseWildcards(" "), false},
		{"upper-case member folds away", "X", "a", ParseWildcards("X"), false},
		{"lower-case member masks upper-case pattern", "X", "a", ParseWildcards("x"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Match(tt.pattern, tt.literal, tt.ws))
		})
	}
}

func TestMatchIdentity(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "a", "gmail.com", "Mixed.Case.ORG", "bücher.de", "*?*"} {
		assert.True(t, Match(s, s, WildcardSet{}), "identity for %q", s)
	}
}

func TestMatchMaskedSelf(t *testing.T) {
	t.Parallel()

	ws := ParseWildcards("*")
	for _, s := range []string{"gmail.com", "protonmail.ch", "bücher.de", "x"} {
		runes := []rune(s)
		// Every prefix mask and every single-position mask must still match.
		for i := range runes {
			single := append([]rune(nil), runes...)
			single[i] = '*'
			assert.True(t, Match(string(single), s, ws), "single mask %q", string(single))

			prefix := strings.Repeat("*", i+1) + string(runes[i+1:])
			assert.True(t, Match(prefix, s, ws), "prefix mask %q", prefix)
		}
	}
}

func TestMatchAsymmetry(t *testing.T) {
	t.Parallel()

	ws := ParseWildcards("*")
	// Fully literal operands: symmetric.
	assert.Equal(t, Match("gmail.com", "GMAIL.com", ws), Match("GMAIL.com", "gmail.com", ws))
	// Only one side masked: not symmetric.
	assert.True(t, Match("g****.com", "gmail.com", ws))
	assert.False(t, Match("gmail.com", "g****.com", ws))
}

func TestMatchLengthMismatchWithFullAlphabet(t *testing.T) {
	t.Parallel()

	var all strings.Builder
	for r := rune(0); r < 0x250; r++ {
		if utf8.ValidRune(r) {
			all.WriteRune(r)
		}
	}
	ws := ParseWildcards(all.String())
	assert.False(t, Match("*********", "gmail.co", ws))
	assert.False(t, Match("gmail.com", "gmail.comm", ws))
	assert.False(t, Match("", "a", ws))
	assert.True(t, Match("abc", "xyz", ws))
}

func TestPatternScheme(t *testing.T) {
	t.Parallel()

	p := Compile("g****.**m", ParseWildcards("*"))
	assert.Equal(t, 9, p.Len())
	assert.Equal(t, 6, p.Masked())
	assert.True(t, p.SameLength("yahoo.com"))
	assert.False(t, p.Match("yahoo.com"))
	assert.False(t, p.SameLength("icloud.com"))
	assert.Equal(t, "g****.**m", p.String())
}

func TestCompatible(t *testing.T) {
	t.Parallel()

	star := ParseWildcards("*")
	hash := ParseWildcards("#")
	tests := []struct {
		name string
		a, b Masked
		want bool
	}{
		{"independent sets", Masked{"g****.com", star}, Masked{"gm##l.c#m", hash}, true},
		{"conflict on literal", Masked{"g****.com", star}, Masked{"y####.com", hash}, false},
		{"length mismatch", Masked{"g***.com", star}, Masked{"gmail.com", hash}, false},
		{"foreign wildcard is literal", Masked{"g#ail.com", star}, Masked{"gmail.com", star}, false},
		{"case insensitive", Masked{"GMAIL.com", WildcardSet{}}, Masked{"gmail.COM", WildcardSet{}}, true},
		{"upper-case member is literal", Masked{"GXAIL.com", ParseWildcards("X")}, Masked{"gmail.com", WildcardSet{}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Compatible(tt.a, tt.b))
			assert.Equal(t, tt.want, Compatible(tt.b, tt.a))
		})
	}
}

func TestComparisonOverride(t *testing.T) {
	t.Parallel()

	star := ParseWildcards("*")
	c := Comparison{A: NewMasked("john@g****.com", star), B: Masked{Value: "yahoo.com"}}
	assert.False(t, c.Verdict())

	c.Known = Valid
	assert.True(t, c.Verdict())

	c = Comparison{A: Masked{Value: "gmail.com"}, B: Masked{Value: "gmail.com"}, Known: Invalid}
	assert.False(t, c.Verdict())
	assert.Equal(t, "invalid", c.Known.String())
}

func TestKnownDomain(t *testing.T) {
	t.Parallel()

	reject := func(string) bool { return false }
	assert.False(t, KnownDomain{Name: "gmail.com"}.IsValid(reject))
	assert.True(t, KnownDomain{Name: "not a domain", Known: Valid}.IsValid(reject))
	assert.False(t, KnownDomain{Name: "gmail.com", Known: Invalid}.IsValid(nil))
	assert.True(t, KnownDomain{Name: "anything"}.IsValid(nil))
}

func BenchmarkPatternMatch(b *testing.B) {
	p := Compile("g****.**m", ParseWildcards("*?"))
	candidates := []string{"gmail.com", "yahoo.com", "icloud.com", "gmial.com", "bücher.de"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Match(candidates[i%len(candidates)])
	}
}
