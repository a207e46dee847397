package invite

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedWordlistIsValid(t *testing.T) {
	words, err := ParseWordlist(strings.NewReader(fallbackWords))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ValidateWordlist(words); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseWordlistSkipsCommentsAndNonAlpha(t *testing.T) {
	in := "# header\n\n  Apple \nbanana\nx-ray\nc3po\n#otro\ncherry\n"
	words, err := ParseWordlist(strings.NewReader(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []string{"apple", "banana", "cherry"}
	if strings.Join(words, ",") != strings.Join(want, ",") {
		t.Fatalf("words = %v, want %v", words, want)
	}
}

func TestValidateWordlistRules(t *testing.T) {
	tooFew := []string{"alpha", "bravo"}
	if err := ValidateWordlist(tooFew); err == nil {
		t.Fatal("expected error for short list")
	}

	base := make([]string, 0, 60)
	for i := 0; i < 60; i++ {
		base = append(base, "word"+string(rune('a'+i%26))+string(rune('a'+i/26)))
	}
	if err := ValidateWordlist(base); err != nil {
		t.Fatalf("valid list rejected: %v", err)
	}
	dup := append(append([]string{}, base...), base[0])
	if err := ValidateWordlist(dup); err == nil {
		t.Fatal("expected duplicate error")
	}
	long := append(append([]string{}, base...), "extraordinarily")
	if err := ValidateWordlist(long); err == nil {
		t.Fatal("expected length error")
	}
}

func TestGeneratorFallsBackToEmbedded(t *testing.T) {
	g := NewGenerator(filepath.Join(t.TempDir(), "missing.txt"))
	st := g.Stats()
	if st.Source != "embedded" {
		t.Fatalf("source = %q, want embedded", st.Source)
	}
	if st.WordCount < minWords || st.EntropyBits <= 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestGeneratorInvalidFileFallsBack(t *testing.T) {
	p := filepath.Join(t.TempDir(), "words.txt")
	if err := os.WriteFile(p, []byte("uno\ndos\ntres\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if got := NewGenerator(p).Stats().Source; got != "embedded" {
		t.Fatalf("source = %q, want embedded", got)
	}
}

func TestGeneratorLoadsFile(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("zed" + string(rune('a'+i%26)) + string(rune('a'+i/26)) + "\n")
	}
	p := filepath.Join(t.TempDir(), "words.txt")
	if err := os.WriteFile(p, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	g := NewGenerator(p)
	if got := g.Stats(); got.Source != p || got.WordCount != 60 {
		t.Fatalf("stats = %+v", got)
	}
	code, err := g.WordCode(4)
	if err != nil {
		t.Fatalf("word code: %v", err)
	}
	parts := strings.Split(code, "-")
	if len(parts) != 4 {
		t.Fatalf("code %q: want 4 words", code)
	}
	for _, p := range parts {
		if !strings.HasPrefix(p, "zed") {
			t.Fatalf("word %q not from file", p)
		}
	}
}

func TestWordCodeBounds(t *testing.T) {
	g := NewGenerator("")
	for _, n := range []int{1, 7} {
		if _, err := g.WordCode(n); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("WordCode(%d) err = %v", n, err)
		}
	}
}

func TestRandomCode(t *testing.T) {
	code, err := RandomCode(20)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if len(code) != 20 {
		t.Fatalf("len = %d", len(code))
	}
	for _, c := range code {
		if !strings.ContainsRune(randomAlphabet, c) {
			t.Fatalf("caracter %q fuera del alfabeto", c)
		}
	}
	for _, n := range []int{7, 129} {
		if _, err := RandomCode(n); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("RandomCode(%d) err = %v", n, err)
		}
	}
}
