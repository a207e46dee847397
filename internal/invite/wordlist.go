package invite

import (
	"bufio"
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dropDatabas3/passgate/internal/observability/logger"
)

//go:embed words.txt
var fallbackWords string

const (
	minWords      = 50
	minWordLength = 3
	maxWordLength = 12

	MinWordCount = 2
	MaxWordCount = 6

	MinRandomLength = 8
	MaxRandomLength = 128
)

const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ParseWordlist lee una palabra por línea. Ignora vacías y comentarios (#),
// pasa a minúsculas y descarta líneas que no sean letras ASCII.
func ParseWordlist(r io.Reader) ([]string, error) {
	var words []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w := strings.ToLower(line)
		if !isASCIIAlpha(w) {
			continue
		}
		words = append(words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errors.New("wordlist: sin palabras válidas")
	}
	return words, nil
}

// ValidateWordlist exige cantidad mínima, largo 3-12 y sin duplicados.
func ValidateWordlist(words []string) error {
	if len(words) < minWords {
		return fmt.Errorf("wordlist: %d palabras (mínimo %d)", len(words), minWords)
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len(w) < minWordLength || len(w) > maxWordLength {
			return fmt.Errorf("wordlist: %q fuera de largo (%d-%d)", w, minWordLength, maxWordLength)
		}
		if _, dup := seen[w]; dup {
			return fmt.Errorf("wordlist: palabra duplicada %q", w)
		}
		seen[w] = struct{}{}
	}
	return nil
}

func isASCIIAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return s != ""
}

// WordlistStats describe la lista cargada.
type WordlistStats struct {
	Source      string  `json:"source"`
	WordCount   int     `json:"word_count"`
	EntropyBits float64 `json:"entropy_bits_per_word"`
	AvgLength   float64 `json:"avg_word_length"`
}

// Generator produce códigos de invitación. La wordlist se carga una sola vez,
// la primera vez que se necesita.
type Generator struct {
	path string

	once   sync.Once
	words  []string
	source string
}

// NewGenerator usa el archivo en path si existe y es válido; si no, la lista embebida.
func NewGenerator(path string) *Generator {
	return &Generator{path: strings.TrimSpace(path)}
}

func (g *Generator) load() {
	g.once.Do(func() {
		log := logger.L().With(logger.Component("invite.wordlist"))
		if g.path != "" {
			words, err := loadFile(g.path)
			if err == nil {
				g.words, g.source = words, g.path
				log.Info("wordlist cargada", zap.String("path", g.path), logger.Count(len(words)))
				return
			}
			log.Warn("wordlist inválida, usando lista embebida", zap.String("path", g.path), logger.Err(err))
		}
		words, err := ParseWordlist(strings.NewReader(fallbackWords))
		if err != nil {
			// la lista embebida se valida en tests
			panic("invite: wordlist embebida inválida: " + err.Error())
		}
		g.words, g.source = words, "embedded"
	})
}

func loadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	words, err := ParseWordlist(f)
	if err != nil {
		return nil, err
	}
	if err := ValidateWordlist(words); err != nil {
		return nil, err
	}
	return words, nil
}

// Stats retorna info de la lista (carga si hace falta).
func (g *Generator) Stats() WordlistStats {
	g.load()
	total := 0
	for _, w := range g.words {
		total += len(w)
	}
	return WordlistStats{
		Source:      g.source,
		WordCount:   len(g.words),
		EntropyBits: math.Log2(float64(len(g.words))),
		AvgLength:   float64(total) / float64(len(g.words)),
	}
}

// WordCode arma n palabras al azar unidas por "-".
func (g *Generator) WordCode(n int) (string, error) {
	if n < MinWordCount || n > MaxWordCount {
		return "", fmt.Errorf("%w: cantidad de palabras %d (rango %d-%d)", ErrInvalidCode, n, MinWordCount, MaxWordCount)
	}
	g.load()
	parts := make([]string, n)
	for i := range parts {
		idx, err := randIndex(len(g.words))
		if err != nil {
			return "", err
		}
		parts[i] = g.words[idx]
	}
	return strings.Join(parts, "-"), nil
}

// RandomCode genera un código alfanumérico en mayúsculas.
func RandomCode(length int) (string, error) {
	if length < MinRandomLength || length > MaxRandomLength {
		return "", fmt.Errorf("%w: largo %d (rango %d-%d)", ErrInvalidCode, length, MinRandomLength, MaxRandomLength)
	}
	b := make([]byte, length)
	for i := range b {
		idx, err := randIndex(len(randomAlphabet))
		if err != nil {
			return "", err
		}
		b[i] = randomAlphabet[idx]
	}
	return string(b), nil
}

func randIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("invite: rand: %w", err)
	}
	return int(v.Int64()), nil
}
