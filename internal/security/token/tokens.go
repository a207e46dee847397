package tokens

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		return "", fmt.Errorf("tokens: largo inválido %d", nBytes)
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("tokens: rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// WellFormed indica si tok tiene la forma de un token de nBytes
// generado por GenerateOpaqueToken. No dice nada sobre su validez.
func WellFormed(tok string, nBytes int) bool {
	if len(tok) != base64.RawURLEncoding.EncodedLen(nBytes) {
		return false
	}
	_, err := base64.RawURLEncoding.DecodeString(tok)
	return err == nil
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (para guardar en DB).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// EqualHash compara dos hashes en tiempo constante.
func EqualHash(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
