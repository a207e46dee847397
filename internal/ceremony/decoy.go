package ceremony

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"golang.org/x/crypto/hkdf"
)

const decoyIDLen = 32

// decoys deriva credential ids falsos, estables por identificador, para que
// begin_authentication de un usuario inexistente se vea igual que uno real.
type decoys struct {
	secret []byte
}

func newDecoys(secret []byte) (*decoys, bool, error) {
	if len(secret) > 0 {
		return &decoys{secret: secret}, false, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, false, fmt.Errorf("ceremony: decoy secret: %w", err)
	}
	return &decoys{secret: b}, true, nil
}

func (d *decoys) credentialID(identifier string) ([]byte, error) {
	info := "passgate/decoy-credential/v1:" + strings.ToLower(identifier)
	r := hkdf.New(sha256.New, d.secret, nil, []byte(info))
	out := make([]byte, decoyIDLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *decoys) descriptors(identifier string) ([]protocol.CredentialDescriptor, error) {
	id, err := d.credentialID(identifier)
	if err != nil {
		return nil, err
	}
	return []protocol.CredentialDescriptor{{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: id,
	}}, nil
}
