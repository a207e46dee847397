package ceremony

import (
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

var (
	ErrInviteInvalid      = errors.New("invite invalid")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrVerificationFailed = errors.New("verification failed")
	ErrCounterRollback    = errors.New("signature counter rollback")
	ErrUserNotFound       = errors.New("user not found")
	ErrIdentityTaken      = errors.New("identity taken")
	ErrLastCredential     = errors.New("cannot remove last credential")
)

// verificationError envuelve la causa real para el log; hacia afuera solo
// matchea ErrVerificationFailed.
func verificationError(stage string, cause error) error {
	return fmt.Errorf("%w: %s: %w", ErrVerificationFailed, stage, cause)
}

// devInfo extrae el detalle de diagnóstico de los errores de go-webauthn.
func devInfo(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		if perr.DevInfo != "" {
			return perr.Details + ": " + perr.DevInfo
		}
		return perr.Details
	}
	return err.Error()
}
