package totp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// RecoveryCodeAlphabet deliberately omits I, O, 0 and 1 so codes survive
// being read aloud or retyped from paper.
const RecoveryCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateRecoveryCodes produces count independently random codes of the
// given length. The codes carry their own entropy and are unrelated to any
// TOTP secret; persistence and single-use accounting belong to the caller.
func GenerateRecoveryCodes(count, length int) ([]string, error) {
	if count <= 0 || length <= 0 {
		return nil, fmt.Errorf("invalid recovery code dimensions: count=%d length=%d", count, length)
	}

	alphabetSize := big.NewInt(int64(len(RecoveryCodeAlphabet)))
	codes := make([]string, 0, count)

	for i := 0; i < count; i++ {
		var b strings.Builder
		b.Grow(length)
		for j := 0; j < length; j++ {
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return nil, fmt.Errorf("failed to generate recovery code: %w", err)
			}
			b.WriteByte(RecoveryCodeAlphabet[n.Int64()])
		}
		codes = append(codes, b.String())
	}

	return codes, nil
}
