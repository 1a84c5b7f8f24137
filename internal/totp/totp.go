package totp

import (
	"bytes"
	"fmt"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// RFC 6238 parameters. SHA-1, 6 digits and a 30-second step are what
// authenticator apps interoperate with; do not change them.
const (
	period     = 30
	secretSize = 20
	qrSize     = 256
)

// Manager is a narrow RFC 6238 capability: secret generation, code
// computation and window-tolerant validation. Any conformant TOTP
// implementation could back it.
type Manager struct {
	issuer string
	skew   uint
}

func NewManager(issuer string, skew uint) *Manager {
	return &Manager{
		issuer: issuer,
		skew:   skew,
	}
}

// GenerateSecret creates a fresh random shared secret for an account and
// returns the base32 secret together with its otpauth:// provisioning URI.
func (m *Manager) GenerateSecret(account string) (secret, uri string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to generate totp secret: %w", err)
	}

	return key.Secret(), key.URL(), nil
}

// CurrentCode computes the 6-digit code for a secret at the given time.
func (m *Manager) CurrentCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at, m.validateOpts())
	if err != nil {
		return "", fmt.Errorf("failed to compute totp code: %w", err)
	}
	return code, nil
}

// Validate checks a submitted code against a secret, accepting the current
// step plus the configured skew on either side to absorb clock drift. The
// underlying comparison is constant-time.
func (m *Manager) Validate(code, secret string, at time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, at, m.validateOpts())
	if err != nil {
		return false
	}
	return ok
}

// QRImage renders a provisioning URI as a PNG suitable for scanning.
func (m *Manager) QRImage(uri string) ([]byte, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid provisioning uri: %w", err)
	}

	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("failed to render provisioning image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode provisioning image: %w", err)
	}

	return buf.Bytes(), nil
}

func (m *Manager) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    period,
		Skew:      m.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}
