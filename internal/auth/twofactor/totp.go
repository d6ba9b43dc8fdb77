package twofactor

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const (
	defaultIssuer     = "Foyer"
	defaultQRCodeSize = 256
	defaultSecretSize = 32

	// totpSkew is the tolerance window in 30s time steps. Codes from up to
	// two steps before or after the current step verify successfully.
	totpSkew = 2
)

// TOTPOption customises the TOTP service.
type TOTPOption func(*TOTPService)

// WithIssuer overrides the issuer string encoded in provisioning URIs.
func WithIssuer(issuer string) TOTPOption {
	return func(s *TOTPService) {
		if strings.TrimSpace(issuer) != "" {
			s.issuer = issuer
		}
	}
}

// WithQRCodeSize controls the pixel size of generated QR codes.
func WithQRCodeSize(size int) TOTPOption {
	return func(s *TOTPService) {
		if size > 0 {
			s.qrCodeSize = size
		}
	}
}

// WithClock injects a custom clock, primarily for testing.
func WithClock(clock func() time.Time) TOTPOption {
	return func(s *TOTPService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// TOTPService generates authenticator-app secrets and validates submitted
// time-based codes.
type TOTPService struct {
	issuer     string
	qrCodeSize int
	now        func() time.Time
}

// NewTOTPService constructs a TOTP service with the supplied options.
func NewTOTPService(opts ...TOTPOption) *TOTPService {
	service := &TOTPService{
		issuer:     defaultIssuer,
		qrCodeSize: defaultQRCodeSize,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// GenerateSecret provisions a new TOTP secret bound to the email address and
// returns the base32 secret together with its otpauth provisioning URI.
func (s *TOTPService) GenerateSecret(email string) (secret, provisioningURI string, err error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", errors.New("totp: email is required")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: email,
		SecretSize:  defaultSecretSize,
	})
	if err != nil {
		return "", "", fmt.Errorf("totp: generate key: %w", err)
	}

	return key.Secret(), key.String(), nil
}

// Verify checks a submitted code against the stored secret with the standard
// tolerance window. A missing secret verifies as false, never as an error.
func (s *TOTPService) Verify(secret, code string) bool {
	secret = strings.TrimSpace(secret)
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, s.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return valid
}

// QRCodeDataURL renders the provisioning URI as a PNG QR code wrapped in a
// data URL suitable for direct embedding in a client response.
func (s *TOTPService) QRCodeDataURL(provisioningURI string) (string, error) {
	if strings.TrimSpace(provisioningURI) == "" {
		return "", errors.New("totp: provisioning URI is required")
	}

	png, err := qrcode.Encode(provisioningURI, qrcode.Medium, s.qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("totp: encode qr: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
