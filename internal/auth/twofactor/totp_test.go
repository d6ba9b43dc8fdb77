package twofactor

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

// stepAligned returns a fixed instant on a 30s step boundary so skew tests
// count whole steps.
func stepAligned() time.Time {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return base.Truncate(30 * time.Second)
}

func TestGenerateSecretAndVerify(t *testing.T) {
	now := stepAligned()
	svc := NewTOTPService(WithClock(func() time.Time { return now }))

	secret, uri, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.Contains(t, uri, "otpauth://totp/")
	require.Contains(t, uri, "issuer=Foyer")
	require.Contains(t, uri, "Foyer:alice@example.com")

	code, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	require.True(t, svc.Verify(secret, code))
}

func TestGenerateSecretRequiresEmail(t *testing.T) {
	svc := NewTOTPService()
	_, _, err := svc.GenerateSecret("  ")
	require.Error(t, err)
}

func TestVerifyToleratesTwoStepsOfSkew(t *testing.T) {
	now := stepAligned()
	svc := NewTOTPService(WithClock(func() time.Time { return now }))

	secret, _, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	for _, steps := range []int{-2, -1, 0, 1, 2} {
		code, err := totp.GenerateCode(secret, now.Add(time.Duration(steps)*30*time.Second))
		require.NoError(t, err)
		require.True(t, svc.Verify(secret, code), "offset %d steps", steps)
	}

	stale, err := totp.GenerateCode(secret, now.Add(-3*30*time.Second))
	require.NoError(t, err)
	require.False(t, svc.Verify(secret, stale))
}

func TestVerifyRejectsMissingInputs(t *testing.T) {
	svc := NewTOTPService()
	require.False(t, svc.Verify("", "123456"))
	require.False(t, svc.Verify("JBSWY3DPEHPK3PXP", ""))
	require.False(t, svc.Verify("JBSWY3DPEHPK3PXP", "not-a-code"))
}

func TestQRCodeDataURL(t *testing.T) {
	svc := NewTOTPService()

	_, uri, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	dataURL, err := svc.QRCodeDataURL(uri)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(dataURL, "data:image/png;base64,"))
	require.Greater(t, len(dataURL), len("data:image/png;base64,"))

	_, err = svc.QRCodeDataURL(" ")
	require.Error(t, err)
}

func TestWithIssuerOverride(t *testing.T) {
	svc := NewTOTPService(WithIssuer("Acme"))
	_, uri, err := svc.GenerateSecret("bob@example.com")
	require.NoError(t, err)
	require.Contains(t, uri, "Acme")
}
