package twofactor

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net/http"
	"time"

	"github.com/rahulnair23/foyer/internal/models"
	apperrors "github.com/rahulnair23/foyer/pkg/errors"
)

// StagingTTL is how long a pending verification record lives in the staging
// store. The record additionally carries its own expiry epoch, checked
// independently because store eviction and logical expiry may drift.
const StagingTTL = 600 * time.Second

// Intent distinguishes why a pending verification record was staged.
type Intent string

const (
	IntentSignup Intent = "signup"
	IntentLogin  Intent = "login"
	IntentReset  Intent = "reset"
)

var (
	// ErrCodeMismatch indicates the submitted code does not match the staged one.
	ErrCodeMismatch = apperrors.New("OTP_INVALID", "Invalid verification code", http.StatusUnauthorized)
	// ErrCodeExpired indicates the staged code is past its validity window.
	ErrCodeExpired = apperrors.New("OTP_EXPIRED", "Verification code has expired", http.StatusUnauthorized)
)

// PendingVerification is the transient record staged while a signup, login or
// password reset awaits its one-time code. The password is hashed before
// staging; the plaintext never reaches the store.
type PendingVerification struct {
	Username     string               `json:"username,omitempty"`
	Email        string               `json:"email"`
	PasswordHash string               `json:"password_hash,omitempty"`
	InviteID     string               `json:"invite_id,omitempty"`
	Code         string               `json:"code"`
	ExpiresAt    int64                `json:"expires_at"` // unix milliseconds
	TwoFactor    models.TwoFactorMode `json:"twofactor,omitempty"`
	Intent       Intent               `json:"intent"`
}

// StagingKey returns the store key for a pending record. At most one live
// record exists per (intent, email) pair.
func StagingKey(intent Intent, email string) string {
	return fmt.Sprintf("pending:%s:%s", intent, email)
}

// GenerateCode returns a uniformly distributed 6-digit numeric one-time code
// in the range 100000-999999.
func GenerateCode() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("otp: read random: %w", err)
	}
	n := binary.BigEndian.Uint64(buf[:]) % 900000
	return fmt.Sprintf("%06d", 100000+n), nil
}

// VerifyOtp checks a submitted code against the staged record. The expiry is
// inclusive: a record whose expiry equals now is already expired. Expiry is
// evaluated before code equality so an expired record never reveals whether
// the code would have matched.
func VerifyOtp(rec *PendingVerification, submitted string, now time.Time) error {
	if rec == nil {
		return apperrors.ErrNotFound
	}
	if now.UnixMilli() >= rec.ExpiresAt {
		return ErrCodeExpired
	}
	if rec.Code == "" || rec.Code != submitted {
		return ErrCodeMismatch
	}
	return nil
}
