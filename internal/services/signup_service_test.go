package services

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	pqtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/auth/twofactor"
	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/internal/notify"
	"github.com/rahulnair23/foyer/internal/staging"
	"github.com/rahulnair23/foyer/pkg/crypto"
	apperrors "github.com/rahulnair23/foyer/pkg/errors"
)

type signupFixture struct {
	svc    *SignupService
	db     *gorm.DB
	store  *staging.MemoryStore
	queue  *fakeQueue
	tokens *auth.TokenService
	now    *time.Time
}

func newSignupFixture(t *testing.T) *signupFixture {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	db := openServiceTestDB(t)
	store := newTestStaging(&now)
	tokens := newTestTokens(t, &now)
	q := &fakeQueue{}

	svc, err := NewSignupService(db, store, tokens, newTestTOTP(&now), newTestPublisher(t, q),
		WithSignupClock(func() time.Time { return now }))
	require.NoError(t, err)

	return &signupFixture{svc: svc, db: db, store: store, queue: q, tokens: tokens, now: &now}
}

func (f *signupFixture) beginInput(email, inviteID, preference string) BeginSignupInput {
	return BeginSignupInput{
		Username:        "newcomer",
		Email:           email,
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
		InviteID:        inviteID,
		Preference:      preference,
	}
}

func (f *signupFixture) stagedRecord(t *testing.T, email string) *twofactor.PendingVerification {
	t.Helper()

	payload, found, err := f.store.Get(context.Background(), twofactor.StagingKey(twofactor.IntentSignup, email))
	require.NoError(t, err)
	require.True(t, found)

	var record twofactor.PendingVerification
	require.NoError(t, json.Unmarshal(payload, &record))
	return &record
}

func TestBeginSignupOtpStagesRecordAndSendsCode(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	result, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "otp"))
	require.NoError(t, err)
	require.Equal(t, models.TwoFactorOTP, result.TwoFactor)
	require.Empty(t, result.ProvisioningURI)

	record := f.stagedRecord(t, "newcomer@example.com")
	require.Equal(t, "newcomer", record.Username)
	require.Equal(t, "123newcomer45", record.InviteID)
	require.Len(t, record.Code, 6)
	require.Equal(t, twofactor.IntentSignup, record.Intent)
	require.Equal(t, f.now.Add(twofactor.StagingTTL).UnixMilli(), record.ExpiresAt)

	// Only the bcrypt hash is staged, never the plaintext.
	require.NotEqual(t, "hunter22", record.PasswordHash)
	require.True(t, crypto.VerifyPassword(record.PasswordHash, "hunter22"))

	job := f.queue.lastJob(t)
	require.Equal(t, notify.TypeOTP, job.Type)
	require.Equal(t, "newcomer@example.com", job.To)
	require.Contains(t, job.Content, record.Code)

	// The account itself is untouched until the code is proven.
	var user models.User
	require.NoError(t, f.db.Where("email = ?", "newcomer@example.com").Take(&user).Error)
	require.False(t, user.IsVerified)
	require.Empty(t, user.Password)
}

func TestBeginSignupRejectsUnknownInvite(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	_, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "999wrong99", "otp"))
	require.ErrorIs(t, err, ErrInviteNotFound)

	_, err = f.svc.BeginSignup(context.Background(), f.beginInput("stranger@example.com", "123newcomer45", "otp"))
	require.ErrorIs(t, err, ErrInviteNotFound)
}

func TestBeginSignupValidationFieldList(t *testing.T) {
	f := newSignupFixture(t)

	input := f.beginInput("newcomer@example.com", "123newcomer45", "otp")
	input.ConfirmPassword = "different"
	input.Username = "ab"

	_, err := f.svc.BeginSignup(context.Background(), input)
	appErr := apperrors.FromError(err)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)

	fields := make([]string, 0, len(appErr.Fields))
	for _, field := range appErr.Fields {
		fields = append(fields, field.Field)
	}
	require.Contains(t, fields, "confirm_password")
	require.Contains(t, fields, "username")
}

func TestBeginSignupRejectsRevokedInvite(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	invited := seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)
	require.NoError(t, f.db.Model(invited).Update("invite_status", models.InviteExpired).Error)

	_, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "otp"))
	require.ErrorIs(t, err, ErrInviteNotFound)
}

func TestCompleteOtpSignupActivatesAccount(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	_, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "otp"))
	require.NoError(t, err)
	record := f.stagedRecord(t, "newcomer@example.com")

	// A wrong code leaves the staged record for a retry.
	_, err = f.svc.CompleteOtpSignup(context.Background(), "newcomer@example.com", "000000")
	require.ErrorIs(t, err, twofactor.ErrCodeMismatch)
	f.stagedRecord(t, "newcomer@example.com")

	pair, err := f.svc.CompleteOtpSignup(context.Background(), "newcomer@example.com", record.Code)
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "newcomer@example.com", claims.Email)
	require.Equal(t, models.RoleOperator, claims.Role)

	var user models.User
	require.NoError(t, f.db.Where("email = ?", "newcomer@example.com").Take(&user).Error)
	require.True(t, user.IsVerified)
	require.Equal(t, models.InviteAccepted, user.InviteStatus)
	require.Equal(t, models.TwoFactorOTP, user.TwoFactor)
	require.True(t, crypto.VerifyPassword(user.Password, "hunter22"))
	require.NotNil(t, user.InviteAcceptedAt)
	require.NotNil(t, user.LastLoginAt)

	// The consumed record is gone; a repeat completion cannot re-activate.
	_, found, err := f.store.Get(context.Background(), twofactor.StagingKey(twofactor.IntentSignup, "newcomer@example.com"))
	require.NoError(t, err)
	require.False(t, found)

	_, err = f.svc.CompleteOtpSignup(context.Background(), "newcomer@example.com", record.Code)
	require.ErrorIs(t, err, ErrPendingNotFound)
}

func TestCompleteOtpSignupExpiryBoundary(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	_, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "otp"))
	require.NoError(t, err)
	record := f.stagedRecord(t, "newcomer@example.com")

	// One millisecond before expiry the staged record is still honoured.
	*f.now = time.UnixMilli(record.ExpiresAt - 1).UTC()
	require.NoError(t, twofactor.VerifyOtp(record, record.Code, *f.now))

	// At the exact expiry instant the store has evicted the record, and the
	// record itself would be rejected as expired either way.
	*f.now = time.UnixMilli(record.ExpiresAt).UTC()
	_, err = f.svc.CompleteOtpSignup(context.Background(), "newcomer@example.com", record.Code)
	require.Error(t, err)
}

func TestBeginSignupAfterActivationConflicts(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	_, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "otp"))
	require.NoError(t, err)
	record := f.stagedRecord(t, "newcomer@example.com")

	_, err = f.svc.CompleteOtpSignup(context.Background(), "newcomer@example.com", record.Code)
	require.NoError(t, err)

	_, err = f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "otp"))
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestTotpSignupFlow(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	result, err := f.svc.BeginSignup(context.Background(), f.beginInput("newcomer@example.com", "123newcomer45", "totp"))
	require.NoError(t, err)
	require.Equal(t, models.TwoFactorTOTP, result.TwoFactor)
	require.Contains(t, result.ProvisioningURI, "otpauth://totp/")
	require.True(t, strings.HasPrefix(result.QRCode, "data:image/png;base64,"))

	var staged models.User
	require.NoError(t, f.db.Where("email = ?", "newcomer@example.com").Take(&staged).Error)
	require.False(t, staged.IsVerified)
	require.False(t, staged.TOTPEnabled)
	require.NotEmpty(t, staged.TOTPSecret)
	require.Equal(t, models.TwoFactorTOTP, staged.TwoFactor)
	require.True(t, crypto.VerifyPassword(staged.Password, "hunter22"))

	// An invalid authenticator code is rejected and changes nothing.
	_, err = f.svc.CompleteTotpSignup(context.Background(), "newcomer@example.com", "000000")
	require.ErrorIs(t, err, ErrTOTPInvalid)

	code, err := pqtotp.GenerateCode(staged.TOTPSecret, *f.now)
	require.NoError(t, err)

	pair, err := f.svc.CompleteTotpSignup(context.Background(), "newcomer@example.com", code)
	require.NoError(t, err)

	claims, err := f.tokens.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "newcomer@example.com", claims.Email)

	var activated models.User
	require.NoError(t, f.db.Where("email = ?", "newcomer@example.com").Take(&activated).Error)
	require.True(t, activated.IsVerified)
	require.True(t, activated.TOTPEnabled)
	require.Equal(t, models.InviteAccepted, activated.InviteStatus)

	// Activation happens at most once.
	_, err = f.svc.CompleteTotpSignup(context.Background(), "newcomer@example.com", code)
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestCompleteTotpSignupWithoutSecret(t *testing.T) {
	f := newSignupFixture(t)
	admin := seedVerifiedUser(t, f.db, "root@example.com", models.RoleSuperAdmin, "secret123")
	seedPendingInvite(t, f.db, "newcomer@example.com", "123newcomer45", models.RoleOperator, admin.ID)

	_, err := f.svc.CompleteTotpSignup(context.Background(), "newcomer@example.com", "123456")
	require.ErrorIs(t, err, ErrTOTPNotConfigured)

	_, err = f.svc.CompleteTotpSignup(context.Background(), "ghost@example.com", "123456")
	require.ErrorIs(t, err, ErrInviteNotFound)
}
