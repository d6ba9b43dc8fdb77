package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/auth/twofactor"
	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/internal/notify"
	"github.com/rahulnair23/foyer/internal/staging"
	"github.com/rahulnair23/foyer/pkg/crypto"
	apperrors "github.com/rahulnair23/foyer/pkg/errors"
	"github.com/rahulnair23/foyer/pkg/logger"
)

// PasswordOption customises a PasswordService.
type PasswordOption func(*PasswordService)

// WithPasswordClock injects a custom clock, primarily for testing.
func WithPasswordClock(clock func() time.Time) PasswordOption {
	return func(s *PasswordService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordService handles forgotten-password recovery and authenticated
// password changes. Recovery requires proving the account's second factor
// (or an emailed code when none is configured) before a reset token is
// issued.
type PasswordService struct {
	db        *gorm.DB
	staging   staging.Store
	tokens    *auth.TokenService
	totp      *twofactor.TOTPService
	publisher *notify.Publisher
	now       func() time.Time
	log       *zap.Logger
}

// NewPasswordService constructs a PasswordService.
func NewPasswordService(
	db *gorm.DB,
	store staging.Store,
	tokens *auth.TokenService,
	totp *twofactor.TOTPService,
	publisher *notify.Publisher,
	opts ...PasswordOption,
) (*PasswordService, error) {
	if db == nil {
		return nil, errors.New("password service requires database connection")
	}
	if store == nil {
		return nil, errors.New("password service requires staging store")
	}
	if tokens == nil {
		return nil, errors.New("password service requires token service")
	}
	if totp == nil {
		return nil, errors.New("password service requires totp service")
	}
	if publisher == nil {
		return nil, errors.New("password service requires notification publisher")
	}

	service := &PasswordService{
		db:        db,
		staging:   store,
		tokens:    tokens,
		totp:      totp,
		publisher: publisher,
		now:       time.Now,
		log:       logger.WithModule("services.password"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

type forgotInput struct {
	Email string `json:"email" validate:"required,email"`
}

type resetInput struct {
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// ForgotInitiate starts password recovery. The returned challenge tells the
// caller which verification follows: otp when a code was emailed, totp when
// the account uses an authenticator. For unknown or unverified emails the
// challenge is empty and no error is returned, so the endpoint does not
// reveal whether an account exists.
func (s *PasswordService) ForgotInitiate(ctx context.Context, email string) (models.TwoFactorMode, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	if err := validateInput(forgotInput{Email: email}); err != nil {
		return "", err
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", apperrors.Wrap(err, "failed to look up account")
	}
	if !user.IsVerified {
		return "", nil
	}

	if user.TwoFactor == models.TwoFactorTOTP && user.TOTPEnabled {
		return models.TwoFactorTOTP, nil
	}

	code, err := twofactor.GenerateCode()
	if err != nil {
		return "", apperrors.Wrap(err, "failed to generate verification code")
	}

	record := twofactor.PendingVerification{
		Email:     email,
		Code:      code,
		ExpiresAt: s.now().Add(twofactor.StagingTTL).UnixMilli(),
		Intent:    twofactor.IntentReset,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to encode pending verification")
	}

	key := twofactor.StagingKey(twofactor.IntentReset, email)
	if err := s.staging.Set(ctx, key, payload, twofactor.StagingTTL); err != nil {
		return "", apperrors.Wrap(err, "failed to stage pending verification")
	}

	if err := s.publisher.PublishCode(ctx, email, code); err != nil {
		return "", apperrors.Wrap(err, "failed to enqueue verification code")
	}

	s.log.Info("password recovery initiated", zap.String("email", email))
	return models.TwoFactorOTP, nil
}

// ForgotVerifyOtp checks the emailed recovery code and returns a short-lived
// reset token on success.
func (s *PasswordService) ForgotVerifyOtp(ctx context.Context, email, code string) (string, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	key := twofactor.StagingKey(twofactor.IntentReset, email)
	payload, found, err := s.staging.Get(ctx, key)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to read pending verification")
	}
	if !found {
		return "", ErrPendingNotFound
	}

	var record twofactor.PendingVerification
	if err := json.Unmarshal(payload, &record); err != nil {
		return "", apperrors.Wrap(err, "failed to decode pending verification")
	}

	if err := twofactor.VerifyOtp(&record, code, s.now()); err != nil {
		return "", err
	}

	if err := s.staging.Del(ctx, key); err != nil {
		s.log.Warn("failed to delete consumed verification record",
			zap.String("email", email), zap.Error(err))
	}

	token, err := s.tokens.IssueResetToken(email)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to issue reset token")
	}
	return token, nil
}

// ForgotVerifyTotp checks the authenticator code and returns a reset token.
func (s *PasswordService) ForgotVerifyTotp(ctx context.Context, email, code string) (string, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrUserNotRegistered
	}
	if err != nil {
		return "", apperrors.Wrap(err, "failed to look up account")
	}
	if user.TOTPSecret == "" || !user.TOTPEnabled {
		return "", ErrTOTPNotConfigured
	}

	if !s.totp.Verify(user.TOTPSecret, code) {
		return "", ErrTOTPInvalid
	}

	token, err := s.tokens.IssueResetToken(email)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to issue reset token")
	}
	return token, nil
}

// Reset sets a new password for the account named by a valid reset token.
func (s *PasswordService) Reset(ctx context.Context, resetToken, password, confirmPassword string) error {
	ctx = ensureContext(ctx)

	claims, err := s.tokens.VerifyResetToken(resetToken)
	if err != nil {
		return err
	}

	if err := validateInput(resetInput{Password: password, ConfirmPassword: confirmPassword}); err != nil {
		return err
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return apperrors.Wrap(err, "failed to hash password")
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ?", claims.Email).
		Update("password", hash)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "failed to update password")
	}
	if result.RowsAffected == 0 {
		return ErrUserNotRegistered
	}

	s.log.Info("password reset completed", zap.String("email", claims.Email))
	return nil
}

// Update changes the password of an authenticated account after verifying
// the current password.
func (s *PasswordService) Update(ctx context.Context, email, currentPassword, password, confirmPassword string) error {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	if err := validateInput(resetInput{Password: password, ConfirmPassword: confirmPassword}); err != nil {
		return err
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotRegistered
	}
	if err != nil {
		return apperrors.Wrap(err, "failed to look up account")
	}

	if !crypto.VerifyPassword(user.Password, currentPassword) {
		return apperrors.ErrInvalidCredentials
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return apperrors.Wrap(err, "failed to hash password")
	}

	err = s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("password", hash).Error
	if err != nil {
		return apperrors.Wrap(err, "failed to update password")
	}

	s.log.Info("password updated", zap.String("email", email))
	return nil
}
