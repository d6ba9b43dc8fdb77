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
	"github.com/rahulnair23/foyer/pkg/metrics"
)

// SignupOption customises a SignupService.
type SignupOption func(*SignupService)

// WithSignupClock injects a custom clock, primarily for testing.
func WithSignupClock(clock func() time.Time) SignupOption {
	return func(s *SignupService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// SignupService drives the staged signup flow: an invited account submits its
// chosen credentials, proves control of a second factor, and only then
// becomes an activated user.
type SignupService struct {
	db        *gorm.DB
	staging   staging.Store
	tokens    *auth.TokenService
	totp      *twofactor.TOTPService
	publisher *notify.Publisher
	now       func() time.Time
	log       *zap.Logger
}

// NewSignupService constructs a SignupService.
func NewSignupService(
	db *gorm.DB,
	store staging.Store,
	tokens *auth.TokenService,
	totp *twofactor.TOTPService,
	publisher *notify.Publisher,
	opts ...SignupOption,
) (*SignupService, error) {
	if db == nil {
		return nil, errors.New("signup service requires database connection")
	}
	if store == nil {
		return nil, errors.New("signup service requires staging store")
	}
	if tokens == nil {
		return nil, errors.New("signup service requires token service")
	}
	if totp == nil {
		return nil, errors.New("signup service requires totp service")
	}
	if publisher == nil {
		return nil, errors.New("signup service requires notification publisher")
	}

	service := &SignupService{
		db:        db,
		staging:   store,
		tokens:    tokens,
		totp:      totp,
		publisher: publisher,
		now:       time.Now,
		log:       logger.WithModule("services.signup"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// BeginSignupInput carries the credential submission of an invited user.
type BeginSignupInput struct {
	Username        string `json:"username" validate:"required,min=3,max=64"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	InviteID        string `json:"invite_id" validate:"required"`
	Preference      string `json:"verification_preference" validate:"required,oneof=otp totp"`
}

// BeginSignupResult tells the caller which second-factor challenge follows.
// For TOTP signups it carries the provisioning material for the
// authenticator app.
type BeginSignupResult struct {
	TwoFactor       models.TwoFactorMode `json:"twofactor"`
	ProvisioningURI string               `json:"provisioning_uri,omitempty"`
	QRCode          string               `json:"qr_code,omitempty"`
}

// BeginSignup validates the submission against the pending invitation and
// starts the chosen second-factor flow. Nothing is activated here: the
// account stays pending until the factor is proven.
func (s *SignupService) BeginSignup(ctx context.Context, input BeginSignupInput) (*BeginSignupResult, error) {
	ctx = ensureContext(ctx)

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.TrimSpace(input.Username)
	input.InviteID = strings.TrimSpace(input.InviteID)

	if err := validateInput(input); err != nil {
		return nil, err
	}
	preference, ok := models.ParseTwoFactorMode(input.Preference)
	if !ok || preference == models.TwoFactorNone {
		return nil, apperrors.NewValidation([]apperrors.FieldError{
			{Field: "verification_preference", Message: "must be one of: otp totp"},
		})
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND invite_id = ?", input.Email, input.InviteID).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up invitation")
	}
	if user.IsVerified {
		return nil, ErrAlreadyVerified
	}
	if user.InviteStatus == models.InviteExpired {
		return nil, ErrInviteNotFound
	}

	// The plaintext password never leaves this function; only the hash is
	// staged or persisted.
	passwordHash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to hash password")
	}

	switch preference {
	case models.TwoFactorOTP:
		return s.beginOtpSignup(ctx, input, passwordHash)
	case models.TwoFactorTOTP:
		return s.beginTotpSignup(ctx, input, passwordHash)
	default:
		return nil, apperrors.NewBadRequest("Unsupported verification preference")
	}
}

func (s *SignupService) beginOtpSignup(ctx context.Context, input BeginSignupInput, passwordHash string) (*BeginSignupResult, error) {
	code, err := twofactor.GenerateCode()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to generate verification code")
	}

	record := twofactor.PendingVerification{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: passwordHash,
		InviteID:     input.InviteID,
		Code:         code,
		ExpiresAt:    s.now().Add(twofactor.StagingTTL).UnixMilli(),
		TwoFactor:    models.TwoFactorOTP,
		Intent:       twofactor.IntentSignup,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to encode pending verification")
	}

	key := twofactor.StagingKey(twofactor.IntentSignup, input.Email)
	if err := s.staging.Set(ctx, key, payload, twofactor.StagingTTL); err != nil {
		return nil, apperrors.Wrap(err, "failed to stage pending verification")
	}

	if err := s.publisher.PublishCode(ctx, input.Email, code); err != nil {
		return nil, apperrors.Wrap(err, "failed to enqueue verification code")
	}

	s.log.Info("signup staged, verification code sent", zap.String("email", input.Email))
	return &BeginSignupResult{TwoFactor: models.TwoFactorOTP}, nil
}

func (s *SignupService) beginTotpSignup(ctx context.Context, input BeginSignupInput, passwordHash string) (*BeginSignupResult, error) {
	secret, provisioningURI, err := s.totp.GenerateSecret(input.Email)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to generate totp secret")
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ? AND invite_id = ? AND is_verified = ?", input.Email, input.InviteID, false).
		Updates(map[string]interface{}{
			"username":    input.Username,
			"password":    passwordHash,
			"twofactor":   models.TwoFactorTOTP,
			"totp_secret": secret,
		})
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return nil, ErrUserExists
		}
		return nil, apperrors.Wrap(result.Error, "failed to stage totp signup")
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyVerified
	}

	qr, err := s.totp.QRCodeDataURL(provisioningURI)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to render qr code")
	}

	s.log.Info("signup staged, totp secret provisioned", zap.String("email", input.Email))
	return &BeginSignupResult{
		TwoFactor:       models.TwoFactorTOTP,
		ProvisioningURI: provisioningURI,
		QRCode:          qr,
	}, nil
}

// CompleteOtpSignup verifies the emailed one-time code and activates the
// account. Activation is a single conditional update so a concurrent or
// repeated completion can succeed at most once.
func (s *SignupService) CompleteOtpSignup(ctx context.Context, email, code string) (auth.TokenPair, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	record, key, err := s.loadPending(ctx, twofactor.IntentSignup, email)
	if err != nil {
		return auth.TokenPair{}, err
	}

	if err := twofactor.VerifyOtp(record, code, s.now()); err != nil {
		// The staged record stays in place so the user may retry until the
		// code expires or the store evicts it.
		return auth.TokenPair{}, err
	}

	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ? AND invite_id = ? AND is_verified = ?", email, record.InviteID, false).
		Updates(map[string]interface{}{
			"username":           record.Username,
			"password":           record.PasswordHash,
			"is_verified":        true,
			"invite_status":      models.InviteAccepted,
			"twofactor":          models.TwoFactorOTP,
			"invite_accepted_at": now,
			"last_login_at":      now,
		})
	if result.Error != nil {
		if isUniqueConstraintError(result.Error) {
			return auth.TokenPair{}, ErrUserExists
		}
		return auth.TokenPair{}, apperrors.Wrap(result.Error, "failed to activate account")
	}
	if result.RowsAffected == 0 {
		return auth.TokenPair{}, ErrAlreadyVerified
	}

	if err := s.staging.Del(ctx, key); err != nil {
		s.log.Warn("failed to delete consumed verification record",
			zap.String("email", email), zap.Error(err))
	}

	pair, err := s.issueFor(ctx, email)
	if err != nil {
		return auth.TokenPair{}, err
	}

	metrics.SignupCompletions.WithLabelValues(string(models.TwoFactorOTP)).Inc()
	s.log.Info("signup completed", zap.String("email", email), zap.String("twofactor", "otp"))
	return pair, nil
}

// CompleteTotpSignup verifies the authenticator code and activates the
// account, enabling TOTP for subsequent logins.
func (s *SignupService) CompleteTotpSignup(ctx context.Context, email, code string) (auth.TokenPair, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.TokenPair{}, ErrInviteNotFound
	}
	if err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to look up account")
	}
	if user.TOTPSecret == "" {
		return auth.TokenPair{}, ErrTOTPNotConfigured
	}

	if !s.totp.Verify(user.TOTPSecret, code) {
		return auth.TokenPair{}, ErrTOTPInvalid
	}

	now := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("email = ? AND is_verified = ?", email, false).
		Updates(map[string]interface{}{
			"is_verified":        true,
			"invite_status":      models.InviteAccepted,
			"totp_enabled":       true,
			"invite_accepted_at": now,
			"last_login_at":      now,
		})
	if result.Error != nil {
		return auth.TokenPair{}, apperrors.Wrap(result.Error, "failed to activate account")
	}
	if result.RowsAffected == 0 {
		return auth.TokenPair{}, ErrAlreadyVerified
	}

	pair, err := s.issueFor(ctx, email)
	if err != nil {
		return auth.TokenPair{}, err
	}

	metrics.SignupCompletions.WithLabelValues(string(models.TwoFactorTOTP)).Inc()
	s.log.Info("signup completed", zap.String("email", email), zap.String("twofactor", "totp"))
	return pair, nil
}

// loadPending fetches and decodes the staged verification record for the
// given intent and email.
func (s *SignupService) loadPending(ctx context.Context, intent twofactor.Intent, email string) (*twofactor.PendingVerification, string, error) {
	key := twofactor.StagingKey(intent, email)

	payload, found, err := s.staging.Get(ctx, key)
	if err != nil {
		return nil, "", apperrors.Wrap(err, "failed to read pending verification")
	}
	if !found {
		return nil, "", ErrPendingNotFound
	}

	var record twofactor.PendingVerification
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, "", apperrors.Wrap(err, "failed to decode pending verification")
	}
	return &record, key, nil
}

// issueFor loads the activated user and issues the token pair.
func (s *SignupService) issueFor(ctx context.Context, email string) (auth.TokenPair, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error; err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to load activated account")
	}

	pair, err := s.tokens.IssuePair(&user)
	if err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to issue tokens")
	}
	return pair, nil
}
