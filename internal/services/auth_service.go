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

// AuthOption customises an AuthService.
type AuthOption func(*AuthService)

// WithAuthClock injects a custom clock, primarily for testing.
func WithAuthClock(clock func() time.Time) AuthOption {
	return func(s *AuthService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// AuthService authenticates activated accounts. Accounts with a second
// factor configured receive a challenge instead of tokens; the matching
// completion call issues the tokens.
type AuthService struct {
	db        *gorm.DB
	staging   staging.Store
	tokens    *auth.TokenService
	totp      *twofactor.TOTPService
	publisher *notify.Publisher
	now       func() time.Time
	log       *zap.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(
	db *gorm.DB,
	store staging.Store,
	tokens *auth.TokenService,
	totp *twofactor.TOTPService,
	publisher *notify.Publisher,
	opts ...AuthOption,
) (*AuthService, error) {
	if db == nil {
		return nil, errors.New("auth service requires database connection")
	}
	if store == nil {
		return nil, errors.New("auth service requires staging store")
	}
	if tokens == nil {
		return nil, errors.New("auth service requires token service")
	}
	if totp == nil {
		return nil, errors.New("auth service requires totp service")
	}
	if publisher == nil {
		return nil, errors.New("auth service requires notification publisher")
	}

	service := &AuthService{
		db:        db,
		staging:   store,
		tokens:    tokens,
		totp:      totp,
		publisher: publisher,
		now:       time.Now,
		log:       logger.WithModule("services.auth"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// LoginResult is either a completed authentication (Tokens set, Challenge
// none) or a pending second-factor challenge (Challenge otp|totp, Tokens nil).
type LoginResult struct {
	Challenge models.TwoFactorMode `json:"challenge"`
	Tokens    *auth.TokenPair      `json:"tokens,omitempty"`
}

// Login verifies the primary credential. Accounts without a second factor
// get tokens immediately; otherwise the configured challenge is started.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	if err := validateInput(loginInput{Email: email, Password: password}); err != nil {
		return nil, err
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrUserNotRegistered
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up account")
	}

	if !crypto.VerifyPassword(user.Password, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	if !user.IsVerified {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrUserNotVerified
	}

	switch user.TwoFactor {
	case models.TwoFactorOTP:
		if err := s.stageLoginCode(ctx, email); err != nil {
			return nil, err
		}
		metrics.AuthAttempts.WithLabelValues("challenge").Inc()
		s.log.Info("login challenge issued", zap.String("email", email), zap.String("twofactor", "otp"))
		return &LoginResult{Challenge: models.TwoFactorOTP}, nil

	case models.TwoFactorTOTP:
		metrics.AuthAttempts.WithLabelValues("challenge").Inc()
		s.log.Info("login challenge issued", zap.String("email", email), zap.String("twofactor", "totp"))
		return &LoginResult{Challenge: models.TwoFactorTOTP}, nil

	default:
		pair, err := s.finishLogin(ctx, &user)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Challenge: models.TwoFactorNone, Tokens: &pair}, nil
	}
}

// CompleteOtpLogin verifies the emailed login code and issues tokens.
func (s *AuthService) CompleteOtpLogin(ctx context.Context, email, code string) (auth.TokenPair, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	key := twofactor.StagingKey(twofactor.IntentLogin, email)
	payload, found, err := s.staging.Get(ctx, key)
	if err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to read pending verification")
	}
	if !found {
		return auth.TokenPair{}, ErrPendingNotFound
	}

	var record twofactor.PendingVerification
	if err := json.Unmarshal(payload, &record); err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to decode pending verification")
	}

	if err := twofactor.VerifyOtp(&record, code, s.now()); err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return auth.TokenPair{}, err
	}

	if err := s.staging.Del(ctx, key); err != nil {
		s.log.Warn("failed to delete consumed verification record",
			zap.String("email", email), zap.Error(err))
	}

	user, err := s.activeUser(ctx, email)
	if err != nil {
		return auth.TokenPair{}, err
	}
	return s.finishLogin(ctx, user)
}

// CompleteTotpLogin verifies the authenticator code and issues tokens.
func (s *AuthService) CompleteTotpLogin(ctx context.Context, email, code string) (auth.TokenPair, error) {
	ctx = ensureContext(ctx)
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.activeUser(ctx, email)
	if err != nil {
		return auth.TokenPair{}, err
	}
	if user.TOTPSecret == "" || !user.TOTPEnabled {
		return auth.TokenPair{}, ErrTOTPNotConfigured
	}

	if !s.totp.Verify(user.TOTPSecret, code) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return auth.TokenPair{}, ErrTOTPInvalid
	}

	return s.finishLogin(ctx, user)
}

// Refresh validates a refresh token and issues a fresh access token for the
// account it names. The refresh token itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (string, error) {
	ctx = ensureContext(ctx)

	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return "", err
	}

	user, err := s.activeUser(ctx, claims.Email)
	if err != nil {
		return "", err
	}

	access, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to issue access token")
	}
	return access, nil
}

func (s *AuthService) stageLoginCode(ctx context.Context, email string) error {
	code, err := twofactor.GenerateCode()
	if err != nil {
		return apperrors.Wrap(err, "failed to generate verification code")
	}

	record := twofactor.PendingVerification{
		Email:     email,
		Code:      code,
		ExpiresAt: s.now().Add(twofactor.StagingTTL).UnixMilli(),
		TwoFactor: models.TwoFactorOTP,
		Intent:    twofactor.IntentLogin,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return apperrors.Wrap(err, "failed to encode pending verification")
	}

	key := twofactor.StagingKey(twofactor.IntentLogin, email)
	if err := s.staging.Set(ctx, key, payload, twofactor.StagingTTL); err != nil {
		return apperrors.Wrap(err, "failed to stage pending verification")
	}

	if err := s.publisher.PublishCode(ctx, email, code); err != nil {
		return apperrors.Wrap(err, "failed to enqueue verification code")
	}
	return nil
}

// activeUser loads an account that must exist and be verified.
func (s *AuthService) activeUser(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotRegistered
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to look up account")
	}
	if !user.IsVerified {
		return nil, ErrUserNotVerified
	}
	return &user, nil
}

func (s *AuthService) finishLogin(ctx context.Context, user *models.User) (auth.TokenPair, error) {
	now := s.now().UTC()
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", user.ID).
		Update("last_login_at", now).Error
	if err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to record login")
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return auth.TokenPair{}, apperrors.Wrap(err, "failed to issue tokens")
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.log.Info("login succeeded", zap.String("email", user.Email), zap.String("role", string(user.Role)))
	return pair, nil
}
