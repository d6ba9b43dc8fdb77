package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rahulnair23/foyer/internal/models"
	apperrors "github.com/rahulnair23/foyer/pkg/errors"
)

// Default validity periods for each token purpose.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultResetTokenTTL   = 15 * time.Minute
)

// Token purposes embedded in the typ claim. Verification requires an exact
// match so a refresh token can never pass as an access token.
const (
	purposeAccess  = "access"
	purposeRefresh = "refresh"
	purposeReset   = "reset"
)

// ErrTokenInvalid is returned for every verification failure. Signature
// mismatch, expiry, and purpose mismatch are deliberately indistinguishable
// to the caller.
var ErrTokenInvalid = apperrors.ErrUnauthorized

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ResetTTL   time.Duration
	Clock      func() time.Time
}

// Claims represents the custom claims embedded in issued tokens.
type Claims struct {
	Email    string      `json:"email"`
	Username string      `json:"username,omitempty"`
	Role     models.Role `json:"role,omitempty"`
	Purpose  string      `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair bundles the access and refresh tokens issued on successful
// authentication.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenService issues and verifies the signed, stateless bearer tokens used
// across the platform. Tokens remain valid until their expiry claim elapses
// or the signing secret rotates; there is no revocation list.
type TokenService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

// NewTokenService constructs a TokenService from the provided configuration.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token: secret must be provided")
	}

	svc := &TokenService{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		resetTTL:   cfg.ResetTTL,
		now:        time.Now,
	}
	if svc.accessTTL <= 0 {
		svc.accessTTL = DefaultAccessTokenTTL
	}
	if svc.refreshTTL <= 0 {
		svc.refreshTTL = DefaultRefreshTokenTTL
	}
	if svc.resetTTL <= 0 {
		svc.resetTTL = DefaultResetTokenTTL
	}
	if cfg.Clock != nil {
		svc.now = cfg.Clock
	}

	return svc, nil
}

// IssuePair issues the access+refresh token pair for an authenticated user.
func (s *TokenService) IssuePair(user *models.User) (TokenPair, error) {
	access, err := s.IssueAccessToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(user)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccessToken issues a short-lived token carrying email, username and role.
func (s *TokenService) IssueAccessToken(user *models.User) (string, error) {
	if user == nil || user.Email == "" {
		return "", errors.New("token: user email is required")
	}
	return s.sign(Claims{
		Email:    user.Email,
		Username: user.Username,
		Role:     user.Role,
		Purpose:  purposeAccess,
	}, s.accessTTL)
}

// IssueRefreshToken issues a long-lived token carrying email and username.
func (s *TokenService) IssueRefreshToken(user *models.User) (string, error) {
	if user == nil || user.Email == "" {
		return "", errors.New("token: user email is required")
	}
	return s.sign(Claims{
		Email:    user.Email,
		Username: user.Username,
		Purpose:  purposeRefresh,
	}, s.refreshTTL)
}

// IssueResetToken issues a short-lived password-reset token carrying only the email.
func (s *TokenService) IssueResetToken(email string) (string, error) {
	if email == "" {
		return "", errors.New("token: email is required")
	}
	return s.sign(Claims{
		Email:   email,
		Purpose: purposeReset,
	}, s.resetTTL)
}

// VerifyAccessToken validates an access token and returns its claims.
func (s *TokenService) VerifyAccessToken(token string) (*Claims, error) {
	return s.verify(token, purposeAccess)
}

// VerifyRefreshToken validates a refresh token and returns its claims.
func (s *TokenService) VerifyRefreshToken(token string) (*Claims, error) {
	return s.verify(token, purposeRefresh)
}

// VerifyResetToken validates a password-reset token and returns its claims.
func (s *TokenService) VerifyResetToken(token string) (*Claims, error) {
	return s.verify(token, purposeReset)
}

func (s *TokenService) sign(claims Claims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   claims.Email,
		Issuer:    s.issuer,
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

func (s *TokenService) verify(tokenString, purpose string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrTokenInvalid
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrTokenInvalid
	}
	if claims.Purpose != purpose || claims.Email == "" {
		return nil, ErrTokenInvalid
	}

	return &claims, nil
}
