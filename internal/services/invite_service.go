package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/internal/notify"
	"github.com/rahulnair23/foyer/internal/permissions"
	apperrors "github.com/rahulnair23/foyer/pkg/errors"
	"github.com/rahulnair23/foyer/pkg/logger"
	"github.com/rahulnair23/foyer/pkg/metrics"
)

// DefaultInviteExpiry is how long an invitation stays redeemable before the
// maintenance sweep marks it expired.
const DefaultInviteExpiry = 72 * time.Hour

// InviteOption customises an InviteService.
type InviteOption func(*InviteService)

// WithInviteExpiry overrides the invitation validity window.
func WithInviteExpiry(expiry time.Duration) InviteOption {
	return func(s *InviteService) {
		if expiry > 0 {
			s.expiry = expiry
		}
	}
}

// WithInviteClock injects a custom clock, primarily for testing.
func WithInviteClock(clock func() time.Time) InviteOption {
	return func(s *InviteService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// InviteService creates and manages invitations. Every invite is authorized
// against the fixed role permission table before any state changes.
type InviteService struct {
	db        *gorm.DB
	publisher *notify.Publisher
	expiry    time.Duration
	now       func() time.Time
	log       *zap.Logger
}

// NewInviteService constructs an InviteService.
func NewInviteService(db *gorm.DB, publisher *notify.Publisher, opts ...InviteOption) (*InviteService, error) {
	if db == nil {
		return nil, errors.New("invite service requires database connection")
	}
	if publisher == nil {
		return nil, errors.New("invite service requires notification publisher")
	}

	service := &InviteService{
		db:        db,
		publisher: publisher,
		expiry:    DefaultInviteExpiry,
		now:       time.Now,
		log:       logger.WithModule("services.invite"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateInviteInput carries the parameters of an invitation request. The
// actor email comes from the authenticated caller, never from the request
// body; the actor's role is resolved from the database so a stale token
// cannot invite above its current rank.
type CreateInviteInput struct {
	ActorEmail   string
	Email        string      `json:"email" validate:"required,email"`
	Role         models.Role `json:"role" validate:"required"`
	Organisation string      `json:"organisation" validate:"omitempty,min=2"`
}

// InviteSummary is the projection returned when listing issued invitations.
type InviteSummary struct {
	Username     string              `json:"username"`
	Email        string              `json:"email"`
	Role         models.Role         `json:"role"`
	InviteStatus models.InviteStatus `json:"invite_status"`
	CreatedAt    time.Time           `json:"created_at"`
}

// CreateInvite validates, authorizes and persists a new invitation, then
// enqueues the invitation email. Authorization is checked before any lookup
// so an unauthorized caller learns nothing about existing accounts.
func (s *InviteService) CreateInvite(ctx context.Context, input CreateInviteInput) (string, error) {
	ctx = ensureContext(ctx)

	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Organisation = strings.TrimSpace(input.Organisation)

	if err := validateInput(input); err != nil {
		return "", err
	}
	if !input.Role.Known() {
		return "", apperrors.NewValidation([]apperrors.FieldError{
			{Field: "role", Message: "must be a known role"},
		})
	}

	actor, err := s.actor(ctx, input.ActorEmail)
	if err != nil {
		return "", err
	}

	if !permissions.CanInvite(actor.Role, input.Role) {
		return "", apperrors.ErrForbidden
	}

	if input.Role == models.RoleClientAdmin && input.Organisation == "" {
		return "", apperrors.NewValidation([]apperrors.FieldError{
			{Field: "organisation", Message: "is required when inviting a client admin"},
		})
	}

	var existing models.User
	err = s.db.WithContext(ctx).Where("email = ?", input.Email).Take(&existing).Error
	switch {
	case err == nil:
		return "", ErrUserExists
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return "", apperrors.Wrap(err, "failed to check existing user")
	}

	inviteID, err := newInviteID(input.Email)
	if err != nil {
		return "", apperrors.Wrap(err, "failed to generate invite id")
	}

	expiresAt := s.now().UTC().Add(s.expiry)
	user := models.User{
		Username:        localPart(input.Email),
		Email:           input.Email,
		Role:            input.Role,
		Organisation:    input.Organisation,
		InviteStatus:    models.InvitePending,
		InvitedBy:       actor.ID,
		InviteID:        &inviteID,
		InviteExpiresAt: &expiresAt,
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return "", ErrUserExists
		}
		return "", apperrors.Wrap(err, "failed to create invited user")
	}

	// The invitation exists once the row commits. A broker outage must not
	// roll the account back; the gap is logged for operators instead.
	if err := s.publisher.PublishInvite(ctx, input.Email, inviteID); err != nil {
		s.log.Error("invite created but notification enqueue failed",
			zap.String("email", input.Email),
			zap.String("invite_id", inviteID),
			zap.Error(err),
		)
	}

	metrics.InvitesIssued.WithLabelValues(string(input.Role)).Inc()
	s.log.Info("invitation issued",
		zap.String("email", input.Email),
		zap.String("role", string(input.Role)),
		zap.String("invited_by", actor.ID),
	)

	return inviteID, nil
}

// ListInvites returns the invitations issued by the actor, newest first. An
// empty role lists all of them; a non-empty role narrows to that target role.
func (s *InviteService) ListInvites(ctx context.Context, actorEmail string, role models.Role) ([]InviteSummary, error) {
	ctx = ensureContext(ctx)

	if role != "" && !role.Known() {
		return nil, apperrors.NewBadRequest("Unknown role filter")
	}

	actor, err := s.actor(ctx, actorEmail)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("invited_by = ?", actor.ID)
	if role != "" {
		query = query.Where("role = ?", role)
	}

	var users []models.User
	err = query.Order("created_at DESC").Find(&users).Error
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list invitations")
	}

	summaries := make([]InviteSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, InviteSummary{
			Username:     user.Username,
			Email:        user.Email,
			Role:         user.Role,
			InviteStatus: user.InviteStatus,
			CreatedAt:    user.CreatedAt,
		})
	}
	return summaries, nil
}

// RevokeInvite transitions a pending invitation to expired so it can no
// longer be redeemed. Only platform administrators may revoke; like every
// other operation the revoker's role comes from the database, not the token.
func (s *InviteService) RevokeInvite(ctx context.Context, actorEmail, inviteID string) error {
	ctx = ensureContext(ctx)

	actor, err := s.actor(ctx, actorEmail)
	if err != nil {
		return err
	}
	if !permissions.CanManageInvites(actor.Role) {
		return apperrors.ErrForbidden
	}
	if strings.TrimSpace(inviteID) == "" {
		return apperrors.NewBadRequest("Invite ID is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("invite_id = ? AND invite_status = ?", inviteID, models.InvitePending).
		Update("invite_status", models.InviteExpired)
	if result.Error != nil {
		return apperrors.Wrap(result.Error, "failed to revoke invitation")
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.log.Info("invitation revoked", zap.String("invite_id", inviteID))
	return nil
}

// ExpireStale marks pending invitations past their validity window as
// expired. Returns the number of invitations swept. Run on a schedule.
func (s *InviteService) ExpireStale(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("invite_status = ? AND invite_expires_at IS NOT NULL AND invite_expires_at < ?",
			models.InvitePending, s.now().UTC()).
		Update("invite_status", models.InviteExpired)
	if result.Error != nil {
		return 0, apperrors.Wrap(result.Error, "failed to expire stale invitations")
	}

	if result.RowsAffected > 0 {
		s.log.Info("expired stale invitations", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// actor resolves the authenticated caller's account. Callers with no
// verified account cannot act.
func (s *InviteService) actor(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.ErrUnauthorized
	}

	var actor models.User
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&actor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to resolve acting user")
	}
	if !actor.IsVerified {
		return nil, apperrors.ErrForbidden
	}
	return &actor, nil
}

// newInviteID builds the invitation identifier: three random digits, the
// email local part, then two random digits.
func newInviteID(email string) (string, error) {
	prefix, err := randomDigits(3)
	if err != nil {
		return "", err
	}
	suffix, err := randomDigits(2)
	if err != nil {
		return "", err
	}
	return prefix + localPart(email) + suffix, nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	for i := 0; i < n; i++ {
		digit, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("read random digit: %w", err)
		}
		b.WriteString(digit.String())
	}
	return b.String(), nil
}

func localPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
