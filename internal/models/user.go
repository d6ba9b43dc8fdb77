package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role enumerates the fixed privilege levels, from highest to lowest rank.
type Role string

const (
	RoleSuperAdmin  Role = "super_admin"
	RoleSiteAdmin   Role = "site_admin"
	RoleOperator    Role = "operator"
	RoleClientAdmin Role = "client_admin"
	RoleClientUser  Role = "client_user"
)

// Roles lists every known role in rank order.
var Roles = []Role{RoleSuperAdmin, RoleSiteAdmin, RoleOperator, RoleClientAdmin, RoleClientUser}

// Known reports whether the role is one of the fixed set.
func (r Role) Known() bool {
	switch r {
	case RoleSuperAdmin, RoleSiteAdmin, RoleOperator, RoleClientAdmin, RoleClientUser:
		return true
	}
	return false
}

// InviteStatus tracks the lifecycle of an invitation.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteExpired  InviteStatus = "expired"
)

// TwoFactorMode is the closed set of second-factor verification modes.
type TwoFactorMode string

const (
	TwoFactorNone TwoFactorMode = "none"
	TwoFactorOTP  TwoFactorMode = "otp"
	TwoFactorTOTP TwoFactorMode = "totp"
)

// ParseTwoFactorMode maps a wire value onto the closed mode set.
func ParseTwoFactorMode(value string) (TwoFactorMode, bool) {
	switch TwoFactorMode(value) {
	case TwoFactorNone, "":
		return TwoFactorNone, true
	case TwoFactorOTP:
		return TwoFactorOTP, true
	case TwoFactorTOTP:
		return TwoFactorTOTP, true
	}
	return TwoFactorNone, false
}

// User is the credential record for both pending invitees and activated accounts.
// A row is created in the pending state by an invitation (no password yet) and
// becomes active once IsVerified is set by the signup-completion step.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"uniqueIndex;not null" json:"username"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `json:"-"`

	Role         Role   `gorm:"not null;index" json:"role"`
	Organisation string `json:"organisation,omitempty"`

	IsVerified   bool         `gorm:"default:false" json:"is_verified"`
	InviteStatus InviteStatus `gorm:"not null;default:pending;index" json:"invite_status"`
	InvitedBy    string       `gorm:"type:uuid;index" json:"invited_by"`
	// InviteID is nil for accounts that never entered through an invitation
	// (the seeded root user); NULL keeps the unique index satisfiable.
	InviteID        *string    `gorm:"uniqueIndex" json:"invite_id,omitempty"`
	InviteExpiresAt *time.Time `gorm:"index" json:"invite_expires_at,omitempty"`

	TwoFactor   TwoFactorMode `gorm:"column:twofactor;not null;default:none" json:"twofactor"`
	TOTPSecret  string        `json:"-"`
	TOTPEnabled bool          `gorm:"default:false" json:"totp_enabled"`

	InviteAcceptedAt *time.Time `json:"invite_accepted_at,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// IsActive reports whether the account has completed signup verification.
func (u *User) IsActive() bool {
	return u.IsVerified
}
