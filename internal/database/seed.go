package database

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/pkg/crypto"
)

// SeedRootUser provisions the initial super_admin account when no verified
// super_admin exists yet. Every other account enters the system by invitation,
// so a fresh deployment needs exactly one seeded administrator.
func SeedRootUser(db *gorm.DB, email, username, password string) error {
	if db == nil {
		return errors.New("nil database handle")
	}

	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return errors.New("root user requires email, username and password")
	}

	var count int64
	if err := db.Model(&models.User{}).
		Where("role = ? AND is_verified = ?", models.RoleSuperAdmin, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashed, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	now := time.Now()
	root := models.User{
		Username:         username,
		Email:            email,
		Password:         hashed,
		Role:             models.RoleSuperAdmin,
		IsVerified:       true,
		InviteStatus:     models.InviteAccepted,
		TwoFactor:        models.TwoFactorNone,
		InviteAcceptedAt: &now,
	}

	return db.Create(&root).Error
}
