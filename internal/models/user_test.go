package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openModelTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&User{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func TestTwoFactorColumnMatchesWireName(t *testing.T) {
	db := openModelTestDB(t)

	user := User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, db.Create(&user).Error)

	// Services address the column by its wire name in conditional updates;
	// the mapping must hold or signup activation breaks.
	result := db.Model(&User{}).
		Where("email = ?", "alice@example.com").
		Updates(map[string]interface{}{"twofactor": TwoFactorTOTP})
	require.NoError(t, result.Error)
	require.EqualValues(t, 1, result.RowsAffected)

	var reloaded User
	require.NoError(t, db.Where("twofactor = ?", TwoFactorTOTP).Take(&reloaded).Error)
	require.Equal(t, "alice@example.com", reloaded.Email)
	require.Equal(t, TwoFactorTOTP, reloaded.TwoFactor)
}

func TestUninvitedAccountsDoNotCollideOnInviteID(t *testing.T) {
	db := openModelTestDB(t)

	// Accounts without an invitation (the seeded root, direct fixtures) leave
	// InviteID NULL; several of them must coexist under the unique index.
	first := User{Username: "root", Email: "root@example.com", IsVerified: true}
	second := User{Username: "ops", Email: "ops@example.com", IsVerified: true}
	require.NoError(t, db.Create(&first).Error)
	require.NoError(t, db.Create(&second).Error)

	inviteID := "123newcomer45"
	invited := User{Username: "newcomer", Email: "newcomer@example.com", InviteID: &inviteID}
	require.NoError(t, db.Create(&invited).Error)

	// A real invite identifier still collides.
	duplicate := User{Username: "other", Email: "other@example.com", InviteID: &inviteID}
	require.Error(t, db.Create(&duplicate).Error)
}

func TestBeforeCreateAssignsID(t *testing.T) {
	db := openModelTestDB(t)

	user := User{Username: "alice", Email: "alice@example.com"}
	require.NoError(t, db.Create(&user).Error)
	require.NotEmpty(t, user.ID)
}
