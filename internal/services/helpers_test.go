package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rahulnair23/foyer/internal/auth"
	"github.com/rahulnair23/foyer/internal/auth/twofactor"
	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/internal/notify"
	"github.com/rahulnair23/foyer/internal/queue"
	"github.com/rahulnair23/foyer/internal/staging"
	"github.com/rahulnair23/foyer/pkg/crypto"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.User{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

// fakeQueue records published payloads in memory.
type fakeQueue struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (q *fakeQueue) Publish(ctx context.Context, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	cpy := make([]byte, len(body))
	copy(cpy, body)
	q.bodies = append(q.bodies, cpy)
	return nil
}

func (q *fakeQueue) Consume(ctx context.Context) (<-chan queue.Delivery, error) {
	ch := make(chan queue.Delivery)
	close(ch)
	return ch, nil
}

func (q *fakeQueue) Close() error { return nil }

func (q *fakeQueue) jobs(t *testing.T) []notify.Job {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]notify.Job, 0, len(q.bodies))
	for _, body := range q.bodies {
		job, err := notify.DecodeJob(body)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	return jobs
}

func (q *fakeQueue) lastJob(t *testing.T) notify.Job {
	t.Helper()
	jobs := q.jobs(t)
	require.NotEmpty(t, jobs)
	return jobs[len(jobs)-1]
}

var errBrokerDown = errors.New("broker unavailable")

func newTestPublisher(t *testing.T, q queue.Queue) *notify.Publisher {
	t.Helper()
	publisher, err := notify.NewPublisher(q, "https://foyer.test")
	require.NoError(t, err)
	return publisher
}

func newTestTokens(t *testing.T, now *time.Time) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: "unit-test-secret",
		Issuer: "foyer-test",
		Clock:  func() time.Time { return *now },
	})
	require.NoError(t, err)
	return tokens
}

func newTestTOTP(now *time.Time) *twofactor.TOTPService {
	return twofactor.NewTOTPService(twofactor.WithClock(func() time.Time { return *now }))
}

func newTestStaging(now *time.Time) *staging.MemoryStore {
	return staging.NewMemoryStore().WithClock(func() time.Time { return *now })
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)
	return hashed
}

func seedVerifiedUser(t *testing.T, db *gorm.DB, email string, role models.Role, password string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	now := time.Now()
	user := models.User{
		Username:         strings.SplitN(email, "@", 2)[0],
		Email:            email,
		Password:         hashed,
		Role:             role,
		IsVerified:       true,
		InviteStatus:     models.InviteAccepted,
		TwoFactor:        models.TwoFactorNone,
		InviteAcceptedAt: &now,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func seedPendingInvite(t *testing.T, db *gorm.DB, email, inviteID string, role models.Role, invitedBy string) *models.User {
	t.Helper()

	expires := time.Now().Add(72 * time.Hour)
	user := models.User{
		Username:        strings.SplitN(email, "@", 2)[0],
		Email:           email,
		Role:            role,
		InviteStatus:    models.InvitePending,
		InvitedBy:       invitedBy,
		InviteID:        &inviteID,
		InviteExpiresAt: &expires,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}
