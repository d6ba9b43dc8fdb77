package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/rahulnair23/foyer/pkg/errors"
	pkgvalidator "github.com/rahulnair23/foyer/pkg/validator"
)

var (
	// ErrUserExists signals the target email already belongs to an account.
	ErrUserExists = apperrors.NewConflict("User already exists")
	// ErrInviteNotFound indicates no pending invite matches the email/invite pair.
	ErrInviteNotFound = apperrors.New("INVITE_NOT_FOUND", "User not invited or found", http.StatusNotFound)
	// ErrAlreadyVerified signals the account has already completed signup.
	ErrAlreadyVerified = apperrors.NewConflict("User already signed up, please login")
	// ErrUserNotRegistered signals a login attempt against an unknown email.
	ErrUserNotRegistered = apperrors.NewConflict("User not registered")
	// ErrUserNotVerified signals a login attempt before signup completion.
	ErrUserNotVerified = apperrors.NewConflict("User not verified, please sign up using your invite")
	// ErrPendingNotFound indicates the staged verification record is missing or evicted.
	ErrPendingNotFound = apperrors.New("PENDING_NOT_FOUND", "No verification request found or code expired", http.StatusNotFound)
	// ErrTOTPInvalid signals a rejected authenticator code.
	ErrTOTPInvalid = apperrors.New("TOTP_INVALID", "Invalid TOTP code", http.StatusBadRequest)
	// ErrTOTPNotConfigured indicates the account has no authenticator secret.
	ErrTOTPNotConfigured = apperrors.New("TOTP_NOT_CONFIGURED", "TOTP is not set up for this account", http.StatusNotFound)
)

// ensureContext guards operations invoked with a nil context from tests.
func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// validateInput runs struct validation rules and converts failures into the
// per-field validation error surfaced to API consumers.
func validateInput(input any) error {
	err := pkgvalidator.ValidateStruct(input)
	if err == nil {
		return nil
	}

	var failures pkgvalidator.ValidationErrors
	if errors.As(err, &failures) {
		fields := make([]apperrors.FieldError, 0, len(failures))
		for _, failure := range failures {
			fields = append(fields, apperrors.FieldError{
				Field:   failure.Field,
				Message: pkgvalidator.Describe(failure),
			})
		}
		return apperrors.NewValidation(fields)
	}

	return apperrors.ErrInternalServer.WithInternal(err)
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}
