package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rahulnair23/foyer/internal/middleware"
	"github.com/rahulnair23/foyer/internal/services"
	"github.com/rahulnair23/foyer/pkg/errors"
	"github.com/rahulnair23/foyer/pkg/response"
)

// PasswordHandler manages password recovery and authenticated changes.
type PasswordHandler struct {
	passwords *services.PasswordService
}

func NewPasswordHandler(passwords *services.PasswordService) *PasswordHandler {
	return &PasswordHandler{passwords: passwords}
}

type forgotRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// POST /api/password/forgot
func (h *PasswordHandler) Forgot(c *gin.Context) {
	var req forgotRequest
	if !bindAndValidate(c, &req) {
		return
	}

	challenge, err := h.passwords.ForgotInitiate(requestContext(c), req.Email)
	if err != nil {
		response.Error(c, err)
		return
	}

	// The response shape is identical for unknown emails so the endpoint
	// cannot be used to enumerate accounts.
	payload := gin.H{
		"message": "If the email is registered, a verification step follows",
	}
	if challenge != "" {
		payload["validation_type"] = challenge
	}
	response.Success(c, http.StatusOK, payload)
}

// POST /api/password/forgot/verify-otp
func (h *PasswordHandler) ForgotVerifyOtp(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	token, err := h.passwords.ForgotVerifyOtp(requestContext(c), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset_token": token})
}

// POST /api/password/forgot/verify-totp
func (h *PasswordHandler) ForgotVerifyTotp(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	token, err := h.passwords.ForgotVerifyTotp(requestContext(c), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset_token": token})
}

type resetRequest struct {
	ResetToken      string `json:"reset_token" validate:"required"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// POST /api/password/reset
func (h *PasswordHandler) Reset(c *gin.Context) {
	var req resetRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.passwords.Reset(requestContext(c), req.ResetToken, req.Password, req.ConfirmPassword)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"reset": true})
}

type updatePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

// PUT /api/password
func (h *PasswordHandler) Update(c *gin.Context) {
	var req updatePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	err := h.passwords.Update(requestContext(c), claims.Email, req.CurrentPassword, req.Password, req.ConfirmPassword)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": true})
}
