package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rahulnair23/foyer/internal/services"
	"github.com/rahulnair23/foyer/pkg/response"
)

// SignupHandler manages the staged signup flow for invited users.
type SignupHandler struct {
	signup *services.SignupService
}

func NewSignupHandler(signup *services.SignupService) *SignupHandler {
	return &SignupHandler{signup: signup}
}

type beginSignupRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=64"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	InviteID        string `json:"invite_id" validate:"required"`
	Preference      string `json:"verification_preference" validate:"required,oneof=otp totp"`
}

// POST /api/signup
func (h *SignupHandler) Begin(c *gin.Context) {
	var req beginSignupRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.signup.BeginSignup(requestContext(c), services.BeginSignupInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		InviteID:        req.InviteID,
		Preference:      req.Preference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	payload := gin.H{
		"validation_required": true,
		"validation_type":     result.TwoFactor,
	}
	if result.ProvisioningURI != "" {
		payload["provisioning_uri"] = result.ProvisioningURI
		payload["qr_code"] = result.QRCode
	}

	response.Success(c, http.StatusOK, payload)
}

// POST /api/signup/verify-otp
func (h *SignupHandler) VerifyOtp(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, err := h.signup.CompleteOtpSignup(requestContext(c), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// POST /api/signup/verify-totp
func (h *SignupHandler) VerifyTotp(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, err := h.signup.CompleteTotpSignup(requestContext(c), req.Email, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}
