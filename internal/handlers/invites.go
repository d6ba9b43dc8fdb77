package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rahulnair23/foyer/internal/middleware"
	"github.com/rahulnair23/foyer/internal/models"
	"github.com/rahulnair23/foyer/internal/services"
	"github.com/rahulnair23/foyer/pkg/errors"
	"github.com/rahulnair23/foyer/pkg/response"
)

// InviteHandler manages invitation issuance, listing and revocation.
type InviteHandler struct {
	invites *services.InviteService
}

func NewInviteHandler(invites *services.InviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

type createInviteRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Role         string `json:"role" validate:"required,oneof=super_admin site_admin operator client_admin client_user"`
	Organisation string `json:"organisation" validate:"omitempty,min=2"`
}

// POST /api/invites
func (h *InviteHandler) Create(c *gin.Context) {
	var req createInviteRequest
	if !bindAndValidate(c, &req) {
		return
	}

	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	inviteID, err := h.invites.CreateInvite(requestContext(c), services.CreateInviteInput{
		ActorEmail:   claims.Email,
		Email:        req.Email,
		Role:         models.Role(req.Role),
		Organisation: req.Organisation,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"invite_id": inviteID})
}

// GET /api/invites?role=<role>
func (h *InviteHandler) List(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	role := models.Role(c.Query("role"))
	invites, err := h.invites.ListInvites(requestContext(c), claims.Email, role)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"invites": invites})
}

// DELETE /api/invites/:inviteID
func (h *InviteHandler) Revoke(c *gin.Context) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	if err := h.invites.RevokeInvite(requestContext(c), claims.Email, c.Param("inviteID")); err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}
