package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/example/taskboard/internal/models"
	"github.com/example/taskboard/internal/repository"
	"github.com/example/taskboard/pkg/rest/response"
)

// Member serves the team roster behind assignee references and records
// admin invitations. Delivering the invitation email is not this
// handler's job; inviting means inserting the member row the rest of
// the system keys on.
type Member struct {
	log  *logrus.Logger
	repo repository.MemberRepository
}

func NewMemberHandler(repo repository.MemberRepository, log *logrus.Logger) *Member {
	return &Member{
		log:  log,
		repo: repo,
	}
}

func (h *Member) EnrichRoutes(router *gin.Engine) {
	memberRoutes := router.Group("/members")
	memberRoutes.GET("", h.listMembersAction)
	memberRoutes.POST("/invite", h.inviteMemberAction)
}

type memberJSON struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	InvitedAt   time.Time `json:"invited_at"`
}

func toMemberJSON(m models.Member) memberJSON {
	return memberJSON{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		InvitedAt:   m.InvitedAt,
	}
}

func (h *Member) listMembersAction(c *gin.Context) {
	const op = "handlers.Member.listMembersAction"
	log := h.log.WithField("operation", op)

	members, err := h.repo.List(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("list members failed")
		response.HandleError(response.NewRemoteError(err.Error()), c)
		return
	}

	out := make([]memberJSON, 0, len(members))
	for _, m := range members {
		out = append(out, toMemberJSON(m))
	}
	c.JSON(http.StatusOK, gin.H{"members": out})
}

type inviteMemberRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

func (h *Member) inviteMemberAction(c *gin.Context) {
	const op = "handlers.Member.inviteMemberAction"
	log := h.log.WithField("operation", op)

	var req inviteMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.HandleError(response.NewBadRequestError("invalid request structure"), c)
		return
	}

	fields := make(map[string]string)
	if !strings.Contains(req.Email, "@") {
		fields["email"] = "a valid email is required"
	}
	if req.DisplayName == "" {
		fields["display_name"] = "display name is required"
	}
	if len(fields) > 0 {
		response.HandleError(response.NewValidationError(fields), c)
		return
	}

	member, err := h.repo.Invite(c.Request.Context(), req.Email, req.DisplayName)
	if err != nil {
		log.WithError(err).Error("invite member failed")
		response.HandleError(response.NewRemoteError(err.Error()), c)
		return
	}

	c.JSON(http.StatusCreated, toMemberJSON(member))
}
