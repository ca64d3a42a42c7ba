// Buddy HTTP handlers.
//
//   - GET    /me
//   - POST   /buddies/requests               (send)
//   - POST   /buddies/requests/{id}/accept
//   - POST   /buddies/requests/{id}/reject
//   - DELETE /buddies/requests/{id}          (cancel, sender only)
//   - DELETE /buddies/{id}                   (remove an accepted buddy)
//   - GET    /buddies, /buddies/requests/incoming, /buddies/requests/outgoing
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/splitbuddy/internal/services"
)

// SendBuddyRequest is the JSON payload for a friend request.
type SendBuddyRequest struct {
	// Username of the recipient. Exact match.
	Username string `json:"username" binding:"required,max=64" example:"bob"`
}

// ListBuddiesResponse wraps a buddy list.
type ListBuddiesResponse struct {
	Buddies []services.BuddyView `json:"buddies"`
}

// Me godoc
// @ID          getMe
// @Summary     Current identity
// @Tags        Users
// @Produce     json
// @Success     200  {object}  services.UserView
// @Failure     401  {object}  handlers.ErrorResponse  "Unauthenticated"
// @Failure     409  {object}  handlers.ErrorResponse  "Username belongs to another identity"
// @Router      /me [get]
func (h *Handlers) Me(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	u, err := h.users.Get(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, services.UserView{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName})
}

// SendBuddyRequest godoc
// @ID          sendBuddyRequest
// @Summary     Send a buddy request
// @Description Creates a pending connection to the user with the given username.
// @Tags        Buddies
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.SendBuddyRequest  true  "Recipient"
// @Success     201   {object}  domain.BuddyConnection
// @Failure     400   {object}  handlers.ErrorResponse  "Bad request or self request"
// @Failure     404   {object}  handlers.ErrorResponse  "Unknown username"
// @Failure     409   {object}  handlers.ErrorResponse  "Connection already exists"
// @Router      /buddies/requests [post]
func (h *Handlers) SendBuddyRequest(c *gin.Context) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	var req SendBuddyRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username required")
		return
	}

	conn, err := h.buddies.SendRequest(c.Request.Context(), uid, strings.TrimSpace(req.Username))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, conn)
}

// AcceptBuddyRequest godoc
// @ID          acceptBuddyRequest
// @Summary     Accept a pending request (recipient only)
// @Tags        Buddies
// @Param       id   path  string  true  "Connection ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the recipient"
// @Failure     404  {object}  handlers.ErrorResponse  "Connection not found"
// @Failure     409  {object}  handlers.ErrorResponse  "No longer pending"
// @Router      /buddies/requests/{id}/accept [post]
func (h *Handlers) AcceptBuddyRequest(c *gin.Context) {
	h.transition(c, h.buddies.AcceptRequest)
}

// RejectBuddyRequest godoc
// @ID          rejectBuddyRequest
// @Summary     Reject a pending request (recipient only)
// @Tags        Buddies
// @Param       id   path  string  true  "Connection ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Router      /buddies/requests/{id}/reject [post]
func (h *Handlers) RejectBuddyRequest(c *gin.Context) {
	h.transition(c, h.buddies.RejectRequest)
}

// CancelBuddyRequest godoc
// @ID          cancelBuddyRequest
// @Summary     Withdraw a pending request (sender only)
// @Tags        Buddies
// @Param       id   path  string  true  "Connection ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Router      /buddies/requests/{id} [delete]
func (h *Handlers) CancelBuddyRequest(c *gin.Context) {
	h.transition(c, h.buddies.CancelRequest)
}

// RemoveBuddy godoc
// @ID          removeBuddy
// @Summary     Remove an accepted buddy (either party)
// @Tags        Buddies
// @Param       id   path  string  true  "Connection ID"  format(uuid)
// @Success     204  {string}  string  "No Content"
// @Router      /buddies/{id} [delete]
func (h *Handlers) RemoveBuddy(c *gin.Context) {
	h.transition(c, h.buddies.RemoveConnection)
}

func (h *Handlers) transition(c *gin.Context, op func(ctx context.Context, connectionID, actingUserID string) error) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	id, okID := pathID(c, "id", "connection")
	if !okID {
		return
	}
	if err := op(c.Request.Context(), id, uid); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListBuddies godoc
// @ID          listBuddies
// @Summary     Accepted buddies, newest first
// @Tags        Buddies
// @Produce     json
// @Success     200  {object}  handlers.ListBuddiesResponse
// @Router      /buddies [get]
func (h *Handlers) ListBuddies(c *gin.Context) {
	h.list(c, h.buddies.ListAccepted)
}

// ListIncomingRequests godoc
// @ID          listIncomingRequests
// @Summary     Pending requests addressed to the caller
// @Tags        Buddies
// @Produce     json
// @Success     200  {object}  handlers.ListBuddiesResponse
// @Router      /buddies/requests/incoming [get]
func (h *Handlers) ListIncomingRequests(c *gin.Context) {
	h.list(c, h.buddies.ListIncoming)
}

// ListOutgoingRequests godoc
// @ID          listOutgoingRequests
// @Summary     Pending requests sent by the caller
// @Tags        Buddies
// @Produce     json
// @Success     200  {object}  handlers.ListBuddiesResponse
// @Router      /buddies/requests/outgoing [get]
func (h *Handlers) ListOutgoingRequests(c *gin.Context) {
	h.list(c, h.buddies.ListOutgoing)
}

func (h *Handlers) list(c *gin.Context, op func(ctx context.Context, userID string) ([]services.BuddyView, error)) {
	uid, okUser := currentUser(c)
	if !okUser {
		return
	}
	views, err := op(c.Request.Context(), uid)
	if err != nil {
		failErr(c, err)
		return
	}
	if views == nil {
		views = []services.BuddyView{}
	}
	ok(c, http.StatusOK, ListBuddiesResponse{Buddies: views})
}
