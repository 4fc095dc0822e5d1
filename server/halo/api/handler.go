package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	commonauth "halo_server/server/common/auth"
	"halo_server/server/common/metrics"
	"halo_server/server/common/middleware"
	"halo_server/server/common/transport/httpresp"
	"halo_server/server/halo/domain"
	"halo_server/server/halo/service"
)

const defaultMaxUploadBytes = 32 << 20

var allMediaTypes = []domain.ContentType{domain.ContentImage, domain.ContentVideo, domain.ContentAudio, domain.ContentCustom}

type Handler struct {
	dir       *service.DirectoryService
	rooms     *service.RoomService
	ledger    *service.MessageLedger
	auth      *commonauth.Service
	metrics   *metrics.Metrics
	limiter   *middleware.RateLimiter
	ready     func(ctx context.Context) error
	devTokens bool
	maxUpload int64
	origins   []string
}

type HandlerOption func(*Handler)

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

func WithRateLimiter(l *middleware.RateLimiter) HandlerOption {
	return func(h *Handler) { h.limiter = l }
}

// WithReadiness sets the check behind /ready.
func WithReadiness(check func(ctx context.Context) error) HandlerOption {
	return func(h *Handler) { h.ready = check }
}

// WithDevTokens exposes POST /api/v1/auth/token, which signs a token for any
// id. Local development only.
func WithDevTokens(enabled bool) HandlerOption {
	return func(h *Handler) { h.devTokens = enabled }
}

func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithAllowedOrigins lists the browser origins, besides the server's own
// host, that may open WebSocket streams. "*" allows any origin.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) { h.origins = origins }
}

func NewHandler(dir *service.DirectoryService, rooms *service.RoomService, ledger *service.MessageLedger, auth *commonauth.Service, opts ...HandlerOption) *Handler {
	h := &Handler{dir: dir, rooms: rooms, ledger: ledger, auth: auth, maxUpload: defaultMaxUploadBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	if h.metrics != nil {
		r.Use(h.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, httpresp.NewHealthResponse("ok")) })
	r.GET("/live", func(c *gin.Context) { c.JSON(http.StatusOK, httpresp.NewHealthResponse("alive")) })
	r.GET("/ready", h.readiness)

	if h.devTokens {
		r.POST("/api/v1/auth/token", h.issueToken)
	}

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	if h.limiter != nil {
		api.Use(h.limiter.Handler())
	}
	{
		api.GET("/users/:userId", h.getUser)
		api.POST("/users", h.createUser)
		api.PATCH("/users/me", h.updateUser)
		api.PUT("/users/me/device-token", h.updateUserDeviceToken)

		api.GET("/agents/:agentId", h.getAgent)
		api.POST("/agents", h.createAgent)
		api.PATCH("/agents/me", h.updateAgent)
		api.PUT("/agents/me/device-token", h.updateAgentDeviceToken)

		api.GET("/rooms", h.getRooms)
		api.POST("/rooms", h.createRoomWithUsers)
		api.POST("/rooms/agents", h.createRoomForAgents)
		api.GET("/rooms/:roomId", h.getRoomDetails)
		api.POST("/rooms/:roomId/users", h.joinUser)
		api.POST("/rooms/:roomId/agents", h.joinAgent)
		api.DELETE("/rooms/:roomId/users/:userId", h.removeUser)

		api.POST("/rooms/:roomId/messages/text", h.sendTextMessage)
		api.POST("/rooms/:roomId/messages/file", h.sendFileMessage)
		api.POST("/rooms/:roomId/messages/file-url", h.sendFileMessageFromURL)
		api.POST("/rooms/:roomId/messages/survey", h.sendSurveyMessage)
		api.PUT("/rooms/:roomId/messages/:messageId/survey", h.updateSurvey)
		api.POST("/rooms/:roomId/messages/:messageId/read", h.readMessage)
		api.DELETE("/rooms/:roomId/messages/:messageId", h.deleteMessage)
		api.GET("/rooms/:roomId/media", h.getRoomMedia)

		api.GET("/ws/users", h.streamUsers)
		api.GET("/ws/rooms", h.streamRooms)
		api.GET("/ws/rooms/agents", h.streamAgentRooms)
		api.GET("/ws/rooms/:roomId/messages", h.streamMessages)
	}
}

func (h *Handler) readiness(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpresp.NewErrorResponse(err.Error()))
			return
		}
	}
	c.JSON(http.StatusOK, httpresp.NewHealthResponse("ready"))
}

func (h *Handler) issueToken(c *gin.Context) {
	var req devTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	token, err := h.auth.GenerateToken(req.UserID)
	if err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, strings.TrimSpace(req.UserID)))
}

func caller(c *gin.Context) domain.Identity {
	return domain.NewIdentity(middleware.UserID(c))
}

func (h *Handler) getUser(c *gin.Context) {
	user, err := h.dir.GetUser(c.Request.Context(), caller(c), c.Param("userId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) createUser(c *gin.Context) {
	var req domain.Profile
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.dir.CreateUser(c.Request.Context(), caller(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) updateUser(c *gin.Context) {
	var req domain.ProfilePatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.dir.UpdateUser(c.Request.Context(), caller(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) updateUserDeviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	user, err := h.dir.UpdateUserDeviceToken(c.Request.Context(), caller(c), req.DeviceToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) getAgent(c *gin.Context) {
	agent, err := h.dir.GetAgent(c.Request.Context(), caller(c), c.Param("agentId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) createAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	agent, err := h.dir.CreateAgent(c.Request.Context(), caller(c), req.Profile, req.Tags)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (h *Handler) updateAgent(c *gin.Context) {
	var req domain.AgentPatch
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	agent, err := h.dir.UpdateAgent(c.Request.Context(), caller(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) updateAgentDeviceToken(c *gin.Context) {
	var req deviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	agent, err := h.dir.UpdateAgentDeviceToken(c.Request.Context(), caller(c), req.DeviceToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (h *Handler) getRooms(c *gin.Context) {
	page, err := h.rooms.GetRooms(c.Request.Context(), caller(c), c.Query("next"))
	if err != nil {
		writeError(c, err)
		return
	}
	if page.Rooms == nil {
		page.Rooms = []domain.RoomDetails{}
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) getRoomDetails(c *gin.Context) {
	room, err := h.rooms.GetRoomDetails(c.Request.Context(), caller(c), c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) createRoomWithUsers(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.rooms.CreateRoomWithUsers(c.Request.Context(), caller(c), req.UserIDs, req.Scope, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) createRoomForAgents(c *gin.Context) {
	var req createAgentRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.rooms.CreateRoomForAgents(c.Request.Context(), caller(c), req.Tag)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *Handler) joinUser(c *gin.Context) {
	var req joinUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.rooms.JoinUser(c.Request.Context(), caller(c), req.UserID, c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) joinAgent(c *gin.Context) {
	var req joinAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	room, err := h.rooms.JoinAgent(c.Request.Context(), caller(c), req.AgentID, c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) removeUser(c *gin.Context) {
	room, err := h.rooms.RemoveUser(c.Request.Context(), caller(c), c.Param("userId"), c.Param("roomId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *Handler) sendTextMessage(c *gin.Context) {
	var req sendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.ledger.SendTextMessage(c.Request.Context(), caller(c), domain.SendTextMessage{
		RoomID:          c.Param("roomId"),
		Text:            req.Text,
		Metadata:        req.Metadata,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// sendFileMessage takes a multipart form: the binary in "file" plus optional
// caption, metadata (a JSON object) and clientMessageId fields.
func (h *Handler) sendFileMessage(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return
	}
	metadata, err := formMetadata(c.PostForm("metadata"))
	if err != nil {
		badRequest(c, err)
		return
	}
	body, err := header.Open()
	if err != nil {
		badRequest(c, err)
		return
	}
	defer body.Close()

	msg, err := h.ledger.SendFileMessage(c.Request.Context(), caller(c), domain.SendFileMessage{
		RoomID:          c.Param("roomId"),
		Name:            header.Filename,
		MimeType:        header.Header.Get("Content-Type"),
		Size:            header.Size,
		Body:            body,
		Caption:         optionalString(c.PostForm("caption")),
		Metadata:        metadata,
		ClientMessageID: c.PostForm("clientMessageId"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) sendFileMessageFromURL(c *gin.Context) {
	var req sendFileURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.ledger.SendFileMessageFromURL(c.Request.Context(), caller(c), domain.SendFileMessageFromURL{
		RoomID:          c.Param("roomId"),
		File:            req.File,
		Caption:         req.Caption,
		Metadata:        req.Metadata,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) sendSurveyMessage(c *gin.Context) {
	var req sendSurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.ledger.SendSurveyMessage(c.Request.Context(), caller(c), domain.SendSurveyMessage{
		RoomID:          c.Param("roomId"),
		Survey:          req.Survey,
		Metadata:        req.Metadata,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) updateSurvey(c *gin.Context) {
	var req updateSurveyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	msg, err := h.ledger.UpdateSurvey(c.Request.Context(), caller(c), c.Param("roomId"), c.Param("messageId"), req.Survey)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h *Handler) getRoomMedia(c *gin.Context) {
	types := contentTypes(c.Query("types"))
	if len(types) == 0 {
		types = allMediaTypes
	}
	items, err := h.ledger.GetRoomMedia(c.Request.Context(), caller(c), c.Param("roomId"), types)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewItemsResponse(items))
}

func (h *Handler) readMessage(c *gin.Context) {
	if err := h.ledger.ReadMessage(c.Request.Context(), caller(c), c.Param("roomId"), c.Param("messageId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewOKResponse())
}

func (h *Handler) deleteMessage(c *gin.Context) {
	msg, err := h.ledger.DeleteMessage(c.Request.Context(), caller(c), c.Param("roomId"), c.Param("messageId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}
