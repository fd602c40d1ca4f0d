package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/distractdiverge/shared-canvas/internal/broadcast"
	"github.com/distractdiverge/shared-canvas/internal/sessions"
	"github.com/distractdiverge/shared-canvas/internal/strokes"
	"github.com/distractdiverge/shared-canvas/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingUsersService    = errors.New("users service dependency required")
	errMissingSessionsService = errors.New("sessions service dependency required")
	errMissingStrokesService  = errors.New("strokes service dependency required")
	errMissingRooms           = errors.New("room registry dependency required")
)

// Dependencies wires the HTTP surface to the application services.
type Dependencies struct {
	Users    *users.Service
	Sessions *sessions.Service
	Strokes  *strokes.Service
	Rooms    *broadcast.Registry
	RoomName string
	Logger   *zap.Logger
}

// NewHTTPHandler builds the API router: user registration, session
// lifecycle, the stroke store endpoints, and the websocket bridge onto the
// room's broadcast channel.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionsService
	}
	if deps.Strokes == nil {
		return nil, errMissingStrokesService
	}
	if deps.Rooms == nil {
		return nil, errMissingRooms
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	roomName := deps.RoomName
	if roomName == "" {
		roomName = "canvas-room"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		users:    deps.Users,
		sessions: deps.Sessions,
		strokes:  deps.Strokes,
		rooms:    deps.Rooms,
		roomName: roomName,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/api/user/register", handler.handleUserRegister)
	router.POST("/api/session/start", handler.handleSessionStart)
	router.POST("/api/session/end", handler.handleSessionEnd)
	router.POST("/api/stroke", handler.handleStrokeSubmit)
	router.GET("/api/stroke", handler.handleStrokeList)
	router.GET("/ws", handler.handleWebSocket)

	return router, nil
}

type httpHandler struct {
	users    *users.Service
	sessions *sessions.Service
	strokes  *strokes.Service
	rooms    *broadcast.Registry
	roomName string
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type registerRequestPayload struct {
	DisplayName   string `json:"displayName"`
	UserAgent     string `json:"userAgent"`
	SelectedColor string `json:"selectedColor"`
}

type registerResponsePayload struct {
	Success   bool       `json:"success"`
	User      users.User `json:"user"`
	IsNewUser bool       `json:"isNewUser"`
}

func (h *httpHandler) handleUserRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	user, isNew, err := h.users.Register(c.Request.Context(), users.RegisterRequest{
		DisplayName:   request.DisplayName,
		UserAgent:     request.UserAgent,
		RemoteIP:      clientIP(c),
		SelectedColor: request.SelectedColor,
	})
	if err != nil {
		if errors.Is(err, users.ErrMissingFields) || errors.Is(err, users.ErrNameTooLong) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		h.logger.Error("user registration failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "registration_failed"})
		return
	}

	c.JSON(http.StatusOK, registerResponsePayload{Success: true, User: user, IsNewUser: isNew})
}

func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if real := c.GetHeader("X-Real-IP"); real != "" {
		return real
	}
	return c.ClientIP()
}

type sessionStartPayload struct {
	UserID string `json:"userId"`
}

type sessionEndPayload struct {
	SessionID string `json:"sessionId"`
}

type sessionResponsePayload struct {
	Success bool             `json:"success"`
	Session sessions.Session `json:"session"`
}

func (h *httpHandler) handleSessionStart(c *gin.Context) {
	var request sessionStartPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.UserID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing_user_id"})
		return
	}

	session, err := h.sessions.Start(c.Request.Context(), request.UserID)
	if err != nil {
		h.logger.Error("session start failed", zap.String("user_id", request.UserID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "session_start_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{Success: true, Session: session})
}

func (h *httpHandler) handleSessionEnd(c *gin.Context) {
	var request sessionEndPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing_session_id"})
		return
	}

	session, err := h.sessions.End(c.Request.Context(), request.SessionID)
	if err != nil {
		h.logger.Error("session end failed", zap.String("session_id", request.SessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "session_end_failed"})
		return
	}

	c.JSON(http.StatusOK, sessionResponsePayload{Success: true, Session: session})
}

type strokeRequestPayload struct {
	UserID    string          `json:"userId"`
	SessionID string          `json:"sessionId"`
	Type      string          `json:"type"`
	Color     string          `json:"color"`
	Points    []strokes.Point `json:"points,omitempty"`
	Text      string          `json:"text,omitempty"`
	Position  *strokes.Point  `json:"position,omitempty"`
}

type strokeResponsePayload struct {
	Success bool           `json:"success"`
	Stroke  strokes.Stroke `json:"stroke"`
}

type strokeListResponsePayload struct {
	Success bool             `json:"success"`
	Strokes []strokes.Stroke `json:"strokes"`
}

func (h *httpHandler) handleStrokeSubmit(c *gin.Context) {
	var request strokeRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	strokeType, err := strokes.ParseStrokeType(request.Type)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_stroke_type"})
		return
	}

	stroke, err := h.strokes.SubmitStroke(c.Request.Context(), strokes.SubmitRequest{
		UserID:    request.UserID,
		SessionID: request.SessionID,
		Type:      strokeType,
		Color:     request.Color,
		Points:    request.Points,
		Text:      request.Text,
		Position:  request.Position,
	})
	if err != nil {
		if errors.Is(err, strokes.ErrMissingFields) || errors.Is(err, strokes.ErrInvalidTypePayload) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
			return
		}
		h.logger.Error("stroke submission failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "stroke_save_failed"})
		return
	}

	h.publishInsert(stroke)
	c.JSON(http.StatusOK, strokeResponsePayload{Success: true, Stroke: stroke})
}

// publishInsert announces the persisted stroke on the room channel so
// subscribed clients reconcile it without polling.
func (h *httpHandler) publishInsert(stroke strokes.Stroke) {
	event, err := broadcast.NewEvent(broadcast.EventStrokeInsert, broadcast.StrokeInsertPayload{Stroke: stroke})
	if err != nil {
		h.logger.Warn("stroke insert event encode failed", zap.Error(err))
		return
	}
	h.rooms.Room(h.roomName).Publish(event)
}

func (h *httpHandler) handleStrokeList(c *gin.Context) {
	listed, err := h.strokes.ListStrokes(c.Request.Context())
	if err != nil {
		h.logger.Error("stroke list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "stroke_list_failed"})
		return
	}
	c.JSON(http.StatusOK, strokeListResponsePayload{Success: true, Strokes: listed})
}
