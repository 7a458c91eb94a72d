package http

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/arkadyv/chatcast/domain"
	"github.com/arkadyv/chatcast/usecase"
)

// Handler serves the conventional REST surface: conversations, messages,
// personas and ratings. Streaming happens over the websocket gateway, not
// here.
type Handler struct {
	conversations *usecase.ConversationService
}

func NewHandler(conversations *usecase.ConversationService) *Handler {
	return &Handler{conversations: conversations}
}

type SendMessageRequest struct {
	Content   string `json:"content"`
	PersonaID int64  `json:"personaId"`
}

type RateMessageRequest struct {
	IsPositive bool `json:"isPositive"`
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CreateConversation opens a new conversation, capturing caller metadata.
func (h *Handler) CreateConversation(c echo.Context) error {
	conv, err := h.conversations.Create(
		c.Request().Context(),
		c.Request().UserAgent(),
		c.RealIP(),
	)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create conversation")
	}
	return c.JSON(http.StatusCreated, map[string]string{"conversationId": conv.ID.String()})
}

func (h *Handler) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid conversation ID")
	}

	conv, err := h.conversations.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err, "Failed to fetch conversation")
	}
	return c.JSON(http.StatusOK, conv)
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid conversation ID")
	}

	messages, err := h.conversations.Messages(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err, "Failed to fetch messages")
	}
	return c.JSON(http.StatusOK, messages)
}

// SendMessage stores a user message. Generation is started separately over
// the realtime transport.
func (h *Handler) SendMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid conversation ID")
	}

	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	msg, err := h.conversations.SendUserMessage(c.Request().Context(), id, req.PersonaID, req.Content)
	if err != nil {
		return h.mapError(err, "Failed to store message")
	}
	return c.JSON(http.StatusCreated, msg)
}

func (h *Handler) GetMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid message ID")
	}

	msg, err := h.conversations.Message(c.Request().Context(), id)
	if err != nil {
		return h.mapError(err, "Failed to fetch message")
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) RateMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid message ID")
	}

	var req RateMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	if err := h.conversations.Rate(c.Request().Context(), id, req.IsPositive); err != nil {
		return h.mapError(err, "Failed to rate message")
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListPersonas(c echo.Context) error {
	personas, err := h.conversations.Personas(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to fetch personas")
	}
	return c.JSON(http.StatusOK, personas)
}

func (h *Handler) mapError(err error, fallback string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, fallback)
}
