package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"presence-service/internal/delivery"
	"presence-service/internal/models"
	"presence-service/internal/presence"
	"presence-service/internal/repositories"
	"presence-service/internal/secretbox"
	"presence-service/internal/telemetry"
)

// Dispatcher is the fanout surface the HTTP routes share with the websocket
// layer. Satisfied by the delivery pipeline.
type Dispatcher interface {
	SendMessage(ctx context.Context, senderID int, p models.SendMessagePayload) (models.DeliveredPayload, error)
	MarkRead(ctx context.Context, readerID int, conversationID int) (models.ReadReceiptPayload, error)
}

// MessageHandler serves the HTTP fallback for clients without a live
// websocket: send, history, mark read, soft delete. Broadcasts still go out
// through the shared pipeline, so connected peers observe fallback sends the
// same way.
type MessageHandler struct {
	dispatcher    Dispatcher
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	registry      *presence.Registry
	emitter       *telemetry.AuditEmitter
	codec         *secretbox.Codec
}

// NewMessageHandler builds a MessageHandler. The codec opens stored message
// envelopes before history leaves the API.
func NewMessageHandler(dispatcher Dispatcher, conversations repositories.ConversationRepository, messages repositories.MessageRepository, registry *presence.Registry, emitter *telemetry.AuditEmitter, codec *secretbox.Codec) *MessageHandler {
	return &MessageHandler{
		dispatcher:    dispatcher,
		conversations: conversations,
		messages:      messages,
		registry:      registry,
		emitter:       emitter,
		codec:         codec,
	}
}

// Send runs the fanout pipeline for one message over HTTP. The silent-drop
// taxonomy of the websocket path maps to explicit statuses here: an HTTP
// caller gets a response either way.
func (h *MessageHandler) Send(c *gin.Context) {
	var req models.SendMessagePayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	senderID := c.GetInt("userID")
	delivered, err := h.dispatcher.SendMessage(c.Request.Context(), senderID, req)
	if err != nil {
		switch {
		case errors.Is(err, delivery.ErrInvalidMessage):
			c.JSON(http.StatusBadRequest, gin.H{"error": "message requires a receiver and content or attachment"})
		case errors.Is(err, delivery.ErrUnknownReceiver):
			c.JSON(http.StatusNotFound, gin.H{"error": "receiver not found"})
		case errors.Is(err, delivery.ErrUnknownSender):
			c.JSON(http.StatusForbidden, gin.H{"error": "sender not registered"})
		default:
			log.Error().Err(err).Int("sender_id", senderID).Int("receiver_id", req.ReceiverID).Msg("http: message send failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not deliver message"})
		}
		return
	}

	h.emitter.Emit(c.Request.Context(), "INFO", "message sent via http fallback", requestIDFromContext(c), auditUserID(c))
	c.JSON(http.StatusCreated, delivered)
}

// ListMessages returns conversation history for a participant.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	userID := c.GetInt("userID")
	conversation, err := h.conversations.Get(c.Request.Context(), conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if !conversation.HasParticipant(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	msgs, err := h.messages.ListForConversation(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	// Bodies are stored sealed; open them before they leave the API.
	// Decrypt never fails, unreadable envelopes degrade to a placeholder.
	for i := range msgs {
		if msgs[i].Content != "" {
			msgs[i].Content = h.codec.Decrypt(msgs[i].Content, strconv.Itoa(msgs[i].SenderID), strconv.Itoa(msgs[i].ReceiverID))
		}
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conversationID, "messages": msgs})
}

// MarkRead marks every unread message addressed to the caller in a
// conversation and broadcasts the receipt to the conversation room.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	readerID := c.GetInt("userID")
	receipt, err := h.dispatcher.MarkRead(c.Request.Context(), readerID, conversationID)
	if err != nil {
		log.Error().Err(err).Int("conversation_id", conversationID).Int("reader_id", readerID).Msg("http: mark read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not mark conversation read"})
		return
	}

	c.JSON(http.StatusOK, receipt)
}

// DeleteMessage soft-deletes one of the caller's own messages.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	userID := c.GetInt("userID")
	if err := h.messages.SoftDelete(c.Request.Context(), messageID, userID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete message"})
		return
	}

	c.Status(http.StatusNoContent)
}

// ListOnline exposes the presence snapshot to collaborators rendering online
// indicators.
func (h *MessageHandler) ListOnline(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"online": h.registry.Snapshot()})
}
