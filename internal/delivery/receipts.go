package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"presence-service/internal/models"
	"presence-service/internal/observability"
)

// MarkRead marks every unread message addressed to the reader in the
// conversation, then broadcasts one read_receipt to the conversation room
// only. Receipts matter only to participants actively viewing that
// conversation, so personal rooms are not notified. Zero affected rows is a
// no-op broadcast, not an error.
func (p *Pipeline) MarkRead(ctx context.Context, readerID int, conversationID int) (models.ReadReceiptPayload, error) {
	count, err := p.messages.MarkConversationRead(ctx, conversationID, readerID)
	if err != nil {
		return models.ReadReceiptPayload{}, fmt.Errorf("mark conversation read: %w", err)
	}

	payload := models.ReadReceiptPayload{
		ConversationID: conversationID,
		ReaderID:       readerID,
		Count:          count,
		ReadAt:         time.Now(),
	}

	event, err := models.NewEvent(models.EventReadReceipt, models.ConversationRoom(conversationID), payload)
	if err != nil {
		return models.ReadReceiptPayload{}, fmt.Errorf("encode read receipt: %w", err)
	}
	p.broadcaster.Broadcast(models.ConversationRoom(conversationID), event)

	observability.IncReadReceipt()
	log.Debug().Int("conversation_id", conversationID).Int("reader_id", readerID).Int("count", count).Msg("delivery: read receipt broadcast")
	return payload, nil
}
