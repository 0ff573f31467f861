// Package delivery implements the message fanout pipeline: validate, find or
// create the conversation, encrypt and persist the body, then broadcast to
// every room that must observe the message. Bodies are stored as sealed
// envelopes; broadcasts and API responses carry the readable text.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"

	"presence-service/internal/models"
	"presence-service/internal/observability"
	"presence-service/internal/repositories"
	"presence-service/internal/secretbox"
)

var (
	// ErrInvalidMessage marks a frame missing sender, receiver, or content.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrUnknownReceiver marks a receiver id with no directory row.
	ErrUnknownReceiver = errors.New("unknown receiver")
	// ErrUnknownSender marks a sender id with no directory row.
	ErrUnknownSender = errors.New("unknown sender")
)

// IsSilentDrop reports whether the error belongs to the fire-and-forget
// category: the one message is dropped (and logged) without surfacing an
// error back to the sender.
func IsSilentDrop(err error) bool {
	return errors.Is(err, ErrInvalidMessage) || errors.Is(err, ErrUnknownReceiver) || errors.Is(err, ErrUnknownSender)
}

// Broadcaster fans an event out to a named room. Implemented by the ws hub.
type Broadcaster interface {
	Broadcast(room string, event models.Event)
}

// Pipeline wires the conversation/message store to the room broadcaster.
type Pipeline struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	directory     repositories.UserDirectory
	broadcaster   Broadcaster
	codec         *secretbox.Codec
}

// NewPipeline constructs a Pipeline. The codec seals message bodies before
// they reach the store.
func NewPipeline(conversations repositories.ConversationRepository, messages repositories.MessageRepository, directory repositories.UserDirectory, broadcaster Broadcaster, codec *secretbox.Codec) *Pipeline {
	return &Pipeline{
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		broadcaster:   broadcaster,
		codec:         codec,
	}
}

// SendMessage runs the full fanout for one message. The three broadcasts are
// emitted only after persistence has succeeded; any earlier failure aborts the
// whole operation with nothing visible to peers. TempID is echoed back
// unchanged on the delivery payload.
func (p *Pipeline) SendMessage(ctx context.Context, senderID int, in models.SendMessagePayload) (models.DeliveredPayload, error) {
	if senderID == 0 || in.ReceiverID == 0 || (in.Content == "" && in.Attachment == "") {
		observability.IncMessageDropped("incomplete")
		log.Warn().Int("sender_id", senderID).Int("receiver_id", in.ReceiverID).Msg("delivery: incomplete message dropped")
		return models.DeliveredPayload{}, ErrInvalidMessage
	}

	receiver, err := p.directory.Lookup(ctx, in.ReceiverID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			observability.IncMessageDropped("unknown_receiver")
			log.Warn().Int("sender_id", senderID).Int("receiver_id", in.ReceiverID).Msg("delivery: unknown receiver, message dropped")
			return models.DeliveredPayload{}, ErrUnknownReceiver
		}
		return models.DeliveredPayload{}, fmt.Errorf("lookup receiver: %w", err)
	}

	sender, err := p.directory.Lookup(ctx, senderID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			observability.IncMessageDropped("unknown_sender")
			log.Warn().Int("sender_id", senderID).Msg("delivery: unknown sender, message dropped")
			return models.DeliveredPayload{}, ErrUnknownSender
		}
		return models.DeliveredPayload{}, fmt.Errorf("lookup sender: %w", err)
	}

	conv, err := p.conversations.FindOrCreate(ctx, senderID, in.ReceiverID)
	if err != nil {
		return models.DeliveredPayload{}, fmt.Errorf("find or create conversation: %w", err)
	}

	stored := in.Content
	if stored != "" {
		stored, err = p.codec.Encrypt(stored, strconv.Itoa(senderID), strconv.Itoa(in.ReceiverID))
		if err != nil {
			return models.DeliveredPayload{}, fmt.Errorf("seal message body: %w", err)
		}
	}

	msg, err := p.messages.Create(ctx, conv.ID, senderID, in.ReceiverID, stored, in.Attachment)
	if err != nil {
		return models.DeliveredPayload{}, fmt.Errorf("persist message: %w", err)
	}

	if err := p.conversations.UpdateLastMessage(ctx, conv.ID, msg.ID); err != nil {
		return models.DeliveredPayload{}, fmt.Errorf("update last message: %w", err)
	}

	// Peers receive the readable body; only the store sees the envelope.
	msg.Content = in.Content

	payload := models.DeliveredPayload{
		Message:  msg,
		TempID:   in.TempID,
		Sender:   sender.Profile(),
		Receiver: receiver.Profile(),
	}

	delivered, err := models.NewEvent(models.EventMessageDelivered, "", payload)
	if err != nil {
		return models.DeliveredPayload{}, fmt.Errorf("encode delivery event: %w", err)
	}

	// Conversation room for anyone viewing it, receiver's personal room for
	// notification, sender's personal room for multi-device sync.
	p.broadcaster.Broadcast(models.ConversationRoom(conv.ID), delivered)
	p.broadcaster.Broadcast(models.PersonalRoom(in.ReceiverID), delivered)
	p.broadcaster.Broadcast(models.PersonalRoom(senderID), delivered)

	if notification, err := models.NewEvent(models.EventMessageNotification, "", models.NotificationPayload{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		SenderID:       senderID,
	}); err == nil {
		p.broadcaster.Broadcast(models.PersonalRoom(in.ReceiverID), notification)
	}

	observability.IncMessageDelivered()
	_ = observability.PublishEvent(ctx, observability.RoutingKeyMessages, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "message_delivered",
		Payload: models.NotificationPayload{
			ConversationID: conv.ID,
			MessageID:      msg.ID,
			SenderID:       senderID,
		},
	}, nil)

	return payload, nil
}
