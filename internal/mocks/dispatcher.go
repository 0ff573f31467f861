package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"presence-service/internal/models"
)

// DispatcherMock stands in for the delivery pipeline behind the HTTP and
// websocket surfaces.
type DispatcherMock struct {
	mock.Mock
}

func (m *DispatcherMock) SendMessage(ctx context.Context, senderID int, p models.SendMessagePayload) (models.DeliveredPayload, error) {
	args := m.Called(ctx, senderID, p)
	var delivered models.DeliveredPayload
	if val := args.Get(0); val != nil {
		delivered = val.(models.DeliveredPayload)
	}
	return delivered, args.Error(1)
}

func (m *DispatcherMock) MarkRead(ctx context.Context, readerID int, conversationID int) (models.ReadReceiptPayload, error) {
	args := m.Called(ctx, readerID, conversationID)
	var receipt models.ReadReceiptPayload
	if val := args.Get(0); val != nil {
		receipt = val.(models.ReadReceiptPayload)
	}
	return receipt, args.Error(1)
}
