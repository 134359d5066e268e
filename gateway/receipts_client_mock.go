package gateway

import (
	"context"
	"sync"
	"time"

	"venue/entity"
)

type ReceiptsMock struct {
	mock sync.Mutex

	IssuedReceipts map[string]entity.IssueReceiptRequest
}

func (c *ReceiptsMock) IssueReceipt(ctx context.Context, request entity.IssueReceiptRequest) (entity.IssueReceiptResponse, error) {
	c.mock.Lock()
	defer c.mock.Unlock()

	if c.IssuedReceipts == nil {
		c.IssuedReceipts = make(map[string]entity.IssueReceiptRequest)
	}

	c.IssuedReceipts[request.IdempotencyKey] = request

	return entity.IssueReceiptResponse{
		ReceiptNumber: "mocked-receipt-number",
		IssuedAt:      time.Now(),
	}, nil
}

func (c *ReceiptsMock) Issued(bookingID string) (entity.IssueReceiptRequest, bool) {
	c.mock.Lock()
	defer c.mock.Unlock()

	for _, r := range c.IssuedReceipts {
		if r.BookingID == bookingID {
			return r, true
		}
	}
	return entity.IssueReceiptRequest{}, false
}
