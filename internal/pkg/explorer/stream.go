package explorer

import (
	"context"

	"go.uber.org/zap"
)

// Stream lists the address's candidate transactions and emits them one by one
// with full details. The channel is closed after a complete or error event, or
// when ctx is cancelled. A failed detail lookup emits the basic listing data.
func (c *Client) Stream(ctx context.Context, address string) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)

		send := func(ev StreamEvent) bool {
			select {
			case <-ctx.Done():
				return false
			case out <- ev:
				return true
			}
		}

		candidates, err := c.Candidates(ctx, address)
		if err != nil {
			send(StreamEvent{Type: EventError, Err: err})
			return
		}
		total := len(candidates)
		if !send(StreamEvent{Type: EventTransactionCount, Count: total}) {
			return
		}

		for i := range candidates {
			if i > 0 {
				if err := c.sleep(ctx, c.Pacing); err != nil {
					return
				}
			}
			tx := candidates[i]
			detailed, err := c.TransactionDetails(ctx, tx.Hash)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("Using basic transaction data", zap.String("hash", tx.Hash), zap.Error(err))
			} else {
				tx = *detailed
			}
			if !send(StreamEvent{
				Type:        EventTransaction,
				Transaction: &tx,
				Progress:    Progress{Loaded: i + 1, Total: total},
			}) {
				return
			}
		}

		send(StreamEvent{Type: EventComplete, Processed: total})
	}()
	return out
}

// Collect drains a stream into a slice. An empty stream yields an empty,
// non-nil slice.
func Collect(ctx context.Context, events <-chan StreamEvent) ([]Transaction, error) {
	txs := []Transaction{}
	for ev := range events {
		switch ev.Type {
		case EventTransaction:
			txs = append(txs, *ev.Transaction)
		case EventError:
			return nil, ev.Err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}
