package chat

import (
	"context"
	"time"

	"github.com/Zereker/chat/wire"
)

// runDelivery flushes pending queues to live sessions on a fixed interval
// until the context is canceled.
func (s *Server) runDelivery(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.deliveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.deliverPending()
		}
	}
}

// deliverPending runs one delivery pass. For each recipient with queued
// messages and a live session it takes the whole queue, then sends each
// message in order with no registry lock held across the writes. On a send
// failure the failed message and everything after it go back to the front
// of the queue and the recipient is skipped until the next pass. Messages
// for recipients with no live session stay queued indefinitely.
func (s *Server) deliverPending() {
	for _, recipient := range s.registry.PendingRecipients() {
		conn, ok := s.registry.Session(recipient)
		if !ok {
			continue
		}

		queue := s.registry.TakePending(recipient)
		for i, message := range queue {
			err := conn.Send(wire.OpRecvMessage, map[string]string{
				"sender":  message.Sender,
				"message": message.Body,
			})
			if err != nil {
				s.registry.Requeue(recipient, queue[i:])
				s.logger.Debug("delivery failed, requeued",
					"recipient", recipient, "requeued", len(queue)-i, "error", err)
				break
			}
			s.logger.Debug("delivered message",
				"sender", message.Sender, "recipient", recipient, "conn_id", conn.ID())
		}
	}
}
