package capture

import (
	"context"

	"xcoffee/internal/models"
)

type VideoStreamer interface {
	Start(ctx context.Context) error
	Stop()
	FrameChan() <-chan models.Frame
	StatusChan() <-chan models.Status
	Stats() Stats
}

type Stats struct {
	FramesReceived uint64
	FramesDropped  uint64
	Connections    uint64
	Reconnects     uint64
}

// Offer delivers v without blocking, evicting whatever is still queued.
// Only safe with a single producer per channel.
func Offer[T any](ch chan T, v T) (dropped bool) {
	for {
		select {
		case ch <- v:
			return dropped
		default:
		}

		select {
		case <-ch:
			dropped = true
		default:
		}
	}
}
