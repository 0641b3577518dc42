package pubsub

import (
	"context"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// Disposition is what a handler decided about one message.
type Disposition int

const (
	// Ack settles the message: processed, duplicate or poison.
	Ack Disposition = iota
	// Nack asks for redelivery after a transient failure.
	Nack
)

func (d Disposition) String() string {
	if d == Nack {
		return "nack"
	}
	return "ack"
}

// Subscriber is the receive side of a *pubsub.Subscriber.
type Subscriber interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// Consume pulls from sub until ctx ends, settling every message with the
// disposition handle returns.
func Consume(ctx context.Context, sub Subscriber, handle func(context.Context, *pubsub.Message) Disposition) error {
	return sub.Receive(ctx, func(msgCtx context.Context, msg *pubsub.Message) {
		if handle(msgCtx, msg) == Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
