package domain

import "context"

// MessageBus carries task requests from channels to the task runner and
// routes the replies back to the channel that asked.
type MessageBus interface {
	Publish(ctx context.Context, msg InboundMessage) error
	Subscribe() <-chan InboundMessage
	SendOutbound(msg OutboundMessage) error
	OnOutbound(channelName string, handler func(OutboundMessage))
	Close()
}
