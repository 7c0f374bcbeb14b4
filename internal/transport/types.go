package transport

import "context"

// Update is an inbound event from the chat platform.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	IsGroup      bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is a queued outbound message. Priority orders delivery when
// the sender is rate-limited (0 low .. 10 high).
type Notification struct {
	Channel  string // "telegram" now
	Priority int
	Target   ChatTarget
	Text     string
	Options  *SendOptions
}

// Adapter abstracts the chat platform so the bot router and the notification
// sender stay platform-neutral.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
