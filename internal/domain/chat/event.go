// Package chat holds platform-neutral inbound chat events.
package chat

// Kind is the inbound message type.
type Kind string

// Event kinds.
const (
	KindText  Kind = "text"
	KindImage Kind = "image"
)

// Event is a single inbound chat message.
type Event struct {
	Kind       Kind
	ReplyToken string
	SourceID   string // user, group or room ID, used for rate limiting
	MessageID  string
	Text       string // text messages only
}
