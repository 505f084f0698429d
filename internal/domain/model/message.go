package model

import "time"

type MessageSource string

const (
	MessageSourceUser MessageSource = "user"
	MessageSourceBot  MessageSource = "bot"
)

// Channel names the transport a conversation lives on.
const (
	ChannelTelegram   = "telegram"
	ChannelSimulation = "simulation"
)

// Message is one inbound or outbound chat line. Processed flips to true once,
// when the message is folded into a Turn.
type Message struct {
	ID             string
	ConversationID string
	SessionID      string
	UserID         string
	Channel        string
	Text           string
	Timestamp      time.Time
	Source         MessageSource
	Processed      bool
}

// MessageIDs returns the ids of msgs in order.
func MessageIDs(msgs []*Message) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
