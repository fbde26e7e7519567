package model

import "time"

// Content types accepted by the send endpoint.
const (
	ContentText  = "text"
	ContentImage = "image"
)

// Content is an outbound message body.
type Content struct {
	Type    string
	Text    string
	Image   []byte
	Caption string
}

// SendResult is what the transport reports after dispatch.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
	To        string    `json:"to"`
}

// InboundMessage is a message received by one instance.
type InboundMessage struct {
	ID          string    `json:"messageId"`
	From        string    `json:"from"`
	Text        string    `json:"message"`
	PushName    string    `json:"pushName"`
	ContactName string    `json:"contactName"`
	Type        string    `json:"messageType"`
	Timestamp   time.Time `json:"timestamp"`
}

// Chat is one conversation (contact or group) known to an instance.
type Chat struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	IsGroup bool   `json:"isGroup"`
}
