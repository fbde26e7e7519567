package ws

import (
	"time"

	"whatsflow/internal/model"
)

const (
	EventInstanceStatusChanged = "INSTANCE_STATUS_CHANGED"
	EventQRGenerated           = "QR_GENERATED"
	EventMessageReceived       = "MESSAGE_RECEIVED"
	EventInstanceDeleted       = "INSTANCE_DELETED"
)

type WsEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type InstanceStatusChangedData struct {
	InstanceID  string      `json:"instanceId"`
	State       model.State `json:"state"`
	IsConnected bool        `json:"isConnected"`
	PhoneNumber string      `json:"phoneNumber,omitempty"`
	RetryAt     *time.Time  `json:"retryAt,omitempty"`
}

type QRGeneratedData struct {
	InstanceID string    `json:"instanceId"`
	QR         string    `json:"qr"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type MessageReceivedData struct {
	InstanceID string               `json:"instanceId"`
	Message    model.InboundMessage `json:"message"`
}

type InstanceDeletedData struct {
	InstanceID string `json:"instanceId"`
}

// instanceID returns the instance an event belongs to, or "" for
// events that are not scoped to one instance.
func (e WsEvent) instanceID() string {
	switch d := e.Data.(type) {
	case InstanceStatusChangedData:
		return d.InstanceID
	case QRGeneratedData:
		return d.InstanceID
	case MessageReceivedData:
		return d.InstanceID
	case InstanceDeletedData:
		return d.InstanceID
	}
	return ""
}
