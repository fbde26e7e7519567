// Package transport defines what the session layer needs from the
// underlying messaging connection and implements it on whatsmeow.
package transport

import (
	"context"
	"time"

	"whatsflow/internal/model"

	"go.mau.fi/whatsmeow/types"
)

// Cause classifies why a connection closed.
type Cause string

const (
	CauseLoggedOut          Cause = "logged_out"
	CauseRestartRequired    Cause = "restart_required"
	CauseConnectionClosed   Cause = "connection_closed"
	CauseConnectionLost     Cause = "connection_lost"
	CauseTimedOut           Cause = "timed_out"
	CauseConnectionReplaced Cause = "connection_replaced"
	CauseUnknown            Cause = "unknown"
)

// Event is anything a transport reports about its connection.
type Event interface {
	transportEvent()
}

// PairingRequired carries a fresh pairing code. Every new code replaces the
// previous one.
type PairingRequired struct {
	Code    string
	Timeout time.Duration
}

// Established means the connection is open and authenticated.
type Established struct {
	User model.User
}

// Closed means the connection is gone.
type Closed struct {
	Cause  Cause
	Detail string
}

type MessageReceived struct {
	Message model.InboundMessage
}

func (PairingRequired) transportEvent() {}
func (Established) transportEvent()     {}
func (Closed) transportEvent()          {}
func (MessageReceived) transportEvent() {}

// Handler receives events in the order the transport produced them.
type Handler func(Event)

// Transport is one live connection owned by a single session.
type Transport interface {
	// Connect starts establishment. Progress is reported through events;
	// an error means the transport could not even start.
	Connect(ctx context.Context) error
	// RefreshPairing asks for a new pairing code when the current one lapsed.
	RefreshPairing(ctx context.Context) error
	SendMessage(ctx context.Context, to types.JID, content model.Content) (model.SendResult, error)
	SendPresence(ctx context.Context) error
	PersistCredentials(ctx context.Context) error
	FetchChats(ctx context.Context) ([]model.Chat, error)
	// Logout unlinks the device remotely. Credentials become invalid.
	Logout(ctx context.Context) error
	// Close drops the connection and stops event delivery.
	Close()
}

// Factory opens transports and manages the credential material behind them.
type Factory interface {
	Open(ctx context.Context, instanceID string, handler Handler) (Transport, error)
	HasCredentials(ctx context.Context, instanceID string) bool
	Purge(ctx context.Context, instanceID string) error
}
