package model

import (
	"time"
)

// State is the lifecycle position of one instance.
type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateLoggedOut       State = "logged_out"
)

// User is the account identity reported by the transport once connected.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// PairingChallenge is the QR-equivalent token shown to the operator.
type PairingChallenge struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Session is the record kept for one instance. Values handed out by the
// store are copies; only the owning supervisor mutates the original.
type Session struct {
	InstanceID string            `json:"instanceId"`
	Name       string            `json:"name"`
	State      State             `json:"state"`
	Pairing    *PairingChallenge `json:"pairingChallenge"`
	User       *User             `json:"user"`
	LastSeen   *time.Time        `json:"lastSeen"`
	CreatedAt  time.Time         `json:"createdAt"`
	RetryAt    *time.Time        `json:"retryAt,omitempty"`
}

// Clone returns a deep copy safe to share with readers.
func (s Session) Clone() Session {
	out := s
	if s.Pairing != nil {
		p := *s.Pairing
		out.Pairing = &p
	}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	if s.LastSeen != nil {
		t := *s.LastSeen
		out.LastSeen = &t
	}
	if s.RetryAt != nil {
		t := *s.RetryAt
		out.RetryAt = &t
	}
	return out
}

// StatusView is the read-only snapshot returned by the status endpoints.
type StatusView struct {
	InstanceID string     `json:"instanceId"`
	Name       string     `json:"name"`
	State      State      `json:"state"`
	Connected  bool       `json:"connected"`
	Connecting bool       `json:"connecting"`
	HasQR      bool       `json:"hasQR"`
	User       *User      `json:"user"`
	LastSeen   *time.Time `json:"lastSeen"`
	RetryAt    *time.Time `json:"retryAt,omitempty"`
}

func (s Session) Status() StatusView {
	return StatusView{
		InstanceID: s.InstanceID,
		Name:       s.Name,
		State:      s.State,
		Connected:  s.State == StateConnected,
		Connecting: s.State == StateConnecting || s.State == StateAwaitingPairing,
		HasQR:      s.Pairing != nil,
		User:       s.User,
		LastSeen:   s.LastSeen,
		RetryAt:    s.RetryAt,
	}
}
