package service

import (
	"time"

	"whatsflow/internal/metrics"
	"whatsflow/internal/model"
)

// PairingController records the pairing codes pushed by the transport.
// It never polls: a fresh code simply replaces the stored one.
type PairingController struct {
	validity time.Duration
}

func NewPairingController(validity time.Duration) *PairingController {
	return &PairingController{validity: validity}
}

// Issue stores the code on the session and returns the stored challenge.
// The transport's own timeout wins over the configured validity.
func (p *PairingController) Issue(sess *model.Session, code string, timeout time.Duration, now time.Time) model.PairingChallenge {
	validity := p.validity
	if timeout > 0 {
		validity = timeout
	}
	challenge := model.PairingChallenge{
		Token:     code,
		IssuedAt:  now,
		ExpiresAt: now.Add(validity),
	}
	sess.Pairing = &challenge
	metrics.PairingChallenges.Inc()
	return challenge
}

// Get returns a copy of the current challenge, or nil.
func (p *PairingController) Get(sess model.Session) *model.PairingChallenge {
	if sess.State != model.StateAwaitingPairing || sess.Pairing == nil {
		return nil
	}
	c := *sess.Pairing
	return &c
}

// ExpiresIn is the advisory remaining display time, never negative.
func (p *PairingController) ExpiresIn(c *model.PairingChallenge, now time.Time) time.Duration {
	if c == nil {
		return 0
	}
	if left := c.ExpiresAt.Sub(now); left > 0 {
		return left
	}
	return 0
}
