package service

import (
	"time"

	"whatsflow/config"
	"whatsflow/internal/transport"
)

// Decision is what to do after a connection closed.
type Decision struct {
	Retry bool
	Delay time.Duration
}

func (d Decision) GiveUp() bool { return !d.Retry }

// ReconnectPolicy maps a disconnect cause to a retry delay.
type ReconnectPolicy struct {
	delays config.ReconnectConfig
}

func NewReconnectPolicy(delays config.ReconnectConfig) *ReconnectPolicy {
	return &ReconnectPolicy{delays: delays}
}

func (p *ReconnectPolicy) Decide(cause transport.Cause) Decision {
	switch cause {
	case transport.CauseLoggedOut:
		return Decision{}
	case transport.CauseRestartRequired:
		return Decision{Retry: true, Delay: p.delays.RestartRequired}
	case transport.CauseConnectionClosed:
		return Decision{Retry: true, Delay: p.delays.ConnectionClosed}
	case transport.CauseConnectionLost:
		return Decision{Retry: true, Delay: p.delays.ConnectionLost}
	case transport.CauseTimedOut:
		return Decision{Retry: true, Delay: p.delays.TimedOut}
	default:
		return Decision{Retry: true, Delay: p.delays.Default}
	}
}

// InitErrorDelay is used when the transport could not even be started.
func (p *ReconnectPolicy) InitErrorDelay() time.Duration {
	return p.delays.InitError
}
