package service

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Heartbeat runs tick on a fixed interval.
type Heartbeat struct {
	sched *cron.Cron
	spec  string
	tick  func()
}

func NewHeartbeat(interval time.Duration, tick func()) *Heartbeat {
	return &Heartbeat{
		sched: cron.New(),
		spec:  fmt.Sprintf("@every %s", interval),
		tick:  tick,
	}
}

func (h *Heartbeat) Start() error {
	_, err := h.sched.AddFunc(h.spec, func() {
		defer func() {
			if err := recover(); err != nil {
				zap.S().Error(err)
			}
		}()
		h.tick()
	})
	if err != nil {
		return fmt.Errorf("schedule heartbeat: %w", err)
	}
	h.sched.Start()
	return nil
}

// Stop waits for a running tick to finish.
func (h *Heartbeat) Stop() {
	<-h.sched.Stop().Done()
}
