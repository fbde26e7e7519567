package model

import "time"

// Instance is the durable catalog entry for one instance. Runtime state is
// not persisted; restored instances start disconnected.
type Instance struct {
	ID        string    `json:"instanceId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
