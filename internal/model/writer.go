package model

import "time"

// Writer persists tracker snapshots to a store.
type Writer interface {
	// Write persists payload under the snapshot timestamp. Writers reject
	// payload types they do not handle.
	Write(payload any, timestamp string) error

	// GetInterval is how often the monitor hands this writer a snapshot.
	GetInterval() time.Duration
}
