package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDeferred = "deferred"
)

// Attempt records one publish attempt.
// Keep it compact and schema-stable.
type Attempt struct {
	At          time.Time `json:"ts"`
	AttemptID   string    `json:"attempt_id,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	Status      string    `json:"status"`
	Slot        string    `json:"slot,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at,omitzero"`
	SentAt      time.Time `json:"sent_at,omitzero"`
	Source      string    `json:"source"`
	Dest        string    `json:"dest,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	TweetID     string    `json:"tweet_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}
