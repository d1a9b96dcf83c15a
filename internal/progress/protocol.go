// Package progress carries status updates of long-running operations
// (exports, bulk saves) from the server to subscribers over websockets.
package progress

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTicket   = errors.New("invalid ticket")
	ErrOperationFailed = errors.New("operation failed")
	ErrFeedClosed      = errors.New("feed closed before completion")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Update is one message on an operation's feed.
type Update struct {
	OperationID string  `json:"operationId"`
	Status      Status  `json:"status"`
	Progress    float64 `json:"progress"`
	Message     string  `json:"message,omitempty"`
}

// Terminal reports whether no further updates follow.
func (u Update) Terminal() bool {
	return u.Status == StatusCompleted || u.Status == StatusError
}

func (u Update) validate() error {
	if u.OperationID == "" {
		return errors.New("missing operation id")
	}
	switch u.Status {
	case StatusQueued, StatusRunning, StatusCompleted, StatusError:
	default:
		return fmt.Errorf("unknown status %q", u.Status)
	}
	return nil
}

func clampProgress(p float64) float64 {
	switch {
	case p != p, p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
