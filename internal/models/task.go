package models

import (
	"fmt"
	"time"
)

// Status enumerates the lifecycle states of a task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// PID range and priority bounds.
const (
	PIDMin = 1000
	PIDMax = 99999

	PriorityMin     = 0
	PriorityMax     = 5
	DefaultPriority = 3
)

// ParseStatus maps a raw value onto the closed status set.
func ParseStatus(v string) (Status, error) {
	switch s := Status(v); s {
	case StatusRunning, StatusCompleted:
		return s, nil
	default:
		return "", fmt.Errorf("unknown status %q", v)
	}
}

// Task is a simulated Unix-style process.
type Task struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	Priority  int       `json:"priority"`
	Owner     string    `json:"owner"`
	Command   string    `json:"command"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
