package models

import "time"

// MissionStatus is the lifecycle state of a background research mission.
type MissionStatus string

const (
	MissionPending   MissionStatus = "pending"
	MissionRunning   MissionStatus = "running"
	MissionCompleted MissionStatus = "completed"
	MissionFailed    MissionStatus = "failed"
	MissionStopped   MissionStatus = "stopped"
)

// Terminal reports whether the status is final. Terminal missions accept no
// further input, except that a failed mission still permits recovery
// actions (refine, approve of pending questions).
func (s MissionStatus) Terminal() bool {
	switch s {
	case MissionCompleted, MissionFailed, MissionStopped:
		return true
	}
	return false
}

// Mission is a long-running backend task linked to a conversation, the
// "unit of work" the chat can start, refine, and approve.
type Mission struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Status         MissionStatus `json:"status"`
	Detail         string        `json:"detail,omitempty"` // structured context or error payload
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
