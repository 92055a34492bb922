package domain

import "time"

// MaxDescriptionLength bounds TaskItem.Description, counted in characters.
const MaxDescriptionLength = 280

// UserProfile is the per-identity counter record. It is created lazily on first
// interaction and never destroyed.
type UserProfile struct {
	Address    Pubkey `json:"address"`
	Authority  Pubkey `json:"authority"`
	TaskCount  uint64 `json:"task_count"`
	LastTaskID uint64 `json:"last_task_id"`
}

// NextTaskID is the id the next createTask will receive.
func (p *UserProfile) NextTaskID() uint64 {
	return p.LastTaskID + 1
}

// Consistent reports whether the live-count invariant holds.
func (p *UserProfile) Consistent() bool {
	return p != nil && p.TaskCount <= p.LastTaskID
}

// TaskItem is a single ledger-resident task.
//
// Owner and Authority are equal in every current flow; they stay separate so
// mutation rights can be delegated later without a layout change.
type TaskItem struct {
	Address     Pubkey `json:"address"`
	ID          uint64 `json:"id"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	DueDate     int64  `json:"due_date"`
	Owner       Pubkey `json:"owner"`
	Authority   Pubkey `json:"authority"`
}

func (t *TaskItem) IsCompleted() bool {
	return t != nil && t.Completed
}

// Due returns DueDate as a time in UTC.
func (t *TaskItem) Due() time.Time {
	return time.Unix(t.DueDate, 0).UTC()
}

// TaskList is the read model returned to clients.
type TaskList struct {
	Profile *UserProfile `json:"profile"`
	Tasks   []TaskItem   `json:"tasks"`
}
