package entity

import "time"

// UserRef identifies a participant of a transition. Roles keeps the full set supplied.
type UserRef struct {
	ID    string   `json:"id" bson:"id"`
	Name  string   `json:"name" bson:"name"`
	Roles []string `json:"roles" bson:"roles"`
}

// WorkflowAuditRecord is the queryable twin of an embedded history entry
type WorkflowAuditRecord struct {
	ID         string        `json:"id" bson:"_id"`
	BillID     string        `json:"billId" bson:"billId"`
	FromUser   UserRef       `json:"fromUser" bson:"fromUser"`
	ToUser     UserRef       `json:"toUser" bson:"toUser"`
	Action     string        `json:"action" bson:"action"`
	Remarks    string        `json:"remarks,omitempty" bson:"remarks,omitempty"`
	FromState  string        `json:"fromState" bson:"fromState"`
	NewState   string        `json:"newState" bson:"newState"`
	FromCount  int           `json:"fromCount" bson:"fromCount"`
	ToCount    int           `json:"toCount" bson:"toCount"`
	Duration   time.Duration `json:"-" bson:"-"`
	DurationMS int64         `json:"duration" bson:"duration"`
	CreatedAt  time.Time     `json:"createdAt" bson:"createdAt"`
}

// SetDuration keeps Duration and its stored millisecond form in step
func (r *WorkflowAuditRecord) SetDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.Duration = d
	r.DurationMS = d.Milliseconds()
}

// StateDurationStats aggregates time spent in a state before leaving it
type StateDurationStats struct {
	State    string  `json:"state"`
	Count    int64   `json:"count"`
	AvgHours float64 `json:"avgHours"`
	MinHours float64 `json:"minHours"`
	MaxHours float64 `json:"maxHours"`
}

// User is a directory entry used to resolve roles
type User struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Roles     []string  `json:"roles" bson:"roles"`
	Active    bool      `json:"active" bson:"active"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}
