package conduct

import "time"

// Entity is the base embedded by all persisted records. Stores stamp
// UpdatedAt on every write; CreatedAt is set once at creation and orders
// list queries.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch updates the UpdatedAt timestamp, initializing CreatedAt if unset.
func (e *Entity) Touch(now time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}
