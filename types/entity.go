package types

import "time"

// Entity is the base type for all Tally records. It carries timestamps and
// the actor that created and last modified the record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// NewEntity creates a new Entity with current timestamps.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewEntityAt creates an Entity stamped with the given time and actor.
func NewEntityAt(at time.Time, actor string) Entity {
	at = at.UTC()
	return Entity{
		CreatedAt: at,
		UpdatedAt: at,
		CreatedBy: actor,
		UpdatedBy: actor,
	}
}

// Touch updates the UpdatedAt timestamp to now.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}

// TouchAt records a modification by actor at the given time.
func (e *Entity) TouchAt(at time.Time, actor string) {
	e.UpdatedAt = at.UTC()
	e.UpdatedBy = actor
}
