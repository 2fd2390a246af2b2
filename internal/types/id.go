// README: Shared identifier type used across modules.
package types

import "github.com/google/uuid"

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (id ID) String() string {
	return string(id)
}

// Ptr returns a pointer to a copy of id, for nullable columns.
func (id ID) Ptr() *ID {
	v := id
	return &v
}
