// Package model defines the core domain types for the duckchat server.
package model

// Role identifies who authored a persisted chat message.
type Role string

const (
	// RoleClient marks a message sent by one of the two participants.
	RoleClient Role = "client"
	// RoleServer marks a system notice generated by the server.
	RoleServer Role = "server"
)

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleServer
}

func (r Role) String() string {
	return string(r)
}
