package model

// Role identifies the kind of account the user holds.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

// User is the authenticated account profile. It is hydrated from the
// account endpoint after a token is acquired and cached locally so the
// client can render without a round trip on startup.
type User struct {
	// ID is the unique account identifier.
	ID string `json:"id"`

	// Email is the account's registered email address.
	Email string `json:"email"`

	// FullName is the display name.
	FullName string `json:"fullName"`

	// Role determines which views and actions the account may use.
	Role Role `json:"role"`
}
