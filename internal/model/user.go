package model

import "strings"

// Role constants for the authenticated principal.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the authenticated principal's profile as returned by the
// user-profile endpoint.
type User struct {
	ID        ID        `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	FullName  string    `json:"full_name,omitempty"`
	Role      string    `json:"role,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt Timestamp `json:"created_at"`
}

// DisplayName returns the best human-readable name for the user:
// first/last name, then full name, then username, then email.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.FullName != "" {
		return u.FullName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// EffectiveRole returns Role, falling back to the is_admin flag.
func (u *User) EffectiveRole() string {
	if u == nil {
		return ""
	}
	if u.Role != "" {
		return u.Role
	}
	if u.IsAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// Merge overlays the non-empty fields of other onto a copy of u.
func (u User) Merge(other User) User {
	if other.ID != "" {
		u.ID = other.ID
	}
	if other.Username != "" {
		u.Username = other.Username
	}
	if other.Email != "" {
		u.Email = other.Email
	}
	if other.FirstName != "" {
		u.FirstName = other.FirstName
	}
	if other.LastName != "" {
		u.LastName = other.LastName
	}
	if other.FullName != "" {
		u.FullName = other.FullName
	}
	if other.Role != "" {
		u.Role = other.Role
	}
	if other.AvatarURL != "" {
		u.AvatarURL = other.AvatarURL
	}
	u.IsAdmin = u.IsAdmin || other.IsAdmin
	return u
}

// Credentials are the login inputs.
type Credentials struct {
	// Identifier is the email or username sent as the form "username".
	Identifier string

	// Secret is the password.
	Secret string

	// Remember persists the token across restarts when true.
	Remember bool
}

// Registration is the payload of the registration endpoint.
type Registration struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// ProfileUpdate carries the profile fields to change. Nil fields are
// left untouched by the backend.
type ProfileUpdate struct {
	Username  *string `json:"username,omitempty"`
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}
