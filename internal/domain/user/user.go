// Package user defines the User entity and connection-type preferences.
package user

import "time"

// ConnectionType tags the kind of relationship a user is open to.
type ConnectionType string

const (
	ConnectionFriendship    ConnectionType = "friendship"
	ConnectionCollaboration ConnectionType = "collaboration"
	ConnectionRomantic      ConnectionType = "romantic"
	ConnectionMentorship    ConnectionType = "mentorship"
)

// ValidConnectionTypes is the set of all accepted connection type tags.
var ValidConnectionTypes = map[ConnectionType]bool{
	ConnectionFriendship:    true,
	ConnectionCollaboration: true,
	ConnectionRomantic:      true,
	ConnectionMentorship:    true,
}

// User is an account holder. Each user owns at most one Agent and exactly
// one ledger balance. ConnectionPreferences is a non-exclusive set; an empty
// set means the user is open to any connection type.
type User struct {
	ID                    string           `json:"id"`
	DisplayName           string           `json:"display_name"`
	Active                bool             `json:"active"`
	ConnectionPreferences []ConnectionType `json:"connection_preferences,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
}

// OpenTo reports whether the user's preferences intersect the given target
// types. A user with no stated preferences is open to anything, and an empty
// target set matches everyone.
func (u *User) OpenTo(targets []ConnectionType) bool {
	if len(u.ConnectionPreferences) == 0 || len(targets) == 0 {
		return true
	}
	for _, p := range u.ConnectionPreferences {
		for _, t := range targets {
			if p == t {
				return true
			}
		}
	}
	return false
}
