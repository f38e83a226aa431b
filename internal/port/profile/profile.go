// Package profile defines the port for the external profile-completeness
// provider. This core only reads the score; how it is computed is not its
// concern.
package profile

import "context"

// Provider returns a completeness score in [0,100] for a user.
type Provider interface {
	Score(ctx context.Context, userID string) (int, error)
}
