//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../../mocks/mock_user_store.go -package=mocks -mock_names=Store=MockUserStore
package user

import (
	"context"
	"errors"
)

// User is the read-only view of an account owned by the profile service.
type User struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

var (
	ErrUserNotFound = errors.New("user not found")
)

// Store defines the user lookups the messaging core needs.
type Store interface {
	Get(ctx context.Context, id string) (*User, error)
	// Search finds customers and trainers of a tenant by username or email, excluding excludeID.
	Search(ctx context.Context, tenantID, query, excludeID string, limit int) ([]User, error)
}
