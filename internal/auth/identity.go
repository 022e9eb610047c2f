package auth

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Role is the platform role carried in a credential.
type Role string

const (
	RoleCustomer    Role = "customer"
	RoleTrainer     Role = "trainer"
	RoleAdmin       Role = "admin"
	RoleTenantAdmin Role = "tenant_admin"
)

// Valid reports whether r is one of the known platform roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleTrainer, RoleAdmin, RoleTenantAdmin:
		return true
	}
	return false
}

// Identity is the authenticated principal bound to a request or a live connection.
type Identity struct {
	UserID   string
	TenantID string
	Role     Role
}

// Session is an Identity together with the expiry of the credential that proved it.
type Session struct {
	Identity
	ExpiresAt time.Time
}

// ID is an identifier claim that accepts both JSON strings and JSON numbers.
// The login flow has historically issued numeric user and tenant ids.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}
