package auth

import "time"

// User is an authenticated account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"` // e.g. "admin", "operator"
	CreatedAt time.Time `json:"created_at"`
}

// Principal is any entity making a request (user, service account, system).
type Principal interface {
	GetID() string
	GetRoles() []string
	IsAdmin() bool
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) IsAdmin() bool {
	for _, role := range b.Roles {
		if role == "admin" {
			return true
		}
	}
	return false
}
