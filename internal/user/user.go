// Package user holds the user record type and its repository. State lives
// behind an explicit Repository that handlers receive by injection; there
// is no package-level mutable store.
package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound   = errors.New("user not found")
	ErrEmailTaken = errors.New("email already in use")
)

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patch is the allow-listed set of updatable fields. Updates copy these
// fields explicitly into the record; caller-supplied maps are never merged
// into stored state.
type Patch struct {
	Name   *string `json:"name"`
	Email  *string `json:"email"`
	Role   *string `json:"role"`
	Active *bool   `json:"active"`
}

// apply copies the set fields of p onto u.
func (p Patch) apply(u *User) {
	if p.Name != nil {
		u.Name = strings.TrimSpace(*p.Name)
	}
	if p.Email != nil {
		u.Email = strings.TrimSpace(strings.ToLower(*p.Email))
	}
	if p.Role != nil {
		u.Role = strings.TrimSpace(*p.Role)
	}
	if p.Active != nil {
		u.Active = *p.Active
	}
}

// Empty reports whether the patch sets no fields at all.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Role == nil && p.Active == nil
}

// Repository is the storage abstraction the HTTP layer depends on. The
// in-memory implementation is the only one today; the context parameter is
// part of the contract so a backed implementation can honor cancellation.
type Repository interface {
	List(ctx context.Context, role string) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, u User) (User, error)
	Update(ctx context.Context, id int64, p Patch) (User, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
}
