// Package seed populates a user repository with demo records at startup,
// either from the builtin fixture set or from a JSON document fetched
// out of S3 (with the object key published through SSM).
package seed

import (
	"context"

	"github.com/eden-task/usersvc/internal/user"
	"github.com/eden-task/usersvc/internal/xerrors"
)

// Builtin returns the default demo fixture set used when remote
// fetching is disabled or unavailable.
func Builtin() []user.User {
	return []user.User{
		{Name: "Ada Lovelace", Email: "ada@example.com", Role: "admin", Active: true},
		{Name: "Grace Hopper", Email: "grace@example.com", Role: "editor", Active: true},
		{Name: "Alan Turing", Email: "alan@example.com", Role: "viewer", Active: true},
		{Name: "Margaret Hamilton", Email: "margaret@example.com", Role: "editor", Active: false},
	}
}

// Apply inserts the given fixtures into the repository. IDs and
// timestamps on the fixtures are ignored; the repository assigns them.
// It stops at the first failure.
func Apply(ctx context.Context, repo user.Repository, fixtures []user.User) (int, error) {
	for i, u := range fixtures {
		if _, err := repo.Create(ctx, u); err != nil {
			return i, xerrors.Wrapf(err, "seed user %q", u.Email)
		}
	}
	return len(fixtures), nil
}
