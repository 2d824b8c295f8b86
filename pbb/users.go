package pbb

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/pbb-engine/logging"
)

// PasswordHasher turns a plaintext password into the stored hash. The
// engine never verifies passwords; see package auth.
type PasswordHasher interface {
	Hash(password string) (string, error)
}

const (
	MinUsernameLength = 3
	MinPasswordLength = 6
)

type NewUser struct {
	Username  string
	Password  string
	FullName  string
	Role      Role
	VillageID *VillageID
}

// UserUpdate changes only the non-nil fields. ClearVillage removes the
// village assignment (required when promoting a user to super_admin).
type UserUpdate struct {
	ID           UserID
	Username     *string
	Password     *string
	FullName     *string
	Role         *Role
	VillageID    *VillageID
	ClearVillage bool
	IsActive     *bool
}

// CreateUser adds an active user. Platform admin only.
func (e *Engine) CreateUser(ctx context.Context, c Caller, in NewUser) (User, error) {
	if err := RequireAdmin(c); err != nil {
		return User{}, err
	}
	in.Username = strings.TrimSpace(in.Username)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := validateUserFields(&in.Username, &in.Password, &in.FullName); err != nil {
		return User{}, err
	}
	if !in.Role.Valid() {
		return User{}, invalid("role", "unknown role %q", in.Role)
	}

	hash, err := e.hasher.Hash(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}

	var created User
	err = e.store.WithTx(ctx, func(s Store) error {
		v := NewValidator(s)
		if err := v.ValidateUserVillage(ctx, in.Role, in.VillageID); err != nil {
			return err
		}
		if err := v.ValidateUsernameUnique(ctx, in.Username, nil); err != nil {
			return err
		}
		now := e.now()
		var err error
		created, err = s.InsertUser(ctx, User{
			Username:     in.Username,
			PasswordHash: hash,
			FullName:     in.FullName,
			Role:         in.Role,
			VillageID:    in.VillageID,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		return err
	})
	if err != nil {
		return User{}, err
	}

	e.log.InfoContext(ctx, "user created", logging.FieldUserID, created.ID, "role", created.Role)
	return created, nil
}

// UpdateUser applies the non-nil fields of in. The role/village pairing is
// re-checked on the resulting values.
func (e *Engine) UpdateUser(ctx context.Context, c Caller, in UserUpdate) (User, error) {
	if err := RequireAdmin(c); err != nil {
		return User{}, err
	}
	if in.Username != nil {
		trimmed := strings.TrimSpace(*in.Username)
		in.Username = &trimmed
	}
	if err := validateUserFields(in.Username, in.Password, in.FullName); err != nil {
		return User{}, err
	}
	if in.Role != nil && !in.Role.Valid() {
		return User{}, invalid("role", "unknown role %q", *in.Role)
	}
	if in.ClearVillage && in.VillageID != nil {
		return User{}, invalid("village_id", "cannot be both set and cleared")
	}

	var hash string
	if in.Password != nil {
		var err error
		if hash, err = e.hasher.Hash(*in.Password); err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
	}

	var updated User
	err := e.store.WithTx(ctx, func(s Store) error {
		v := NewValidator(s)
		u, err := v.RequireUser(ctx, in.ID)
		if err != nil {
			return err
		}
		if in.Username != nil {
			if err := v.ValidateUsernameUnique(ctx, *in.Username, &u.ID); err != nil {
				return err
			}
			u.Username = *in.Username
		}
		if in.FullName != nil {
			u.FullName = strings.TrimSpace(*in.FullName)
		}
		if in.Role != nil {
			u.Role = *in.Role
		}
		if in.ClearVillage {
			u.VillageID = nil
		}
		if in.VillageID != nil {
			u.VillageID = in.VillageID
		}
		if err := v.ValidateUserVillage(ctx, u.Role, u.VillageID); err != nil {
			return err
		}
		if in.Password != nil {
			u.PasswordHash = hash
		}
		if in.IsActive != nil {
			u.IsActive = *in.IsActive
		}
		u.UpdatedAt = e.now()
		updated, err = s.UpdateUser(ctx, *u)
		return err
	})
	if err != nil {
		return User{}, err
	}

	e.log.InfoContext(ctx, "user updated", logging.FieldUserID, updated.ID)
	return updated, nil
}

// DeleteUser deactivates a user. The row and its payments are kept.
func (e *Engine) DeleteUser(ctx context.Context, c Caller, id UserID) error {
	if err := RequireAdmin(c); err != nil {
		return err
	}
	err := e.store.WithTx(ctx, func(s Store) error {
		u, err := NewValidator(s).RequireUser(ctx, id)
		if err != nil {
			return err
		}
		u.IsActive = false
		u.UpdatedAt = e.now()
		_, err = s.UpdateUser(ctx, *u)
		return err
	})
	if err != nil {
		return err
	}

	e.log.InfoContext(ctx, "user deactivated", logging.FieldUserID, id)
	return nil
}

func (e *Engine) ListUsers(ctx context.Context, c Caller) ([]User, error) {
	if err := RequireAdmin(c); err != nil {
		return nil, err
	}
	return e.store.ListUsers(ctx)
}

func validateUserFields(username, password, fullName *string) error {
	if username != nil && len(*username) < MinUsernameLength {
		return invalid("username", "must be at least %d characters", MinUsernameLength)
	}
	if password != nil && len(*password) < MinPasswordLength {
		return invalid("password", "must be at least %d characters", MinPasswordLength)
	}
	if fullName != nil {
		if err := requireText("full_name", *fullName); err != nil {
			return err
		}
	}
	return nil
}
