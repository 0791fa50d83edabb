package importer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/target"
)

const companyUsersFile = "company/users.json"

// importUsers creates an identity and a profile per company user. A user
// whose email already has an identity is mapped to it.
func (im *Importer) importUsers(ctx context.Context, res *StepResult) error {
	var users []sourceUser
	found, err := im.readOptional(companyUsersFile, &users)
	if err != nil {
		return err
	}
	if !found {
		logging.Warn("No %s found, skipping users", companyUsersFile)
		return nil
	}
	logging.Info("Found %d users", len(users))

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return err
		}
		if u.ID == 0 {
			logging.Warn("Skipping user without id (%s)", u.Email)
			im.tally(res, "users", "failed", 1)
			continue
		}
		if im.mapper.Has(idmap.User, int64(u.ID)) {
			im.tally(res, "users", "skipped", 1)
			continue
		}

		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" {
			logging.Warn("Skipping user %d: no email address", u.ID)
			im.tally(res, "users", "failed", 1)
			continue
		}
		fullName := strings.TrimSpace(u.FirstName + " " + u.LastName)
		if fullName == "" {
			fullName = email
		}
		password, err := randomPassword()
		if err != nil {
			return err
		}

		userID, err := im.identities.CreateUser(ctx, target.NewUser{Email: email, Password: password, FullName: fullName})
		switch {
		case errors.Is(err, target.ErrUserExists):
			existing, findErr := im.identities.FindUserByEmail(ctx, email)
			if findErr != nil || existing == "" {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Error("User %s exists but could not be found: %v", email, findErr)
				im.tally(res, "users", "failed", 1)
				continue
			}
			im.mapper.Set(idmap.User, int64(u.ID), existing)
			logging.Info("User %s already exists, mapped to %s", email, existing)
			im.tally(res, "users", "skipped", 1)
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error("Failed to create user %s: %v", email, err)
			im.tally(res, "users", "failed", 1)
			continue
		}
		im.mapper.Set(idmap.User, int64(u.ID), userID)
		im.tally(res, "users", "inserted", 1)

		role := "user"
		if u.isAdmin() {
			role = "admin"
		}
		err = im.rows.UpsertProfile(ctx, target.Profile{
			UserID:    userID,
			TenantID:  im.opts.TenantID,
			Email:     email,
			FullName:  fullName,
			AvatarURL: u.Pic,
			Role:      role,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error("Failed to upsert profile for %s: %v", email, err)
			im.tally(res, "profiles", "failed", 1)
			continue
		}
		im.tally(res, "profiles", "inserted", 1)
	}

	logging.Info("Users: %d mapped", im.mapper.Count(idmap.User))
	return nil
}

func randomPassword() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
