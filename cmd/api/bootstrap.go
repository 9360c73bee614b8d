package main

import (
	"context"
	"time"

	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/config"
	"confhub.org/internal/obs"
)

// bootstrap creates the configured admin account when it does not exist yet.
// On the in-memory store it also publishes a demo conference, mirroring
// `confhubctl migrate seed` for Postgres.
func bootstrap(ctx context.Context, admin config.BootstrapConfig, inMemory bool, accounts *auth.AccountService, conferences *conference.Service) error {
	if !admin.Enabled() {
		if inMemory {
			obs.Logger().Warn().Msg("no auth.bootstrap_admin configured, the in-memory store has no accounts")
		}
		return nil
	}

	acct, created, err := accounts.Ensure(ctx, auth.NewAccount{
		Username: admin.Username,
		Email:    admin.Email,
		Password: admin.Password,
		Role:     string(auth.RoleAdmin),
	})
	if err != nil {
		return err
	}
	if created {
		obs.Logger().Info().Str("account_id", acct.ID).Str("username", acct.Username).Msg("bootstrap admin created")
	}
	if !inMemory {
		return nil
	}

	existing, err := conferences.List(ctx, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	actor := auth.Identity{AccountID: acct.ID, Username: acct.Username, Email: acct.Email, Role: acct.Role}
	starts := time.Now().UTC().Truncate(time.Hour).Add(30 * 24 * time.Hour)
	demo, err := conferences.Create(ctx, actor, conference.NewConference{
		Title:       "Annual Summit",
		Description: "Demo conference created at startup.",
		StartsAt:    starts,
		EndsAt:      starts.Add(48 * time.Hour),
		Location:    "Main Hall",
		Capacity:    100,
		Currency:    "USD",
		Status:      string(conference.StatusPublished),
	})
	if err != nil {
		return err
	}
	obs.Logger().Info().Str("conference_id", demo.ID).Msg("demo conference created")
	return nil
}
