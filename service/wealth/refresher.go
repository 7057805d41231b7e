package wealth

import (
	"context"
	"fmt"
	"log/slog"
)

// UserStore is the persisted user set the refresher sweeps over.
type UserStore interface {
	GetUsers(ctx context.Context) ([]User, error)
	SaveUsers(ctx context.Context, users []User) error
}

// Refresher re-samples every previously seen user and replaces their
// snapshots wholesale. Scheduling (and overlap prevention) is the
// caller's concern; one Refresh call is one full sweep.
type Refresher struct {
	sampler *Sampler
	store   UserStore
	logger  *slog.Logger
}

func NewRefresher(sampler *Sampler, store UserStore, logger *slog.Logger) *Refresher {
	return &Refresher{sampler: sampler, store: store, logger: logger}
}

// Refresh sweeps all known users. An address whose sample fails keeps
// its previous snapshot; only successfully re-sampled users are written.
// Returns the number of users refreshed.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	users, err := r.store.GetUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	refreshed := make([]User, 0, len(users))
	for _, user := range users {
		if ctx.Err() != nil {
			return len(refreshed), ctx.Err()
		}
		data, err := r.sampler.GetUserWealth(ctx, user.Address)
		if err != nil {
			r.logger.Warn("skipping user in wealth sweep", "address", user.Address, "error", err)
			continue
		}
		refreshed = append(refreshed, User{
			Address: user.Address,
			Wealth:  data.Wealth,
			Tokens:  data.Tokens,
		})
	}

	if len(refreshed) > 0 {
		if err := r.store.SaveUsers(ctx, refreshed); err != nil {
			return 0, fmt.Errorf("save users: %w", err)
		}
	}

	r.logger.Info("wealth sweep complete", "total", len(users), "refreshed", len(refreshed))
	return len(refreshed), nil
}
