package plans

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// Seed creates the permissions and plans named in seed that do not exist yet and
// applies their grants. Existing plans keep their limits; running Seed twice is a no-op.
func (c *Catalog) Seed(ctx context.Context, seed *config.Seed) error {
	existing, err := c.store.ListPermissions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list permissions: %w", err)
	}
	permIDs := make(map[string]int64, len(existing))
	for _, p := range existing {
		permIDs[p.Name] = p.ID
	}

	for _, sp := range seed.Permissions {
		if _, ok := permIDs[sp.Name]; ok {
			continue
		}
		perm := &domain.Permission{Name: sp.Name, Endpoint: sp.Endpoint, Description: sp.Description}
		if err := c.CreatePermission(ctx, perm); err != nil {
			return fmt.Errorf("failed to seed permission %q: %w", sp.Name, err)
		}
		permIDs[perm.Name] = perm.ID
	}

	created := 0
	for _, sp := range seed.Plans {
		plan, err := c.store.GetPlanByName(ctx, sp.Name)
		switch {
		case errors.Is(err, domain.ErrPlanNotFound):
			plan = &domain.Plan{Name: sp.Name, Description: sp.Description, UsageLimit: sp.UsageLimit}
			if err := c.CreatePlan(ctx, plan); err != nil {
				return fmt.Errorf("failed to seed plan %q: %w", sp.Name, err)
			}
			created++
		case err != nil:
			return fmt.Errorf("failed to look up plan %q: %w", sp.Name, err)
		}

		for _, name := range sp.Permissions {
			permID, ok := permIDs[name]
			if !ok {
				return fmt.Errorf("plan %q grants unknown permission %q", sp.Name, name)
			}
			if err := c.GrantPermission(ctx, plan.ID, permID); err != nil {
				return fmt.Errorf("failed to grant %q to plan %q: %w", name, sp.Name, err)
			}
		}
	}

	c.logger.WithFields(logrus.Fields{
		"plans":       len(seed.Plans),
		"plans_added": created,
	}).Info("Plan catalog seeded")
	return nil
}
