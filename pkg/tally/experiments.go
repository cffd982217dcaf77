package tally

import (
	"context"
	"log/slog"
	"strings"

	"github.com/randalmurphal/tally/pkg/tally/event"
)

// experimentPropertyPrefix prefixes the super property recording a variant.
const experimentPropertyPrefix = "experiment_"

// Variant returns the variant assigned to the current user for
// experimentID. On a hit the assignment is also recorded as the super
// property experiment_<snake_case id>.
//
// Variant does not wait for assignments to load; use Ready or OnReady.
func (c *Client) Variant(experimentID string) (string, bool) {
	if strings.TrimSpace(experimentID) == "" {
		c.warn("variant lookup ignored", slog.String("reason", "blank experiment id"))
		return "", false
	}

	variant, ok := c.experiments.Variant(experimentID)
	if !ok {
		return "", false
	}

	key := experimentPropertyPrefix + event.SnakeCase(experimentID)
	c.updateSuperProperties(func(props map[string]any) bool {
		if cur, ok := props[key]; ok && cur == variant {
			return false
		}
		props[key] = variant
		return true
	})
	return variant, true
}

// Variants returns a copy of every assignment for the current user.
func (c *Client) Variants() map[string]string {
	return c.experiments.Variants()
}

// Ready blocks until the assignments for the current user have loaded,
// successfully or not, or ctx is done.
func (c *Client) Ready(ctx context.Context) error {
	return c.experiments.Ready(ctx)
}

// OnReady calls fn once the assignments have loaded. If they already have,
// fn runs before OnReady returns.
func (c *Client) OnReady(fn func()) {
	c.experiments.OnReady(fn)
}
