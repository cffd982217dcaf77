package tally

import (
	"encoding/json"
	"log/slog"
	"maps"
	"strings"

	"github.com/randalmurphal/tally/pkg/tally/observability"
	"github.com/randalmurphal/tally/pkg/tally/settings"
)

// SetSuperProperty adds a property to every later event. Super properties
// are persisted and survive restarts.
func (c *Client) SetSuperProperty(key string, value any) {
	if strings.TrimSpace(key) == "" {
		c.warn("super property ignored", slog.String("reason", "blank key"))
		return
	}
	c.updateSuperProperties(func(props map[string]any) bool {
		props[key] = value
		return true
	})
}

// SetSuperProperties merges props into the super properties.
func (c *Client) SetSuperProperties(props map[string]any) {
	if len(props) == 0 {
		return
	}
	c.updateSuperProperties(func(cur map[string]any) bool {
		for k, v := range props {
			if strings.TrimSpace(k) != "" {
				cur[k] = v
			}
		}
		return true
	})
}

// RemoveSuperProperty removes a single super property.
func (c *Client) RemoveSuperProperty(key string) {
	c.updateSuperProperties(func(props map[string]any) bool {
		if _, ok := props[key]; !ok {
			return false
		}
		delete(props, key)
		return true
	})
}

// ClearSuperProperties removes every super property.
func (c *Client) ClearSuperProperties() {
	c.updateSuperProperties(func(props map[string]any) bool {
		if len(props) == 0 {
			return false
		}
		clear(props)
		return true
	})
}

// SuperProperties returns a copy of the current super properties.
func (c *Client) SuperProperties() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := maps.Clone(c.superProps)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// updateSuperProperties applies fn to a copy of the super properties and
// installs and persists the copy if fn reports a change. Events being
// built concurrently keep the map they already hold.
func (c *Client) updateSuperProperties(fn func(map[string]any) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := maps.Clone(c.superProps)
	if next == nil {
		next = map[string]any{}
	}
	if !fn(next) {
		return
	}
	c.superProps = next

	if len(next) == 0 {
		c.deleteKeys(settings.KeySuperProperties)
		return
	}
	raw, err := json.Marshal(next)
	if err != nil {
		observability.LogPersistError(c.logger, "encode super properties", err)
		return
	}
	c.setString(settings.KeySuperProperties, string(raw))
}
