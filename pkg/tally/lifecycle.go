package tally

import (
	"errors"

	"github.com/google/uuid"

	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/observability"
	"github.com/randalmurphal/tally/pkg/tally/settings"
)

type appState int

const (
	stateUnknown appState = iota
	stateForeground
	stateBackground
)

// OnForeground reports that the host app became active. Returning from
// the background starts a new session.
func (c *Client) OnForeground() {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	prev := c.state
	c.state = stateForeground
	if prev == stateBackground {
		c.sessionID = uuid.NewString()
	}
	c.mu.Unlock()

	if prev != stateForeground && c.opts.lifecycle {
		c.track(event.NameAppOpened, nil)
	}
}

// OnBackground reports that the host app went to the background and
// flushes buffered events.
func (c *Client) OnBackground() {
	if c.closed.Load() {
		return
	}

	c.mu.Lock()
	prev := c.state
	c.state = stateBackground
	c.mu.Unlock()

	if prev == stateBackground {
		return
	}
	if c.opts.lifecycle {
		c.track(event.NameAppBackgrounded, nil)
	}
	c.engine.FlushAsync(nil)
}

// detectInstallOrUpdate compares the configured app version with the one
// recorded by the previous run.
func (c *Client) detectInstallOrUpdate() {
	version := c.opts.appVersion
	if version == "" {
		return
	}

	last, err := c.settings.GetString(settings.KeyLastAppVersion)
	switch {
	case errors.Is(err, settings.ErrNotFound):
		if c.opts.lifecycle {
			c.track(event.NameAppInstalled, map[string]any{"$version": version})
		}
	case err != nil:
		observability.LogPersistError(c.logger, "load app version", err)
		return
	case last != version:
		if c.opts.lifecycle {
			c.track(event.NameAppUpdated, map[string]any{
				"$version":          version,
				"$previous_version": last,
			})
		}
	default:
		return
	}
	c.setString(settings.KeyLastAppVersion, version)
}
