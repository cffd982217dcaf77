package tally

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/event"
	"github.com/randalmurphal/tally/pkg/tally/settings"
)

// Profile holds optional user attributes sent with $identify.
type Profile struct {
	Email string
	Name  string
}

func (p Profile) empty() bool {
	return p.Email == "" && p.Name == ""
}

// Identify attributes later events to userID.
//
// Switching to a different user discards the cached experiment assignments
// and fetches the new user's. With a non-empty profile an $identify event is
// tracked, unless the same profile was sent for the same user within the
// identify debounce window.
func (c *Client) Identify(userID string, profile *Profile) {
	if strings.TrimSpace(userID) == "" {
		c.warn("identify ignored", slog.String("reason",
			(&tallyerrors.ValidationError{Field: "user id", Value: userID, Message: "must not be blank"}).Error()))
		return
	}
	if c.closed.Load() {
		c.warn("identify ignored", slog.String("reason", ErrClientClosed.Error()))
		return
	}

	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	c.mu.Lock()
	changed := c.userID != userID
	c.userID = userID
	c.mu.Unlock()

	if changed {
		c.setString(settings.KeyUserID, userID)
		c.experiments.Invalidate()
		c.experiments.Refresh(userID)
		if c.logger != nil {
			c.logger.Debug("user identified", slog.String("user_id", userID))
		}
	}

	if profile != nil && !profile.empty() {
		c.sendProfile(userID, *profile)
	}
}

// sendProfile tracks $identify unless it would repeat a recent identical one.
func (c *Client) sendProfile(userID string, p Profile) {
	hash := identifyHash(userID, p)
	now := c.clock.Now()

	prev, _ := c.settings.GetString(settings.KeyIdentifyHash)
	if prev == hash {
		if sent, err := c.settings.GetInt64(settings.KeyIdentifyTimestamp); err == nil &&
			now.Sub(time.UnixMilli(sent)) < c.opts.identifyDebounce {
			return
		}
	}

	props := make(map[string]any, 2)
	if p.Email != "" {
		props["$email"] = p.Email
	}
	if p.Name != "" {
		props["$name"] = p.Name
	}
	c.track(event.NameIdentify, props)

	c.setString(settings.KeyIdentifyHash, hash)
	c.setInt64(settings.KeyIdentifyTimestamp, now.UnixMilli())
}

// identifyHash digests the identify payload. NUL separators keep
// ("ab", "c") and ("a", "bc") apart.
func identifyHash(userID string, p Profile) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + p.Email + "\x00" + p.Name))
	return hex.EncodeToString(sum[:])
}

// ResetIdentity forgets the identified user, typically on logout. Later
// events are attributed to the anonymous id and the experiment assignments
// are reloaded for it.
func (c *Client) ResetIdentity() {
	if c.closed.Load() {
		return
	}

	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	c.mu.Lock()
	wasIdentified := c.userID != ""
	c.userID = ""
	anonymousID := c.anonymousID
	c.mu.Unlock()

	c.deleteKeys(settings.KeyUserID, settings.KeyIdentifyHash, settings.KeyIdentifyTimestamp)
	if wasIdentified {
		c.experiments.Invalidate()
		c.experiments.Refresh(anonymousID)
	}
}

// UserID returns the identified user, or "" before Identify.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// AnonymousID returns the persistent id used before Identify.
func (c *Client) AnonymousID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.anonymousID
}

// SessionID returns the current session id. A new session starts when the
// app returns from the background.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Client) effectiveUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.effectiveUserIDLocked()
}

func (c *Client) effectiveUserIDLocked() string {
	if c.userID != "" {
		return c.userID
	}
	return c.anonymousID
}
