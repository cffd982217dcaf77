package event

import (
	"regexp"
	"strings"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
)

// MaxNameLength is the longest accepted event name.
const MaxNameLength = 255

// SystemPrefix marks reserved, SDK-generated event names.
const SystemPrefix = "$"

var namePattern = regexp.MustCompile(`^\$?[A-Za-z][A-Za-z0-9_ ]*$`)

// ValidateName checks an event name against the collector grammar:
// an optional leading "$", one letter, then letters, digits, underscores
// or spaces, at most MaxNameLength characters.
func ValidateName(name string) error {
	switch {
	case name == "":
		return &tallyerrors.ValidationError{Field: "event name", Value: name, Message: "must not be empty"}
	case len(name) > MaxNameLength:
		return &tallyerrors.ValidationError{Field: "event name", Value: name[:32] + "…", Message: "longer than 255 characters"}
	case !namePattern.MatchString(name):
		return &tallyerrors.ValidationError{Field: "event name", Value: name, Message: `must match ^\$?[A-Za-z][A-Za-z0-9_ ]*$`}
	}
	return nil
}

// IsSystemName reports whether name is a reserved SDK event name.
func IsSystemName(name string) bool {
	return strings.HasPrefix(name, SystemPrefix)
}

// Reserved SDK event names.
const (
	NameIdentify        = "$identify"
	NameAppInstalled    = "$app_installed"
	NameAppUpdated      = "$app_updated"
	NameAppOpened       = "$app_opened"
	NameAppBackgrounded = "$app_backgrounded"
)
