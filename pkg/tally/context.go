package tally

import (
	"os"
	"runtime"
	"strings"
	"time"
)

// DeviceInfo describes the environment the host program runs in.
type DeviceInfo struct {
	Platform           string
	OSVersion          string
	DeviceManufacturer string
	DeviceModel        string
	Locale             string
	Timezone           string
}

// ContextProvider supplies device information. It is consulted once, when
// the client is created.
type ContextProvider interface {
	DeviceInfo() DeviceInfo
}

// ContextProviderFunc adapts a function to ContextProvider.
type ContextProviderFunc func() DeviceInfo

// DeviceInfo implements ContextProvider.
func (f ContextProviderFunc) DeviceInfo() DeviceInfo {
	return f()
}

// StaticContext is a ContextProvider returning fixed values.
type StaticContext DeviceInfo

// DeviceInfo implements ContextProvider.
func (s StaticContext) DeviceInfo() DeviceInfo {
	return DeviceInfo(s)
}

// HostContext describes the machine the Go program runs on.
type HostContext struct{}

// DeviceInfo implements ContextProvider.
func (HostContext) DeviceInfo() DeviceInfo {
	return DeviceInfo{
		Platform:    runtime.GOOS,
		DeviceModel: runtime.GOARCH,
		Locale:      localeFromEnv(),
		Timezone:    time.Local.String(),
	}
}

// localeFromEnv reads the POSIX locale variables, "en_US.UTF-8" -> "en_US".
func localeFromEnv() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(key)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		v, _, _ = strings.Cut(v, ".")
		v, _, _ = strings.Cut(v, "@")
		return v
	}
	return ""
}
