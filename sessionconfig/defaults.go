package sessionconfig

import (
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// Defaults are the deployment-time fallbacks Resolve returns when a slot has
// nothing persisted. Only the node URL and application id have defaults.
type Defaults struct {
	// NodeURL like "http://localhost:2428". ENV: NODE_URL
	NodeURL string `env:"NODE_URL"`
	// ApplicationID of the installed application. ENV: APPLICATION_ID
	ApplicationID string `env:"APPLICATION_ID"`
}

// DefaultsFromEnv populates Defaults from the process environment. Unset
// variables leave the corresponding default empty.
func DefaultsFromEnv() (Defaults, error) {
	var d Defaults
	if err := envdecode.Decode(&d); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Defaults{}, fmt.Errorf("sessionconfig: decode defaults: %w", err)
	}
	return d, nil
}

// For returns the default for slot and whether one is configured.
func (d Defaults) For(slot Slot) (string, bool) {
	var v string
	switch slot {
	case NodeURL:
		v = d.NodeURL
	case ApplicationID:
		v = d.ApplicationID
	}
	return v, v != ""
}
