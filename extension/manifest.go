// Package extension discovers, loads, and tears down extensions. The
// manager owns the per-extension lifecycle state machine and the
// persisted enabled/disabled flags; actual extension code runs inside
// the sandbox package.
package extension

import (
	"encoding/json"

	"github.com/Masterminds/semver/v3"

	"github.com/lumen-ide/lumen/errors"
)

// Manifest is the extension.json contract. Entry resolves relative to
// the extension's install directory.
type Manifest struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Entry       string `json:"entry"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`

	// LumenVersion is an optional semver constraint on the host
	// application version, e.g. ">= 0.3".
	LumenVersion string `json:"lumenVersion,omitempty"`
}

// ParseManifest decodes and validates a raw manifest against the host
// version.
func ParseManifest(raw json.RawMessage, hostVersion string) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "decoding manifest")
	}
	if err := m.Validate(hostVersion); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate checks required fields and the host version constraint.
func (m Manifest) Validate(hostVersion string) error {
	if m.Name == "" {
		return errors.New("manifest is missing name")
	}
	if m.Entry == "" {
		return errors.Newf("manifest %s is missing entry", m.Name)
	}
	if m.Version != "" {
		if _, err := semver.NewVersion(m.Version); err != nil {
			return errors.Wrapf(err, "manifest %s has invalid version %q", m.Name, m.Version)
		}
	}
	if m.LumenVersion == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(m.LumenVersion)
	if err != nil {
		return errors.Wrapf(err, "manifest %s has invalid lumenVersion constraint %q", m.Name, m.LumenVersion)
	}
	current, err := semver.NewVersion(hostVersion)
	if err != nil {
		return errors.Wrapf(err, "invalid host version %q", hostVersion)
	}
	if !constraint.Check(current) {
		return errors.Newf("extension %s requires lumen %s, running %s", m.Name, m.LumenVersion, hostVersion)
	}
	return nil
}
