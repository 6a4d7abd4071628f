package negotiation

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// VersionPolicy decides which client versions may use the checkout.
type VersionPolicy struct {
	// MinVersion is the oldest accepted client, e.g. "1.4.0". Empty accepts all.
	MinVersion string
}

// Check returns a *VersionError when version is below the minimum or is not
// a semantic version while a minimum is configured.
func (p VersionPolicy) Check(version string) error {
	if p.MinVersion == "" {
		return nil
	}
	min := normalizeVersion(p.MinVersion)
	v := normalizeVersion(version)

	if !semver.IsValid(v) {
		return &VersionError{
			Code:          ClientUpgradeRequired,
			Message:       fmt.Sprintf("client version %q is not a semantic version", version),
			ClientVersion: version,
			MinVersion:    p.MinVersion,
		}
	}
	if semver.IsValid(min) && semver.Compare(v, min) < 0 {
		return &VersionError{
			Code:          ClientUpgradeRequired,
			Message:       fmt.Sprintf("client version %s is older than the minimum %s", version, p.MinVersion),
			ClientVersion: version,
			MinVersion:    p.MinVersion,
		}
	}
	return nil
}

// VersionError is returned when a client must upgrade.
type VersionError struct {
	Code          string
	Message       string
	ClientVersion string
	MinVersion    string
}

func (e *VersionError) Error() string {
	return e.Message
}

// normalizeVersion adds "v" prefix if needed for semver parsing.
func normalizeVersion(v string) string {
	if v == "" {
		return "v0.0.0"
	}
	if v[0] != 'v' {
		return "v" + v
	}
	return v
}
