package pluginmanifest

import (
	"fmt"
	"strings"
)

// RuntimeFacts describes the host environment a manifest is checked
// against. A nil *RuntimeFacts passed to CheckCompatibility skips the
// check entirely (SPEC_FULL.md §3 supplement: opt-in compatibility gate).
type RuntimeFacts struct {
	Platform     string
	Architecture string
	HostVersion  string
}

// CheckCompatibility validates m.MinHostVersion against facts.HostVersion
// using semantic-version comparison. It is intentionally narrower than the
// teacher's full requirements engine (no platform/architecture allow-lists
// exist in spec.md's manifest schema) but follows the same hand-rolled
// semver comparator, since no semver library appears anywhere in the
// example corpus.
func CheckCompatibility(m Manifest, facts *RuntimeFacts) error {
	if facts == nil {
		return nil
	}
	minVersion := strings.TrimSpace(m.MinHostVersion)
	hostVersion := strings.TrimSpace(facts.HostVersion)
	if minVersion == "" {
		return nil
	}
	if hostVersion == "" {
		return fmt.Errorf("plugin %s requires host version >= %s but host version is unknown", m.PluginID, minVersion)
	}
	cmp, err := compareSemver(hostVersion, minVersion)
	if err != nil {
		return fmt.Errorf("plugin %s has invalid host version %q: %w", m.PluginID, hostVersion, err)
	}
	if cmp < 0 {
		return fmt.Errorf("plugin %s requires host version >= %s but host version is %s", m.PluginID, minVersion, hostVersion)
	}
	return nil
}

type semverParts struct {
	major, minor, patch int
	prerelease          string
}

func compareSemver(left, right string) (int, error) {
	lhs, err := parseSemver(left)
	if err != nil {
		return 0, err
	}
	rhs, err := parseSemver(right)
	if err != nil {
		return 0, err
	}
	if lhs.major != rhs.major {
		return sign(lhs.major - rhs.major), nil
	}
	if lhs.minor != rhs.minor {
		return sign(lhs.minor - rhs.minor), nil
	}
	if lhs.patch != rhs.patch {
		return sign(lhs.patch - rhs.patch), nil
	}
	if lhs.prerelease == rhs.prerelease {
		return 0, nil
	}
	if lhs.prerelease == "" {
		return 1, nil
	}
	if rhs.prerelease == "" {
		return -1, nil
	}
	if lhs.prerelease < rhs.prerelease {
		return -1, nil
	}
	return 1, nil
}

func sign(n int) int {
	if n < 0 {
		return -1
	}
	if n > 0 {
		return 1
	}
	return 0
}

func parseSemver(value string) (semverParts, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return semverParts{}, fmt.Errorf("version is empty")
	}
	withoutBuild := trimmed
	if idx := strings.Index(withoutBuild, "+"); idx >= 0 {
		withoutBuild = withoutBuild[:idx]
	}
	prerelease := ""
	core := withoutBuild
	if idx := strings.Index(core, "-"); idx >= 0 {
		prerelease = core[idx+1:]
		core = core[:idx]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return semverParts{}, fmt.Errorf("version %q is not a semantic version", value)
	}
	major, err := parseNumericComponent(parts[0])
	if err != nil {
		return semverParts{}, err
	}
	minor, err := parseNumericComponent(parts[1])
	if err != nil {
		return semverParts{}, err
	}
	patch, err := parseNumericComponent(parts[2])
	if err != nil {
		return semverParts{}, err
	}
	return semverParts{major: major, minor: minor, patch: patch, prerelease: prerelease}, nil
}

func parseNumericComponent(value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("invalid numeric component: %q", value)
	}
	n := 0
	for _, r := range value {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid numeric component: %q", value)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
