package plugin

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Dependency is one parsed manifest dependency: "id" or "id@constraint".
type Dependency struct {
	ID         string
	Constraint *semver.Constraints
	raw        string
}

func (d Dependency) String() string { return d.raw }

// ParseDependency parses a manifest dependency entry.
func ParseDependency(s string) (Dependency, error) {
	id, constraint, hasConstraint := strings.Cut(strings.TrimSpace(s), "@")
	if id == "" {
		return Dependency{}, fmt.Errorf("dependency %q: missing plugin id", s)
	}
	d := Dependency{ID: id, raw: s}
	if hasConstraint {
		c, err := semver.NewConstraint(constraint)
		if err != nil {
			return Dependency{}, fmt.Errorf("dependency %q: %w", s, err)
		}
		d.Constraint = c
	}
	return d, nil
}

// CheckDependencies returns one message per dependency of m that is not
// satisfied by the versions reported by lookup. Unmet dependencies are
// warnings; they never block loading.
func CheckDependencies(m Manifest, lookup func(id string) (version string, ok bool)) []string {
	var problems []string
	for _, raw := range m.Dependencies {
		dep, err := ParseDependency(raw)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}

		version, ok := lookup(dep.ID)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: not loaded", dep.ID))
			continue
		}
		if dep.Constraint == nil {
			continue
		}

		v, err := semver.NewVersion(version)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: bad version %q", dep.ID, version))
			continue
		}
		if ok, errs := dep.Constraint.Validate(v); !ok {
			for _, e := range errs {
				problems = append(problems, fmt.Sprintf("%s: %v", dep.ID, e))
			}
		}
	}
	return problems
}
