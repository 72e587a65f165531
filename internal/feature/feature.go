// Package feature maps build flags to the set of features, packages and
// build options a GlowBarn image is composed from.
//
// Resolution is a pure function over the static flag table: the same input
// map always yields the same ResolvedSet, in the same order.
package feature

import (
	"fmt"
	"sort"

	"github.com/glowbarn/forge/internal/common"
)

// Flag describes one build flag: its default value, the features it
// transitively implies and the packages and build options it contributes
// when enabled.
type Flag struct {
	Name         string
	Default      bool
	Implies      []string
	Packages     []string
	BuildOptions []string
}

// A ConfigurationError is returned when the input contains a flag name that
// is not present in the flag table.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// ResolvedSet is the result of resolving a flag map: the enabled feature
// closure and everything it pulls in.
type ResolvedSet struct {
	// Features contains the enabled feature names, sorted.
	Features []string
	// Packages contains the contributed package ids in flag-table
	// declaration order, without duplicates.
	Packages []string
	// BuildOptions contains the contributed build options in flag-table
	// declaration order, without duplicates.
	BuildOptions []string
}

// Enabled returns whether the named feature is part of the resolved closure.
func (rs *ResolvedSet) Enabled(name string) bool {
	return common.IsStringInSortedSlice(rs.Features, name)
}

// flags is the static flag table. Declaration order is meaningful: package
// and build-option lists in a ResolvedSet follow it.
var flags = []Flag{
	{
		Name:         "serial",
		Default:      true,
		Packages:     []string{"serial-console"},
		BuildOptions: []string{"console=ttyS0"},
	},
	{
		Name:     "gpu",
		Packages: []string{"mesa", "gpu-firmware"},
	},
	{
		Name:         "gui",
		Implies:      []string{"gpu"},
		Packages:     []string{"weston", "glowbarn-dashboard"},
		BuildOptions: []string{"graphics=wayland"},
	},
	{
		Name:     "audio",
		Packages: []string{"alsa-utils", "glowbarn-evp"},
	},
	{
		Name:     "sensors-i2c",
		Default:  true,
		Packages: []string{"glowbarn-sensors-i2c"},
	},
	{
		Name:     "sensors-gpio",
		Packages: []string{"glowbarn-sensors-gpio"},
	},
	{
		Name:         "sensors-sdr",
		Implies:      []string{"serial"},
		Packages:     []string{"rtl-sdr", "glowbarn-sensors-sdr"},
		BuildOptions: []string{"usb-host=on"},
	},
}

var flagIndex = func() map[string]int {
	index := make(map[string]int, len(flags))
	for i, f := range flags {
		index[f.Name] = i
	}
	return index
}()

// Names returns all known flag names in declaration order.
func Names() []string {
	names := make([]string, len(flags))
	for i, f := range flags {
		names[i] = f.Name
	}
	return names
}

// Lookup returns the flag table entry for the given name.
func Lookup(name string) (Flag, bool) {
	i, ok := flagIndex[name]
	if !ok {
		return Flag{}, false
	}
	return flags[i], true
}

// Resolve computes the enabled feature closure for the given flag values and
// the union of packages and build options the closure contributes. Flags not
// present in the input keep their defaults. An unknown flag name yields a
// ConfigurationError.
func Resolve(input map[string]bool) (*ResolvedSet, error) {
	for name := range input {
		if _, ok := flagIndex[name]; !ok {
			return nil, &ConfigurationError{fmt.Sprintf("unknown feature flag: %q", name)}
		}
	}

	enabled := make(map[string]bool, len(flags))
	for _, f := range flags {
		value := f.Default
		if v, ok := input[f.Name]; ok {
			value = v
		}
		if value {
			enabled[f.Name] = true
		}
	}

	// transitive closure over Implies; the table is static and small, so a
	// simple worklist is enough
	worklist := make([]string, 0, len(enabled))
	for name := range enabled {
		worklist = append(worklist, name)
	}
	for len(worklist) > 0 {
		name := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, implied := range flags[flagIndex[name]].Implies {
			if !enabled[implied] {
				enabled[implied] = true
				worklist = append(worklist, implied)
			}
		}
	}

	rs := &ResolvedSet{}
	seenPkg := map[string]bool{}
	seenOpt := map[string]bool{}
	for _, f := range flags {
		if !enabled[f.Name] {
			continue
		}
		rs.Features = append(rs.Features, f.Name)
		for _, pkg := range f.Packages {
			if !seenPkg[pkg] {
				seenPkg[pkg] = true
				rs.Packages = append(rs.Packages, pkg)
			}
		}
		for _, opt := range f.BuildOptions {
			if !seenOpt[opt] {
				seenOpt[opt] = true
				rs.BuildOptions = append(rs.BuildOptions, opt)
			}
		}
	}
	sort.Strings(rs.Features)

	return rs, nil
}
