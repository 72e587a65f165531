package pkggraph

import "github.com/glowbarn/forge/internal/common"

// BasePackages are part of every image regardless of flags.
var BasePackages = []string{"base-files", "busybox", "glowbarn-core"}

// DefaultRegistry returns the static GlowBarn package registry.
func DefaultRegistry() *Registry {
	reg, err := NewRegistry(
		PackageSpec{ID: "base-files", InstallAction: "pkg/base-files"},
		PackageSpec{ID: "busybox", Requires: []string{"base-files"}, InstallAction: "pkg/busybox"},
		PackageSpec{ID: "glowbarn-core", Requires: []string{"base-files"}, InstallAction: "pkg/glowbarn-core"},
		PackageSpec{ID: "serial-console", Requires: []string{"busybox"}, Feature: "serial", InstallAction: "pkg/serial-console"},
		PackageSpec{ID: "mesa", Requires: []string{"base-files"}, Feature: "gpu", InstallAction: "pkg/mesa"},
		PackageSpec{ID: "gpu-firmware", Requires: []string{"base-files"}, Feature: "gpu", InstallAction: "pkg/gpu-firmware"},
		PackageSpec{ID: "weston", Requires: []string{"mesa"}, Feature: "gui", InstallAction: "pkg/weston"},
		PackageSpec{ID: "glowbarn-dashboard", Requires: []string{"weston", "glowbarn-core"}, Feature: "gui", InstallAction: "pkg/glowbarn-dashboard"},
		PackageSpec{ID: "alsa-utils", Requires: []string{"base-files"}, Feature: "audio", InstallAction: "pkg/alsa-utils"},
		PackageSpec{ID: "glowbarn-evp", Requires: []string{"alsa-utils", "glowbarn-core"}, Feature: "audio", InstallAction: "pkg/glowbarn-evp"},
		PackageSpec{ID: "glowbarn-sensors-i2c", Requires: []string{"glowbarn-core"}, Feature: "sensors-i2c", InstallAction: "pkg/glowbarn-sensors-i2c"},
		PackageSpec{ID: "glowbarn-sensors-gpio", Requires: []string{"glowbarn-core"}, Feature: "sensors-gpio", InstallAction: "pkg/glowbarn-sensors-gpio"},
		PackageSpec{ID: "rtl-sdr", Requires: []string{"base-files"}, Feature: "sensors-sdr", InstallAction: "pkg/rtl-sdr"},
		PackageSpec{ID: "glowbarn-sensors-sdr", Requires: []string{"rtl-sdr", "glowbarn-core"}, Feature: "sensors-sdr", InstallAction: "pkg/glowbarn-sensors-sdr"},
	)
	common.PanicOnError(err)
	return reg
}
