package provision

import (
	"io"

	"github.com/coreos/go-systemd/v22/unit"

	"github.com/glowbarn/forge/internal/buildconfig"
	"github.com/glowbarn/forge/internal/common"
	"github.com/glowbarn/forge/internal/feature"
	"github.com/glowbarn/forge/internal/users"
)

// serviceUnit renders the glowbarn systemd service unit.
func serviceUnit() ([]byte, error) {
	opts := []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "GlowBarn sensor platform"),
		unit.NewUnitOption("Unit", "After", "network.target"),
		unit.NewUnitOption("Service", "Type", "simple"),
		unit.NewUnitOption("Service", "ExecStart", "/opt/glowbarn/bin/glowbarn"),
		unit.NewUnitOption("Service", "User", "glowbarn"),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "WorkingDirectory", "/opt/glowbarn"),
		unit.NewUnitOption("Install", "WantedBy", "multi-user.target"),
	}
	return io.ReadAll(unit.Serialize(opts))
}

// DefaultOps derives the ordered mutation op list for one provisioning run
// from the build config and the resolved feature set. The list is computed
// once per run; order matters, e.g. the service enablement relies on the
// unit file materialized before it.
func DefaultOps(config *buildconfig.Config, resolved *feature.ResolvedSet, force bool) ([]MutationOp, error) {
	ops := []MutationOp{
		{Kind: OpEnsureDir, Key: "ensure-dir/opt-glowbarn", Path: "/opt/glowbarn"},
		{Kind: OpEnsureDir, Key: "ensure-dir/var-lib-glowbarn-data", Path: "/var/lib/glowbarn/data"},
		{Kind: OpEnsureDir, Key: "ensure-dir/etc-glowbarn", Path: "/etc/glowbarn"},
		{
			Kind: OpEnsureUser,
			Key:  "ensure-user/glowbarn",
			User: &users.User{
				Name:        "glowbarn",
				Description: common.ToPtr("GlowBarn service"),
				Home:        common.ToPtr("/opt/glowbarn"),
				Shell:       common.ToPtr("/bin/false"),
			},
		},
	}

	// hardware access groups, gated on the features that need them
	memberships := []struct {
		feature string
		group   string
	}{
		{"sensors-gpio", "gpio"},
		{"sensors-i2c", "i2c"},
		{"audio", "audio"},
		{"sensors-sdr", "plugdev"},
	}
	for _, m := range memberships {
		if resolved.Enabled(m.feature) {
			ops = append(ops, MutationOp{
				Kind:   OpEnsureGroupMembership,
				Key:    "ensure-group-membership/" + m.group + "/glowbarn",
				Group:  m.group,
				Member: "glowbarn",
			})
		}
	}

	hostname := config.GetHostname()
	ops = append(ops, MutationOp{
		Kind:    OpMaterializeConfig,
		Key:     "materialize-config/etc-hostname",
		Path:    "/etc/hostname",
		Content: []byte(hostname + "\n"),
		Force:   force,
	})
	ops = append(ops, MutationOp{
		Kind:    OpMaterializeConfig,
		Key:     "materialize-config/etc-timezone",
		Path:    "/etc/timezone",
		Content: []byte(config.GetTimezone() + "\n"),
		Force:   force,
	})

	appConfig, err := config.RenderAppConfig()
	if err != nil {
		return nil, err
	}
	ops = append(ops, MutationOp{
		Kind:    OpMaterializeConfig,
		Key:     "materialize-config/etc-glowbarn-config",
		Path:    "/etc/glowbarn/config.toml",
		Content: appConfig,
		Force:   force,
	})

	unitFile, err := serviceUnit()
	if err != nil {
		return nil, err
	}
	ops = append(ops, MutationOp{
		Kind:    OpMaterializeConfig,
		Key:     "materialize-config/glowbarn-service-unit",
		Path:    "/etc/systemd/system/glowbarn.service",
		Content: unitFile,
		Force:   force,
	})

	for _, service := range config.GetEnabledServices() {
		ops = append(ops, MutationOp{
			Kind: OpEnableService,
			Key:  "enable-service/" + service,
			Unit: service,
		})
	}

	return ops, nil
}
