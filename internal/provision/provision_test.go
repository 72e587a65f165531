package provision_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowbarn/forge/internal/buildconfig"
	"github.com/glowbarn/forge/internal/feature"
	"github.com/glowbarn/forge/internal/jsondb"
	"github.com/glowbarn/forge/internal/provision"
	"github.com/glowbarn/forge/internal/users"
)

func newProvisioner(t *testing.T) (*provision.Provisioner, *provision.Tree) {
	t.Helper()
	tree := provision.NewTree(t.TempDir())
	state := jsondb.New(t.TempDir(), 0600)
	return provision.New(tree, state, "test-run"), tree
}

// snapshot captures the whole tree as path -> content (or symlink target),
// so end states can be compared structurally.
func snapshot(t *testing.T, tree *provision.Tree) map[string]string {
	t.Helper()
	result := map[string]string{}
	err := filepath.Walk(tree.Root(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(tree.Root(), path)
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			result[rel] = "-> " + target
		case info.Mode().IsRegular():
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			result[rel] = string(data)
		case info.IsDir():
			result[rel] = "(dir)"
		}
		return nil
	})
	require.NoError(t, err)
	return result
}

func defaultOps(t *testing.T, force bool) []provision.MutationOp {
	t.Helper()
	resolved, err := feature.Resolve(map[string]bool{"sensors-gpio": true, "audio": true})
	require.NoError(t, err)
	ops, err := provision.DefaultOps(buildconfig.Default(), resolved, force)
	require.NoError(t, err)
	return ops
}

func TestApplyCreatesExpectedTree(t *testing.T) {
	p, tree := newProvisioner(t)

	changed, err := p.Apply(defaultOps(t, false))
	require.NoError(t, err)
	assert.Greater(t, changed, 0)

	passwd, err := tree.ReadFile("/etc/passwd")
	require.NoError(t, err)
	assert.Contains(t, string(passwd), "glowbarn:")

	group, err := tree.ReadFile("/etc/group")
	require.NoError(t, err)
	assert.Contains(t, string(group), "gpio:")
	assert.Contains(t, string(group), "glowbarn")

	hostname, err := tree.ReadFile("/etc/hostname")
	require.NoError(t, err)
	assert.Equal(t, "glowbarn\n", string(hostname))

	unitFile, err := tree.ReadFile("/etc/systemd/system/glowbarn.service")
	require.NoError(t, err)
	assert.Contains(t, string(unitFile), "ExecStart=/opt/glowbarn/bin/glowbarn")

	link, err := os.Readlink(tree.Path("/etc/systemd/system/multi-user.target.wants/glowbarn.service"))
	require.NoError(t, err)
	assert.Equal(t, "../glowbarn.service", link)
}

func TestApplyTwiceIsIdempotent(t *testing.T) {
	p, tree := newProvisioner(t)

	_, err := p.Apply(defaultOps(t, false))
	require.NoError(t, err)
	once := snapshot(t, tree)

	changed, err := p.Apply(defaultOps(t, false))
	require.NoError(t, err)
	assert.Equal(t, 0, changed)

	twice := snapshot(t, tree)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("tree changed on second apply (-once +twice):\n%s", diff)
	}
}

func TestApplyNeverDuplicatesGroupMembers(t *testing.T) {
	p, tree := newProvisioner(t)

	for i := 0; i < 3; i++ {
		_, err := p.Apply(defaultOps(t, false))
		require.NoError(t, err)
	}

	groupData, err := tree.ReadFile("/etc/group")
	require.NoError(t, err)
	assert.NotContains(t, string(groupData), ",,")

	entries, err := users.ParseGroup(bytes.NewReader(groupData))
	require.NoError(t, err)
	for _, entry := range entries {
		seen := map[string]bool{}
		for _, member := range entry.Members {
			assert.NotEmpty(t, member, "empty member in group %q", entry.Name)
			assert.False(t, seen[member], "member %q duplicated in group %q", member, entry.Name)
			seen[member] = true
		}
	}
}

func TestEnsureUserAdoptsExistingPrimaryGroup(t *testing.T) {
	p, tree := newProvisioner(t)

	// the primary group may predate the user, e.g. after a repaired run
	require.NoError(t, tree.WriteFile("/etc/group", []byte("glowbarn:x:500:\n"), 0644))

	_, err := p.Apply(defaultOps(t, false))
	require.NoError(t, err)

	passwdData, err := tree.ReadFile("/etc/passwd")
	require.NoError(t, err)
	passwd, err := users.ParsePasswd(bytes.NewReader(passwdData))
	require.NoError(t, err)

	entry := users.LookupPasswd(passwd, "glowbarn")
	require.NotNil(t, entry)
	assert.Equal(t, 500, entry.GID)

	groupData, err := tree.ReadFile("/etc/group")
	require.NoError(t, err)
	group, err := users.ParseGroup(bytes.NewReader(groupData))
	require.NoError(t, err)

	primary := users.LookupGroup(group, "glowbarn")
	require.NotNil(t, primary)
	assert.Equal(t, 500, primary.GID)
}

func TestMaterializeConfigPreservesHandEdits(t *testing.T) {
	p, tree := newProvisioner(t)

	_, err := p.Apply(defaultOps(t, false))
	require.NoError(t, err)

	// a user edits the config after first boot
	require.NoError(t, tree.WriteFile("/etc/glowbarn/config.toml", []byte("# hand edited\n"), 0644))

	_, err = p.Apply(defaultOps(t, false))
	require.NoError(t, err)

	content, err := tree.ReadFile("/etc/glowbarn/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "# hand edited\n", string(content))
}

func TestMaterializeConfigForceOverwrites(t *testing.T) {
	p, tree := newProvisioner(t)

	_, err := p.Apply(defaultOps(t, false))
	require.NoError(t, err)
	require.NoError(t, tree.WriteFile("/etc/glowbarn/config.toml", []byte("# hand edited\n"), 0644))

	_, err = p.Apply(defaultOps(t, true))
	require.NoError(t, err)

	content, err := tree.ReadFile("/etc/glowbarn/config.toml")
	require.NoError(t, err)
	assert.NotEqual(t, "# hand edited\n", string(content))
	assert.Contains(t, string(content), "data_directory")
}

func TestApplyRecordsResumeIndexOnFailure(t *testing.T) {
	treeDir := t.TempDir()
	stateDir := t.TempDir()
	tree := provision.NewTree(treeDir)
	state := jsondb.New(stateDir, 0600)
	p := provision.New(tree, state, "resume-run")

	// corrupt /etc/group so the membership op fails mid-sequence
	require.NoError(t, tree.WriteFile("/etc/group", []byte("not:a:valid\n"), 0644))

	ops := defaultOps(t, false)
	_, err := p.Apply(ops)
	require.Error(t, err)

	var partial *provision.PartialProvisionError
	require.ErrorAs(t, err, &partial)
	assert.Contains(t, partial.Key, "glowbarn")

	// repair the tree and resume; the run must pick up at the failed op
	require.NoError(t, tree.WriteFile("/etc/group", []byte("glowbarn:x:1000:\n"), 0644))

	_, err = p.Apply(ops)
	require.NoError(t, err)

	link, err := os.Readlink(tree.Path("/etc/systemd/system/multi-user.target.wants/glowbarn.service"))
	require.NoError(t, err)
	assert.Equal(t, "../glowbarn.service", link)
}

func TestEnableServiceRejectsBadUnitNames(t *testing.T) {
	p, _ := newProvisioner(t)

	ops := []provision.MutationOp{
		{Kind: provision.OpEnableService, Key: "enable-service/bad", Unit: "../../etc/shadow"},
	}
	_, err := p.Apply(ops)
	require.Error(t, err)

	var partial *provision.PartialProvisionError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 0, partial.OpIndex)
}
