package provision

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/glowbarn/forge/internal/users"
)

type OpKind string

const (
	OpEnsureDir             OpKind = "ensure-dir"
	OpEnsureUser            OpKind = "ensure-user"
	OpEnsureGroupMembership OpKind = "ensure-group-membership"
	OpEnableService         OpKind = "enable-service"
	OpMaterializeConfig     OpKind = "materialize-config"
)

// MutationOp is one idempotent step of provisioning a staged root. Applying
// an op whose target already satisfies it changes nothing.
type MutationOp struct {
	Kind OpKind
	// Key identifies the op for state markers and error reports, e.g.
	// "ensure-user/glowbarn".
	Key string

	// ensure-dir and materialize-config
	Path string
	Mode os.FileMode

	// ensure-user
	User *users.User

	// ensure-group-membership
	Group  string
	Member string

	// enable-service
	Unit string

	// materialize-config
	Content []byte
	Force   bool
}

// apply performs the op against the tree. Returns whether anything changed.
func (op *MutationOp) apply(tree *Tree) (bool, error) {
	switch op.Kind {
	case OpEnsureDir:
		return op.applyEnsureDir(tree)
	case OpEnsureUser:
		return op.applyEnsureUser(tree)
	case OpEnsureGroupMembership:
		return op.applyEnsureGroupMembership(tree)
	case OpEnableService:
		return op.applyEnableService(tree)
	case OpMaterializeConfig:
		return op.applyMaterializeConfig(tree)
	}
	return false, fmt.Errorf("unknown mutation op kind: %q", op.Kind)
}

func (op *MutationOp) applyEnsureDir(tree *Tree) (bool, error) {
	mode := op.Mode
	if mode == 0 {
		mode = 0755
	}
	existed, err := tree.Exists(op.Path)
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(tree.Path(op.Path), mode); err != nil {
		return false, err
	}
	return !existed, nil
}

func (op *MutationOp) applyEnsureUser(tree *Tree) (bool, error) {
	passwdData, err := tree.ReadFile("/etc/passwd")
	if err != nil {
		return false, err
	}
	passwd, err := users.ParsePasswd(bytes.NewReader(passwdData))
	if err != nil {
		return false, err
	}

	// identity-keyed check: the user name is the idempotency key here
	if users.LookupPasswd(passwd, op.User.Name) != nil {
		return false, nil
	}

	groupData, err := tree.ReadFile("/etc/group")
	if err != nil {
		return false, err
	}
	group, err := users.ParseGroup(bytes.NewReader(groupData))
	if err != nil {
		return false, err
	}

	uid := users.NextID(passwd, group, 1000)
	if op.User.UID != nil {
		uid = *op.User.UID
	}
	gid := uid
	if op.User.GID != nil {
		gid = *op.User.GID
	}

	// the primary group mirrors the user; when it already exists, the passwd
	// record must point at its gid, not a freshly derived one
	if primary := users.LookupGroup(group, op.User.Name); primary != nil {
		if op.User.GID == nil {
			gid = primary.GID
		}
	} else {
		group = append(group, users.GroupEntry{
			Name:     op.User.Name,
			Password: "x",
			GID:      gid,
		})
	}

	home := "/home/" + op.User.Name
	if op.User.Home != nil {
		home = *op.User.Home
	}
	shell := "/bin/sh"
	if op.User.Shell != nil {
		shell = *op.User.Shell
	}
	gecos := ""
	if op.User.Description != nil {
		gecos = *op.User.Description
	}
	password := "x"
	if op.User.Password != nil {
		password = *op.User.Password
	}
	passwd = append(passwd, users.PasswdEntry{
		Name:     op.User.Name,
		Password: password,
		UID:      uid,
		GID:      gid,
		Gecos:    gecos,
		Home:     home,
		Shell:    shell,
	})

	var passwdBuf, groupBuf bytes.Buffer
	if err := users.WritePasswd(&passwdBuf, passwd); err != nil {
		return false, err
	}
	if err := users.WriteGroup(&groupBuf, group); err != nil {
		return false, err
	}
	if err := tree.WriteFile("/etc/passwd", passwdBuf.Bytes(), 0644); err != nil {
		return false, err
	}
	if err := tree.WriteFile("/etc/group", groupBuf.Bytes(), 0644); err != nil {
		return false, err
	}
	return true, nil
}

func (op *MutationOp) applyEnsureGroupMembership(tree *Tree) (bool, error) {
	groupData, err := tree.ReadFile("/etc/group")
	if err != nil {
		return false, err
	}
	group, err := users.ParseGroup(bytes.NewReader(groupData))
	if err != nil {
		return false, err
	}

	entry := users.LookupGroup(group, op.Group)
	if entry == nil {
		group = append(group, users.GroupEntry{
			Name:     op.Group,
			Password: "x",
			GID:      users.NextID(nil, group, 100),
		})
		entry = &group[len(group)-1]
	}

	if !entry.AddMember(op.Member) {
		return false, nil
	}

	var buf bytes.Buffer
	if err := users.WriteGroup(&buf, group); err != nil {
		return false, err
	}
	if err := tree.WriteFile("/etc/group", buf.Bytes(), 0644); err != nil {
		return false, err
	}
	return true, nil
}

func (op *MutationOp) applyEnableService(tree *Tree) (bool, error) {
	if !strings.HasSuffix(op.Unit, ".service") && !strings.HasSuffix(op.Unit, ".target") {
		return false, fmt.Errorf("cannot enable %q: not a service or target unit", op.Unit)
	}
	if strings.ContainsAny(op.Unit, "/ ") {
		return false, fmt.Errorf("invalid unit name: %q", op.Unit)
	}

	wantsDir := "/etc/systemd/system/multi-user.target.wants"
	linkPath := tree.Path(path.Join(wantsDir, op.Unit))
	linkTarget := "../" + op.Unit

	if current, err := os.Readlink(linkPath); err == nil {
		if current == linkTarget {
			return false, nil
		}
		if err := os.Remove(linkPath); err != nil {
			return false, err
		}
	} else if !os.IsNotExist(err) {
		return false, err
	}

	if err := os.MkdirAll(tree.Path(wantsDir), 0755); err != nil {
		return false, err
	}
	if err := os.Symlink(linkTarget, linkPath); err != nil {
		return false, err
	}
	return true, nil
}

func (op *MutationOp) applyMaterializeConfig(tree *Tree) (bool, error) {
	exists, err := tree.Exists(op.Path)
	if err != nil {
		return false, err
	}
	// hand-edited configuration survives reruns unless force was requested
	if exists && !op.Force {
		return false, nil
	}
	mode := op.Mode
	if mode == 0 {
		mode = 0644
	}
	if err := tree.WriteFile(op.Path, op.Content, mode); err != nil {
		return false, err
	}
	return true, nil
}
