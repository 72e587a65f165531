package users

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PasswdEntry is one record of passwd(5).
type PasswdEntry struct {
	Name     string
	Password string
	UID      int
	GID      int
	Gecos    string
	Home     string
	Shell    string
}

func (e PasswdEntry) String() string {
	return fmt.Sprintf("%s:%s:%d:%d:%s:%s:%s", e.Name, e.Password, e.UID, e.GID, e.Gecos, e.Home, e.Shell)
}

// GroupEntry is one record of group(5).
type GroupEntry struct {
	Name     string
	Password string
	GID      int
	Members  []string
}

func (e GroupEntry) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", e.Name, e.Password, e.GID, strings.Join(e.Members, ","))
}

// HasMember returns whether name is in the member list.
func (e *GroupEntry) HasMember(name string) bool {
	for _, member := range e.Members {
		if member == name {
			return true
		}
	}
	return false
}

// AddMember appends name to the member list if it is not already present.
// Returns whether the entry changed.
func (e *GroupEntry) AddMember(name string) bool {
	if e.HasMember(name) {
		return false
	}
	e.Members = append(e.Members, name)
	return true
}

// ParsePasswd reads passwd(5) records. Blank lines are skipped.
func ParsePasswd(r io.Reader) ([]PasswdEntry, error) {
	var entries []PasswdEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 7 {
			return nil, fmt.Errorf("malformed passwd entry: %q", line)
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("malformed uid in passwd entry %q: %w", line, err)
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("malformed gid in passwd entry %q: %w", line, err)
		}
		entries = append(entries, PasswdEntry{
			Name:     fields[0],
			Password: fields[1],
			UID:      uid,
			GID:      gid,
			Gecos:    fields[4],
			Home:     fields[5],
			Shell:    fields[6],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// WritePasswd serializes passwd(5) records, one per line.
func WritePasswd(w io.Writer, entries []PasswdEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			return err
		}
	}
	return nil
}

// ParseGroup reads group(5) records. Blank lines are skipped. An empty
// member field yields an empty member list, not a list with one empty name.
func ParseGroup(r io.Reader) ([]GroupEntry, error) {
	var entries []GroupEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) != 4 {
			return nil, fmt.Errorf("malformed group entry: %q", line)
		}
		gid, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("malformed gid in group entry %q: %w", line, err)
		}
		var members []string
		for _, member := range strings.Split(fields[3], ",") {
			member = strings.TrimSpace(member)
			if member != "" {
				members = append(members, member)
			}
		}
		entries = append(entries, GroupEntry{
			Name:     fields[0],
			Password: fields[1],
			GID:      gid,
			Members:  members,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// WriteGroup serializes group(5) records, one per line.
func WriteGroup(w io.Writer, entries []GroupEntry) error {
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.String()); err != nil {
			return err
		}
	}
	return nil
}

// LookupPasswd returns a pointer into entries for the named user, or nil.
func LookupPasswd(entries []PasswdEntry, name string) *PasswdEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}

// LookupGroup returns a pointer into entries for the named group, or nil.
func LookupGroup(entries []GroupEntry, name string) *GroupEntry {
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i]
		}
	}
	return nil
}

// NextID returns the first free id at or above floor, considering both the
// ids used in passwd and group records.
func NextID(passwd []PasswdEntry, group []GroupEntry, floor int) int {
	used := map[int]bool{}
	for _, e := range passwd {
		used[e.UID] = true
		used[e.GID] = true
	}
	for _, e := range group {
		used[e.GID] = true
	}
	id := floor
	for used[id] {
		id++
	}
	return id
}
