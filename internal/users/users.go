// Package users models the system identity files of an image root.
//
// Entries are parsed into structured records, mutated in memory and
// serialized back as a whole. There is no text-level editing of the files.
package users

type User struct {
	Name        string
	Description *string
	Password    *string
	Home        *string
	Shell       *string
	Groups      []string
	UID         *int
	GID         *int
}

type Group struct {
	Name string
	GID  *int
}
