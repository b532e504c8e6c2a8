// Package flags defines the bit-flag types stored in the shared memory
// region. Each type combines independent boolean facets into one integer
// whose width is part of the cross-process binary layout, so the underlying
// types here must never change without bumping every process in lockstep.
package flags

import "strings"

// Kind classifies a package by size. Exactly one kind bit is set on a valid
// package; the kind determines its fixed volume.
type Kind uint8

const (
	KindNone   Kind = 0
	KindSmall  Kind = 1 << 0
	KindMedium Kind = 1 << 1
	KindLarge  Kind = 1 << 2
)

// Has reports whether all bits of f are set.
func (k Kind) Has(f Kind) bool { return k&f == f && f != 0 }

func (k Kind) String() string {
	switch k {
	case KindSmall:
		return "small"
	case KindMedium:
		return "medium"
	case KindLarge:
		return "large"
	case KindNone:
		return "none"
	}
	return "invalid"
}

// Status carries package delivery facets. Unlike Kind, status bits combine:
// an express package that has been loaded is Express|Loaded.
type Status uint8

const (
	StatusNormal  Status = 0
	StatusExpress Status = 1 << 0
	StatusLoaded  Status = 1 << 1
)

// Has reports whether all bits of f are set.
func (s Status) Has(f Status) bool { return s&f == f && f != 0 }

// Role is a session permission mask. Roles combine freely: a user can be
// Operator and SysAdmin at the same time.
type Role uint16

const (
	RoleNone     Role = 0
	RoleViewer   Role = 1 << 0
	RoleOperator Role = 1 << 1
	RoleOrgAdmin Role = 1 << 2
	RoleSysAdmin Role = 1 << 3
)

// Has reports whether all bits of f are set.
func (r Role) Has(f Role) bool { return r&f == f && f != 0 }

func (r Role) String() string {
	if r == RoleNone {
		return "none"
	}
	var parts []string
	if r.Has(RoleViewer) {
		parts = append(parts, "viewer")
	}
	if r.Has(RoleOperator) {
		parts = append(parts, "operator")
	}
	if r.Has(RoleOrgAdmin) {
		parts = append(parts, "org-admin")
	}
	if r.Has(RoleSysAdmin) {
		parts = append(parts, "sys-admin")
	}
	return strings.Join(parts, "|")
}

// Action tags an entry in a package audit log. The low nibble says what
// happened, the high nibble says who did it.
type Action uint8

const (
	ActionNone          Action = 0
	ActionCreated       Action = 1 << 0
	ActionPlacedOnBelt  Action = 1 << 1
	ActionPickedUp      Action = 1 << 2
	ActionLoadedToTruck Action = 1 << 3

	ActionByWorker  Action = 1 << 4
	ActionByExpress Action = 1 << 5
	ActionByTruck   Action = 1 << 6
	ActionForced    Action = 1 << 7
)

// Has reports whether all bits of f are set.
func (a Action) Has(f Action) bool { return a&f == f && f != 0 }
