package models

import "time"

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// Grant gives Grantee (a user id or an email, matched exactly) access to a file.
// There is at most one grant per (FileID, Grantee).
type Grant struct {
	ID         string
	FileID     string
	OwnerID    string
	Grantee    string
	Permission Permission
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// AccessLevel is what an identity may do with a file, ordered from least to most.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	AccessRead
	AccessWrite
	AccessOwner
)

func (a AccessLevel) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessOwner:
		return "owner"
	default:
		return "none"
	}
}

// AccessFromPermission maps a grant permission to the access it confers.
func AccessFromPermission(p Permission) AccessLevel {
	switch p {
	case PermissionWrite:
		return AccessWrite
	case PermissionRead:
		return AccessRead
	default:
		return AccessNone
	}
}
