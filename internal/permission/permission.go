// Package permission implements the per-member permission bitmask used by
// channel operations.
//
// Every permission is one power-of-two bit. Admin is a bit like any other in
// storage, but the checks in this package treat a member holding Admin as
// satisfying every requirement.
//
// Guards return an error rather than a bool so a privileged mutation reads as
//
//	if err := permission.RequireAny(member.Permissions, permission.ManageChannel); err != nil {
//		return err
//	}
//
// and a check cannot be performed without its outcome being handled.
package permission

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"

	"github.com/foxochat/chat-core/internal/apperror"
)

// Permission is a single bit.
type Permission uint64

const (
	Admin Permission = 1 << iota
	SendMessages
	AttachFiles
	ManageMessages
	ManageChannel
	ManageMembers
	KickMembers
	BanMembers
)

var names = map[Permission]string{
	Admin:          "ADMIN",
	SendMessages:   "SEND_MESSAGES",
	AttachFiles:    "ATTACH_FILES",
	ManageMessages: "MANAGE_MESSAGES",
	ManageChannel:  "MANAGE_CHANNEL",
	ManageMembers:  "MANAGE_MEMBERS",
	KickMembers:    "KICK_MEMBERS",
	BanMembers:     "BAN_MEMBERS",
}

// Default is granted to members joining a channel.
const Default = Set(SendMessages | AttachFiles)

func (p Permission) String() string {
	if n, ok := names[p]; ok {
		return n
	}
	return fmt.Sprintf("PERMISSION(%d)", uint64(p))
}

// Parse resolves a permission by name, case-insensitively.
func Parse(name string) (Permission, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for p, n := range names {
		if n == want {
			return p, nil
		}
	}
	return 0, fmt.Errorf("permission: unknown permission %q", name)
}

// Set is a member's permission mask.
type Set uint64

// Of builds a mask holding exactly ps.
func Of(ps ...Permission) Set {
	var s Set
	s.AddAll(ps...)
	return s
}

func (s *Set) Add(p Permission) {
	*s |= Set(p)
}

func (s *Set) AddAll(ps ...Permission) {
	for _, p := range ps {
		*s |= Set(p)
	}
}

func (s *Set) Remove(p Permission) {
	*s &^= Set(p)
}

// Replace discards the current mask and holds exactly ps.
func (s *Set) Replace(ps ...Permission) {
	*s = Of(ps...)
}

// Has tests a single bit. The zero Permission is never held.
func (s Set) Has(p Permission) bool {
	return p != 0 && uint64(s)&uint64(p) == uint64(p)
}

// HasAny is true when at least one of ps is held.
func (s Set) HasAny(ps ...Permission) bool {
	for _, p := range ps {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// HasAll is true only when every one of ps is held.
func (s Set) HasAll(ps ...Permission) bool {
	for _, p := range ps {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// List returns the held permissions in bit order.
func (s Set) List() []Permission {
	out := make([]Permission, 0, bits.OnesCount64(uint64(s)))
	for p := range names {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Require fails with MissingPermissions unless s holds Admin or every one of
// ps. An empty requirement is denied to anyone but an admin.
func Require(s Set, ps ...Permission) error {
	if s.Has(Admin) {
		return nil
	}
	if len(ps) == 0 || !s.HasAll(ps...) {
		return apperror.MissingPermissions()
	}
	return nil
}

// RequireAny fails with MissingPermissions unless s holds Admin or at least
// one of ps.
func RequireAny(s Set, ps ...Permission) error {
	if s.Has(Admin) {
		return nil
	}
	if !s.HasAny(ps...) {
		return apperror.MissingPermissions()
	}
	return nil
}
