// Package permission computes effective permissions from role assignments
// and answers authorization queries.
//
// A Permission is a (resource, action) pair; a principal's effective set is
// the union of the permissions granted by every role assigned to it. The
// resolution is a pure function of the role set and the role directory's
// contents, which makes it cacheable: the resolver memoizes per principal
// and invalidates on a directory version bump, an explicit invalidation, or
// a bounded TTL, so stale grants are never held longer than the TTL.
package permission

import (
	"errors"
	"sort"
	"strings"
)

// ErrDenied is returned by Authorize when no assigned role grants the
// requested capability.
var ErrDenied = errors.New("permission: denied")

// Permission identifies one grantable capability. Equality is structural.
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Parse splits a "resource:action" key into a Permission.
func Parse(key string) (Permission, error) {
	resource, action, ok := strings.Cut(key, ":")
	if !ok || resource == "" || action == "" {
		return Permission{}, errors.New("permission: key must be resource:action")
	}
	return Permission{Resource: resource, Action: action}, nil
}

// Set is an explicit tagged set of permissions.
type Set map[Permission]struct{}

// NewSet builds a Set from individual permissions.
func NewSet(perms ...Permission) Set {
	s := make(Set, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether the set grants (resource, action).
func (s Set) Has(resource, action string) bool {
	_, ok := s[Permission{Resource: resource, Action: action}]
	return ok
}

// Keys returns the sorted "resource:action" keys, mainly for introspection
// and tests.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for p := range s {
		keys = append(keys, p.String())
	}
	sort.Strings(keys)
	return keys
}
