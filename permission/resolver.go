package permission

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Directory supplies role definitions. Version must increase whenever any
// role's permission set changes so resolver caches can detect staleness;
// a durable implementation typically backs it with a bumped counter row.
type Directory interface {
	PermissionsForRole(ctx context.Context, role string) ([]Permission, error)
	Version(ctx context.Context) (uint64, error)
}

// StaticDirectory is an in-memory Directory for deployments with a fixed
// role catalog configured at startup. Mutations bump the version.
type StaticDirectory struct {
	mu      sync.RWMutex
	roles   map[string][]Permission
	version uint64
}

// NewStaticDirectory builds a directory from a role -> permissions map.
// Unknown roles resolve to no permissions rather than an error.
func NewStaticDirectory(roles map[string][]Permission) *StaticDirectory {
	d := &StaticDirectory{roles: make(map[string][]Permission, len(roles)), version: 1}
	for role, perms := range roles {
		d.roles[role] = append([]Permission(nil), perms...)
	}
	return d
}

// SetRole replaces a role's permission set and bumps the version.
func (d *StaticDirectory) SetRole(role string, perms []Permission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.roles[role] = append([]Permission(nil), perms...)
	d.version++
}

// DeleteRole removes a role and bumps the version.
func (d *StaticDirectory) DeleteRole(role string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.roles, role)
	d.version++
}

// PermissionsForRole implements Directory.
func (d *StaticDirectory) PermissionsForRole(_ context.Context, role string) ([]Permission, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Permission(nil), d.roles[role]...), nil
}

// Version implements Directory.
func (d *StaticDirectory) Version(_ context.Context) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.version, nil
}

// Resolver computes and caches effective permission sets.
//
// Cache staleness is bounded by three triggers, whichever fires first: the
// directory version changing, Invalidate/InvalidateAll being called, or the
// entry's TTL lapsing. With a cooperative directory (version bumped on every
// change) the stale window is one Version round-trip; TTL is the upper bound
// when the directory version is external and lags.
type Resolver struct {
	dir Directory
	ttl time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

type cacheEntry struct {
	roles   string // canonical role-set key
	set     Set
	version uint64
	expires time.Time
}

// NewResolver creates a Resolver. ttl bounds how long a cached set may
// outlive an unobserved directory change; it must be positive.
func NewResolver(dir Directory, ttl time.Duration) (*Resolver, error) {
	if dir == nil {
		return nil, errors.New("permission: nil directory")
	}
	if ttl <= 0 {
		return nil, errors.New("permission: cache TTL must be positive")
	}
	return &Resolver{dir: dir, ttl: ttl, cache: make(map[string]*cacheEntry)}, nil
}

// Effective returns the union of permissions granted by roles. The result is
// shared with the cache: callers must treat it as read-only.
func (r *Resolver) Effective(ctx context.Context, principalID string, roles []string) (Set, error) {
	version, err := r.dir.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("permission: directory version: %w", err)
	}
	roleKey := canonicalRoles(roles)

	r.mu.RLock()
	entry, ok := r.cache[principalID]
	r.mu.RUnlock()
	if ok && entry.version == version && entry.roles == roleKey && time.Now().Before(entry.expires) {
		return entry.set, nil
	}

	set := make(Set)
	for _, role := range roles {
		perms, err := r.dir.PermissionsForRole(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("permission: resolve role %q: %w", role, err)
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}

	r.mu.Lock()
	r.cache[principalID] = &cacheEntry{
		roles:   roleKey,
		set:     set,
		version: version,
		expires: time.Now().Add(r.ttl),
	}
	r.mu.Unlock()

	return set, nil
}

// Authorize reports whether any of the principal's roles grants
// (resource, action). Returns nil on success and ErrDenied otherwise.
func (r *Resolver) Authorize(ctx context.Context, principalID string, roles []string, resource, action string) error {
	set, err := r.Effective(ctx, principalID, roles)
	if err != nil {
		return err
	}
	if !set.Has(resource, action) {
		return fmt.Errorf("%w: %s:%s", ErrDenied, resource, action)
	}
	return nil
}

// Invalidate drops the cached set for one principal, forcing recomputation
// on the next query. Call it when the principal's role assignments change.
func (r *Resolver) Invalidate(principalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, principalID)
}

// InvalidateAll drops every cached set.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]*cacheEntry)
}

func canonicalRoles(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}
