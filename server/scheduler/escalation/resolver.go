package escalation

import (
	"context"
	"strings"
	"sync"

	serviceerrors "github.com/remindkit/remindkit/server/internal/errors"
)

// TargetResolver resolves one kind of escalation target descriptor to a
// concrete recipient identity. Unresolvable descriptors return a NOT_FOUND
// error, never a panic.
type TargetResolver interface {
	Resolve(ctx context.Context, value string) (string, error)
}

// ResolverRegistry routes target descriptors ("kind:value", bare values are
// direct users) to the registered resolver for that kind.
type ResolverRegistry struct {
	mu        sync.RWMutex
	resolvers map[string]TargetResolver
}

// NewResolverRegistry creates a registry with the direct-user resolver
// installed.
func NewResolverRegistry() *ResolverRegistry {
	r := &ResolverRegistry{resolvers: map[string]TargetResolver{}}
	r.Register("user", DirectUserResolver{})
	return r
}

// Register installs a resolver for a target kind.
func (r *ResolverRegistry) Register(kind string, resolver TargetResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[kind] = resolver
}

// Resolve maps a target descriptor to a recipient identity.
func (r *ResolverRegistry) Resolve(ctx context.Context, descriptor string) (string, error) {
	kind, value := "user", descriptor
	if before, after, found := strings.Cut(descriptor, ":"); found && before != "" {
		kind, value = before, after
	}

	r.mu.RLock()
	resolver, ok := r.resolvers[kind]
	r.mu.RUnlock()
	if !ok {
		// manager/team-lead/executive and other org-directory kinds stay
		// unresolved until a directory integration registers them.
		return "", serviceerrors.NotFound("escalation target kind", kind)
	}
	return resolver.Resolve(ctx, value)
}

// DirectUserResolver resolves a bare user identifier to itself.
type DirectUserResolver struct{}

// Resolve implements TargetResolver.
func (DirectUserResolver) Resolve(_ context.Context, value string) (string, error) {
	if value == "" {
		return "", serviceerrors.NotFound("escalation target", value)
	}
	return value, nil
}
