// Package tenant resolves inbound request credentials to a tenant id and
// scopes workspace paths, job queries, and conductor storage (spec §4
// Tenant Resolver). Grounded on the teacher's runtime/agent/session.Store
// shape: a small lookup interface plus an in-memory reference
// implementation used by tests and single-process deployments.
package tenant

import (
	"context"
	"sync"

	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/ident"
)

// Default is the reserved tenant used when authentication is disabled
// (spec §3 "TenantId").
const Default = "default"

// Resolver maps a credential to a tenant id.
type Resolver interface {
	// Resolve returns the tenant id for credential, or a KindValidation
	// error wrapping "unknown credential" (surfaced by HTTP callers as 401
	// per spec §6).
	Resolve(ctx context.Context, credential string) (string, error)
}

// StaticResolver is a fixed credential->tenant map, suitable for
// single-process deployments and tests. AuthDisabled short-circuits every
// lookup to Default, matching spec §6 "When authentication is disabled,
// tenant = default".
type StaticResolver struct {
	mu            sync.RWMutex
	credentials   map[string]string
	AuthDisabled  bool
}

// NewStaticResolver builds a StaticResolver from a credential->tenant map.
// Every tenant id is validated eagerly so a bad config fails at startup
// rather than on the first request.
func NewStaticResolver(credentials map[string]string, authDisabled bool) (*StaticResolver, error) {
	m := make(map[string]string, len(credentials))
	for cred, tenantID := range credentials {
		v, err := ident.Validate(tenantID, ident.KindTenant)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err)
		}
		m[cred] = v
	}
	return &StaticResolver{credentials: m, AuthDisabled: authDisabled}, nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, credential string) (string, error) {
	if r.AuthDisabled {
		return Default, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenantID, ok := r.credentials[credential]
	if !ok {
		return "", errs.New(errs.KindValidation, "unknown credential")
	}
	return tenantID, nil
}

// Put registers or replaces a credential's tenant mapping at runtime.
func (r *StaticResolver) Put(credential, tenantID string) error {
	v, err := ident.Validate(tenantID, ident.KindTenant)
	if err != nil {
		return errs.Wrap(errs.KindValidation, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.credentials == nil {
		r.credentials = make(map[string]string)
	}
	r.credentials[credential] = v
	return nil
}

// WorkspacePath returns the tenant-and-job scoped ephemeral workspace
// directory (spec §6 persisted state layout).
func WorkspacePath(root, tenantID, jobID string) string {
	return root + "/workspaces/" + tenantID + "/" + jobID
}

// ArtifactPrefix returns the tenant-and-job scoped artifact blob prefix
// (spec §6).
func ArtifactPrefix(tenantID, jobID string) string {
	return "artifacts/" + tenantID + "/jobs/" + jobID
}

// MemoryStatePath returns the tenant-scoped knowledge/trail store path
// (spec §6).
func MemoryStatePath(root, tenantID, format string) string {
	return root + "/memory/" + tenantID + "/state." + format
}
