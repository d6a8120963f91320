package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobctl/jobctl/runtime/backend"
	"github.com/jobctl/jobctl/runtime/dispatch"
	"github.com/jobctl/jobctl/runtime/errs"
	"github.com/jobctl/jobctl/runtime/job"
	"github.com/jobctl/jobctl/runtime/tenant"
)

// memStore is a minimal in-memory backend.Store fake, sufficient for
// Submit/Get/List without exercising a real database.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]*job.Job)} }

func (s *memStore) PutJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *memStore) GetJob(_ context.Context, tenantID, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID {
		return nil, errs.New(errs.KindNotFound, "job not found")
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) GetJobByID(_ context.Context, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) ListJobs(_ context.Context, tenantID string, filter backend.JobFilter) ([]*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*job.Job
	for _, j := range s.jobs {
		if j.TenantID != tenantID {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		if filter.State != nil && j.State != *filter.State {
			continue
		}
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) CASJobState(_ context.Context, tenantID, jobID string, from, to job.State, mutate func(*job.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.TenantID != tenantID || j.State != from {
		return false, nil
	}
	j.State = to
	if mutate != nil {
		mutate(j)
	}
	return true, nil
}

func (s *memStore) ReapStaleRunning(context.Context, time.Time) ([]*job.Job, error)   { return nil, nil }
func (s *memStore) ReapOrphanedQueued(context.Context, time.Time) ([]*job.Job, error) { return nil, nil }

// memQueue is a no-op queue fake: Submit only needs Enqueue to not error.
type memQueue struct{}

func (memQueue) Enqueue(context.Context, string) error { return nil }
func (memQueue) Receive(context.Context, int, time.Duration) ([]backend.Message, error) {
	return nil, nil
}
func (memQueue) Delete(context.Context, backend.Message) error                   { return nil }
func (memQueue) ExtendVisibility(context.Context, backend.Message, time.Duration) error { return nil }

func newTestServer(t *testing.T, store *memStore, resolver tenant.Resolver) *Server {
	t.Helper()
	engine := dispatch.New(dispatch.Options{Queue: memQueue{}, Store: store})
	srv, err := New(Options{Dispatch: engine, Store: store, Resolver: resolver, Version: "test"})
	require.NoError(t, err)
	return srv
}

func TestHandleSubmit_AcceptsAndPersistsJob(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(nil, true)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	body := strings.NewReader(`{"type":"echo","payload":{"message":"hi"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp submitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.JobID)

	j, err := store.GetJob(t.Context(), tenant.Default, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, job.StateQueued, j.State)
}

func TestHandleSubmit_RejectsMissingType(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(nil, true)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"payload":{}}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGet_UnknownJobIsNotFound(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(nil, true)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/does-not-exist", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuth_UnknownCredentialIs401(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(map[string]string{"good-key": "acme"}, false)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set(CredentialHeader, "bad-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_KnownCredentialScopesToTenant(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.PutJob(t.Context(), job.NewQueued("j1", "acme", "echo", nil, time.Now())))
	require.NoError(t, store.PutJob(t.Context(), job.NewQueued("j2", "other-tenant", "echo", nil, time.Now())))

	resolver, err := tenant.NewStaticResolver(map[string]string{"good-key": "acme"}, false)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set(CredentialHeader, "good-key")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp listResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Jobs, 1)
	assert.Equal(t, "j1", resp.Jobs[0].ID)
}

func TestHandleHealth_ReportsUnknownDependenciesAsUnknown(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(nil, true)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "unknown", resp.Dependencies["queue"])
}

func TestHandleHealth_DependencyErrorIsServiceUnavailable(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(nil, true)
	require.NoError(t, err)
	engine := dispatch.New(dispatch.Options{Queue: memQueue{}, Store: store})
	srv, err := New(Options{
		Dispatch:  engine,
		Store:     store,
		Resolver:  resolver,
		PingQueue: func() error { return assert.AnError },
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleListAgents_EmptyWithoutRunLister(t *testing.T) {
	store := newMemStore()
	resolver, err := tenant.NewStaticResolver(nil, true)
	require.NoError(t, err)
	srv := newTestServer(t, store, resolver)

	req := httptest.NewRequest(http.MethodGet, "/v1/agents", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp listAgentsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Agents)
}
