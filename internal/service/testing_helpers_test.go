package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"promoshot/internal/config"
	"promoshot/internal/entity"
	"promoshot/internal/executor"
	"promoshot/internal/lifecycle"
	"promoshot/internal/model"

	"github.com/stretchr/testify/require"
)

// fakeN8n serves the webhook and the executions API.
type fakeN8n struct {
	srv *httptest.Server

	mu           sync.Mutex
	dispatchCode int
	dispatchBody string
	dispatched   int
	execution    func(call int) string

	pollCalls atomic.Int32
}

func newFakeN8n(t *testing.T) *fakeN8n {
	t.Helper()
	f := &fakeN8n{
		dispatchCode: http.StatusOK,
		dispatchBody: `{"executionId":"abc"}`,
		execution: func(int) string {
			return `{"id":"abc","finished":false,"status":"running"}`
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/webhook/"):
			f.mu.Lock()
			f.dispatched++
			code, body := f.dispatchCode, f.dispatchBody
			f.mu.Unlock()
			w.WriteHeader(code)
			_, _ = w.Write([]byte(body))
		case strings.HasPrefix(r.URL.Path, "/api/v1/executions/"):
			call := int(f.pollCalls.Add(1))
			f.mu.Lock()
			fn := f.execution
			f.mu.Unlock()
			_, _ = w.Write([]byte(fn(call)))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeN8n) webhookURL() string {
	return f.srv.URL + "/webhook/generate-image"
}

func (f *fakeN8n) setDispatch(code int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatchCode = code
	f.dispatchBody = body
}

func (f *fakeN8n) setExecution(fn func(call int) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execution = fn
}

func (f *fakeN8n) dispatchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispatched
}

func (f *fakeN8n) client() *executor.Client {
	return executor.NewClient(executor.Options{
		BaseURL:         f.srv.URL,
		APIKey:          "test-key",
		WebhookURL:      f.webhookURL(),
		DispatchTimeout: time.Second,
		AttemptTimeout:  time.Second,
	})
}

func newTestRepo(t *testing.T) model.Repository {
	t.Helper()
	cfg := &config.Config{DBType: model.DBTypeSQLite, DBPath: filepath.Join(t.TempDir(), "service.db")}
	repo, err := model.InitRepository(cfg)
	require.NoError(t, err)
	return repo
}

func createOwner(t *testing.T, repo model.Repository, email string) *entity.DbUser {
	t.Helper()
	user := &entity.DbUser{
		Email:             email,
		PasswordHash:      "hash",
		Role:              entity.UserRoleUser,
		IsActive:          true,
		BrandPrimaryColor: "#112233",
		BrandSlogan:       "Made to last",
	}
	require.NoError(t, repo.CreateUser(context.Background(), user))
	return user
}

type testEnv struct {
	repo       model.Repository
	n8n        *fakeN8n
	states     *lifecycle.Store
	resolver   *Resolver
	dispatcher *Dispatcher
	owner      *entity.DbUser
}

var fastPoll = PollOptions{Interval: time.Millisecond, MaxAttempts: 60}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := newTestRepo(t)
	n8n := newFakeN8n(t)
	client := n8n.client()
	states := lifecycle.NewStore(lifecycle.Options{})
	resolver := NewResolver(repo, client, states, nil, ResolverOptions{Poll: fastPoll})
	dispatcher := NewDispatcher(repo, client, resolver, states, DispatcherOptions{Poll: fastPoll})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Shutdown(ctx)
	})
	return &testEnv{
		repo:       repo,
		n8n:        n8n,
		states:     states,
		resolver:   resolver,
		dispatcher: dispatcher,
		owner:      createOwner(t, repo, "owner@example.com"),
	}
}

func (e *testEnv) input() RequestInput {
	return RequestInput{
		OwnerID:        e.owner.ID,
		ProductName:    "Hat",
		Category:       "fashion",
		SourceImageURL: "https://x/y.jpg",
	}
}

func (e *testEnv) dispatch(t *testing.T) *DispatchResult {
	t.Helper()
	result, err := e.dispatcher.Dispatch(context.Background(), e.input())
	require.NoError(t, err)
	require.True(t, result.Accepted, "dispatch rejected: %v", result.Err)
	return result
}

func stepNames(logs []entity.DbProcessingLog) []string {
	names := make([]string, 0, len(logs))
	for _, entry := range logs {
		names = append(names, entry.StepName)
	}
	return names
}
