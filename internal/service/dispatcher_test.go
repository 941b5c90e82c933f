package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/executor"
	"promoshot/internal/lifecycle"
	"promoshot/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMarksRequestProcessing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result := env.dispatch(t)
	assert.Equal(t, "abc", result.ExecutionRef)
	assert.Equal(t, entity.GenerationStatusProcessing, result.Status)

	req, err := env.repo.GetGenerationRequest(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusProcessing, req.Status)
	assert.Equal(t, "abc", req.ExecutionRef())
	assert.NotEmpty(t, req.IdempotencyToken)
	// 品牌默认值回填
	assert.Equal(t, "#112233", req.BrandColors.GetString("primary"))
	assert.Equal(t, "Made to last", req.Slogan)

	logs, err := env.repo.ListProcessingLogs(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, []string{entity.StepWorkflowStarted, entity.StepN8nExecution}, stepNames(logs))

	state, ok := env.states.Get(result.RequestID)
	require.True(t, ok)
	assert.Equal(t, entity.GenerationStatusProcessing, state.Status)
}

func TestDispatchValidationPersistsNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(in *RequestInput)
	}{
		{name: "缺少商品名", mutate: func(in *RequestInput) { in.ProductName = "  " }},
		{name: "缺少分类", mutate: func(in *RequestInput) { in.Category = "" }},
		{name: "缺少原图", mutate: func(in *RequestInput) { in.SourceImageURL = "" }},
		{name: "缺少所有者", mutate: func(in *RequestInput) { in.OwnerID = 0 }},
	}

	env := newTestEnv(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := env.input()
			tt.mutate(&in)
			result, err := env.dispatcher.Dispatch(context.Background(), in)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrValidation), "expected validation error, got %v", err)
		})
	}

	_, meta, err := env.repo.ListGenerationRequests(context.Background(), &entity.GenerationRequestQuery{IncludeAll: true})
	require.NoError(t, err)
	assert.Zero(t, meta.Total)
	assert.Zero(t, env.n8n.dispatchCount())
}

func TestDispatchUnreachableExecutor(t *testing.T) {
	env := newTestEnv(t)
	env.n8n.srv.Close()

	result, err := env.dispatcher.Dispatch(context.Background(), env.input())
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.True(t, errors.Is(result.Err, ErrDispatch))

	req, err := env.repo.GetGenerationRequest(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusFailed, req.Status)
	assert.Equal(t, string(ErrorKindDispatch), req.ErrorKind)
	assert.Nil(t, req.ExternalExecutionRef)
	assert.Empty(t, req.Artifacts)

	logs, err := env.repo.ListProcessingLogs(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, []string{entity.StepWorkflowStarted, entity.StepWorkflowError}, stepNames(logs))
}

func TestDispatchRejectedByExecutor(t *testing.T) {
	env := newTestEnv(t)
	env.n8n.setDispatch(http.StatusNotFound, `{"message":"workflow is not active"}`)

	result, err := env.dispatcher.Dispatch(context.Background(), env.input())
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, ErrorKindDispatch, KindOf(result.Err))

	var httpErr *executor.HTTPError
	assert.True(t, errors.As(result.Err, &httpErr))
}

func TestDispatchWithoutExecutorConfigured(t *testing.T) {
	repo := newTestRepo(t)
	owner := createOwner(t, repo, "lonely@example.com")
	states := lifecycle.NewStore(lifecycle.Options{})
	dispatcher := NewDispatcher(repo, executor.NewClient(executor.Options{}), nil, states, DispatcherOptions{})

	result, err := dispatcher.Dispatch(context.Background(), RequestInput{
		OwnerID:        owner.ID,
		ProductName:    "Hat",
		Category:       "fashion",
		SourceImageURL: "https://x/y.jpg",
	})
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.True(t, errors.Is(result.Err, executor.ErrNotConfigured))

	req, err := repo.GetGenerationRequest(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusFailed, req.Status)
	assert.Equal(t, "executor not configured", req.ErrorMessage)
}

func TestDispatchPrefersOwnerWorkflowConfiguration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	other := newFakeN8n(t)
	other.setDispatch(http.StatusOK, `{"executionId":"from-config"}`)
	require.NoError(t, env.repo.CreateWorkflowConfiguration(ctx, &entity.DbWorkflowConfiguration{
		UserID:     env.owner.ID,
		WebhookURL: other.webhookURL(),
		WorkflowID: "wf-owner",
		IsActive:   true,
	}))

	result := env.dispatch(t)
	assert.Equal(t, "from-config", result.ExecutionRef)
	assert.Equal(t, 1, other.dispatchCount())
	assert.Zero(t, env.n8n.dispatchCount())

	req, err := env.repo.GetGenerationRequest(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "wf-owner", req.WorkflowID)
}

func TestDispatchSynchronousResult(t *testing.T) {
	env := newTestEnv(t)
	env.n8n.setDispatch(http.StatusOK, `{"executionId":"sync","imageUrl":"https://out/sync.jpg"}`)

	result := env.dispatch(t)
	assert.Equal(t, entity.GenerationStatusCompleted, result.Status)

	req, err := env.repo.GetGenerationRequest(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusCompleted, req.Status)
	require.Len(t, req.Artifacts, 1)
	assert.Equal(t, "https://out/sync.jpg", req.Artifacts[0].URL)
	assert.Equal(t, "Variation 1", req.Artifacts[0].VariantLabel)
}

func TestDispatchAndTrackPollsInBackground(t *testing.T) {
	env := newTestEnv(t)
	env.n8n.setExecution(func(call int) string {
		if call < 3 {
			return `{"id":"abc","finished":false,"status":"running"}`
		}
		return `{"id":"abc","finished":true,"status":"success","data":{"imageUrl":"https://out/1.jpg"}}`
	})

	result, err := env.dispatcher.DispatchAndTrack(context.Background(), env.input())
	require.NoError(t, err)
	require.True(t, result.Accepted)

	require.Eventually(t, func() bool {
		state, ok := env.states.Get(result.RequestID)
		return ok && state.Status == entity.GenerationStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.dispatcher.Shutdown(ctx))

	req, err := env.repo.GetGenerationRequest(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusCompleted, req.Status)
	assert.Len(t, req.Artifacts, 1)
}

func TestRetryCreatesNewRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.n8n.setDispatch(http.StatusInternalServerError, `boom`)
	failed, err := env.dispatcher.Dispatch(ctx, env.input())
	require.NoError(t, err)
	require.False(t, failed.Accepted)

	env.n8n.setDispatch(http.StatusOK, `{"executionId":"retry-1"}`)
	dispatcher := NewDispatcher(env.repo, env.n8n.client(), env.resolver, env.states, DispatcherOptions{
		PushEnabled: true,
		Poll:        PollOptions{Interval: time.Second, MaxAttempts: 60},
	})
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })
	retried, err := dispatcher.Retry(ctx, env.owner.ID, failed.RequestID)
	require.NoError(t, err)
	require.True(t, retried.Accepted)
	assert.NotEqual(t, failed.RequestID, retried.RequestID)

	req, err := env.repo.GetGenerationRequest(ctx, retried.RequestID)
	require.NoError(t, err)
	require.NotNil(t, req.RetryOf)
	assert.Equal(t, failed.RequestID, *req.RetryOf)
	assert.Equal(t, "Hat", req.ProductName)

	original, err := env.repo.GetGenerationRequest(ctx, failed.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusFailed, original.Status)

	_, err = dispatcher.Retry(ctx, env.owner.ID, retried.RequestID)
	assert.True(t, errors.Is(err, ErrValidation), "only failed requests can be retried")

	_, err = dispatcher.Retry(ctx, env.owner.ID+100, failed.RequestID)
	assert.Error(t, err)
}

// stubDispatcher answers webhook calls without a network round trip.
type stubDispatcher func(ctx context.Context) (*executor.DispatchResponse, error)

func (s stubDispatcher) Dispatch(ctx context.Context, _ string, _ string, _ executor.Payload) (*executor.DispatchResponse, error) {
	return s(ctx)
}

func (s stubDispatcher) DefaultWebhookURL() string {
	return "https://n8n.test/webhook/generate-image"
}

func newStubDispatcher(t *testing.T, exec WorkflowDispatcher, opts DispatcherOptions) (*Dispatcher, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	resolver := NewResolver(env.repo, nil, env.states, nil, ResolverOptions{Poll: fastPoll})
	dispatcher := NewDispatcher(env.repo, exec, resolver, env.states, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Shutdown(ctx)
	})
	return dispatcher, env
}

func TestDispatchWritesSurviveCallerDeadline(t *testing.T) {
	tests := []struct {
		name       string
		exec       stubDispatcher
		wantStatus entity.GenerationStatus
		wantSteps  []string
	}{
		{
			name: "执行器超时后请求标记失败",
			exec: func(ctx context.Context) (*executor.DispatchResponse, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			wantStatus: entity.GenerationStatusFailed,
			wantSteps:  []string{entity.StepWorkflowStarted, entity.StepWorkflowError},
		},
		{
			name: "受理时调用方已超时仍记录处理中",
			exec: func(ctx context.Context) (*executor.DispatchResponse, error) {
				<-ctx.Done()
				return &executor.DispatchResponse{ExecutionID: "late"}, nil
			},
			wantStatus: entity.GenerationStatusProcessing,
			wantSteps:  []string{entity.StepWorkflowStarted, entity.StepN8nExecution},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher, env := newStubDispatcher(t, tt.exec, DispatcherOptions{PushEnabled: true, Poll: fastPoll})

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			result, err := dispatcher.Dispatch(ctx, env.input())
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, result.Status)

			req, err := env.repo.GetGenerationRequest(context.Background(), result.RequestID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, req.Status)

			logs, err := env.repo.ListProcessingLogs(context.Background(), result.RequestID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSteps, stepNames(logs))
		})
	}
}

func TestDispatchNilExecutorResponse(t *testing.T) {
	exec := stubDispatcher(func(context.Context) (*executor.DispatchResponse, error) {
		return nil, nil
	})
	dispatcher, env := newStubDispatcher(t, exec, DispatcherOptions{PushEnabled: true, Poll: fastPoll})

	var result *DispatchResult
	require.NotPanics(t, func() {
		var err error
		result, err = dispatcher.Dispatch(context.Background(), env.input())
		require.NoError(t, err)
	})
	assert.True(t, result.Accepted)
	assert.Empty(t, result.ExecutionRef)
	assert.Equal(t, entity.GenerationStatusProcessing, result.Status)
}

func TestDispatchAndTrackPushModeTimesOut(t *testing.T) {
	env := newTestEnv(t)
	dispatcher := NewDispatcher(env.repo, env.n8n.client(), env.resolver, env.states, DispatcherOptions{
		PushEnabled: true,
		Poll:        fastPoll,
	})
	t.Cleanup(func() { _ = dispatcher.Shutdown(context.Background()) })

	result, err := dispatcher.DispatchAndTrack(context.Background(), env.input())
	require.NoError(t, err)
	require.True(t, result.Accepted)

	require.Eventually(t, func() bool {
		req, err := env.repo.GetGenerationRequest(context.Background(), result.RequestID)
		return err == nil && req.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	req, err := env.repo.GetGenerationRequest(context.Background(), result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusFailed, req.Status)
	assert.Equal(t, string(ErrorKindTimeout), req.ErrorKind)
	assert.Zero(t, env.n8n.pollCalls.Load(), "push mode does not poll")
}

func TestPushResultBeforeDeadlineWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dispatcher := NewDispatcher(env.repo, env.n8n.client(), env.resolver, env.states, DispatcherOptions{
		PushEnabled: true,
		Poll:        PollOptions{Interval: time.Second, MaxAttempts: 60},
	})

	result, err := dispatcher.DispatchAndTrack(ctx, env.input())
	require.NoError(t, err)
	require.True(t, result.Accepted)

	outcome, err := env.resolver.HandleEvent(ctx, notify.TerminalEvent{
		EventID:   "evt-before-deadline",
		RequestID: result.RequestID,
		Status:    entity.GenerationStatusCompleted,
		Images:    []string{"https://out/pushed.jpg"},
	}, ListenFilter{})
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusCompleted, outcome.Status)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, dispatcher.Shutdown(shutdownCtx))

	req, err := env.repo.GetGenerationRequest(ctx, result.RequestID)
	require.NoError(t, err)
	assert.Equal(t, entity.GenerationStatusCompleted, req.Status)
	assert.Empty(t, req.ErrorKind)
}

func TestResumeTracksProcessingRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	polled := env.dispatch(t)
	env.n8n.setExecution(func(int) string {
		return `{"id":"abc","finished":true,"status":"success","data":{"imageUrl":"https://out/resumed.jpg"}}`
	})

	// 重启后的新进程
	states := lifecycle.NewStore(lifecycle.Options{})
	resolver := NewResolver(env.repo, env.n8n.client(), states, nil, ResolverOptions{Poll: fastPoll})
	restarted := NewDispatcher(env.repo, env.n8n.client(), resolver, states, DispatcherOptions{Poll: fastPoll})
	t.Cleanup(func() { _ = restarted.Shutdown(context.Background()) })

	count, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Eventually(t, func() bool {
		req, err := env.repo.GetGenerationRequest(ctx, polled.RequestID)
		return err == nil && req.Status == entity.GenerationStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	count, err = restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Zero(t, count, "terminal requests are not resumed")
}

func TestResumeExpiresStaleRequestsInPushMode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	dispatched := env.dispatch(t)

	restarted := NewDispatcher(env.repo, env.n8n.client(), env.resolver, env.states, DispatcherOptions{
		PushEnabled: true,
		Poll:        PollOptions{Interval: time.Millisecond, MaxAttempts: 5},
	})
	t.Cleanup(func() { _ = restarted.Shutdown(context.Background()) })

	count, err := restarted.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.Eventually(t, func() bool {
		req, err := env.repo.GetGenerationRequest(ctx, dispatched.RequestID)
		return err == nil && req.Status == entity.GenerationStatusFailed && req.ErrorKind == string(ErrorKindTimeout)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, env.n8n.pollCalls.Load())
}

// payloadRecorder keeps every payload it is asked to submit.
type payloadRecorder struct {
	mu       sync.Mutex
	payloads []executor.Payload
	reject   bool
}

func (p *payloadRecorder) Dispatch(_ context.Context, _ string, _ string, payload executor.Payload) (*executor.DispatchResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	if p.reject {
		return nil, errors.New("webhook unavailable")
	}
	return &executor.DispatchResponse{ExecutionID: "exec"}, nil
}

func (p *payloadRecorder) DefaultWebhookURL() string {
	return "https://n8n.test/webhook/generate-image"
}

func (p *payloadRecorder) last() executor.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payloads[len(p.payloads)-1]
}

func TestDispatchFromSavedProduct(t *testing.T) {
	recorder := &payloadRecorder{reject: true}
	dispatcher, env := newStubDispatcher(t, recorder, DispatcherOptions{
		PushEnabled: true,
		Poll:        PollOptions{Interval: time.Second, MaxAttempts: 60},
	})
	ctx := context.Background()

	product := &entity.DbProduct{
		UserID:      env.owner.ID,
		Name:        "Straw Hat",
		Description: "Hand woven",
		Category:    "accessories",
		ImageURL:    "https://cdn.example.com/hat.jpg",
		BrandColors: entity.JSONMap{"primary": "#aa0000"},
		Attributes:  entity.JSONMap{"brand_tone": "playful"},
	}
	require.NoError(t, env.repo.CreateProduct(ctx, product))
	template := &entity.DbPromptTemplate{
		Name:     "Beach",
		Category: "accessories",
		Template: "{{product_name}} for {{theme}}, {{primary_color}}",
		IsActive: true,
	}
	require.NoError(t, env.repo.CreatePromptTemplate(ctx, template))

	result, err := dispatcher.Dispatch(ctx, RequestInput{
		OwnerID:          env.owner.ID,
		ProductName:      "Sun Hat",
		Theme:            "summer",
		ProductID:        &product.ID,
		PromptTemplateID: &template.ID,
	})
	require.NoError(t, err)
	require.False(t, result.Accepted)

	payload := recorder.last()
	assert.Equal(t, "Sun Hat", payload.ProductName)
	assert.Equal(t, "accessories", payload.Category)
	assert.Equal(t, "Hand woven", payload.AdditionalInfo)
	assert.Equal(t, "https://cdn.example.com/hat.jpg", payload.ImageURL)
	assert.Equal(t, "#aa0000", payload.BrandColors.Primary)
	// 商品未设置口号时回退到用户品牌口号
	assert.Equal(t, "Made to last", payload.Slogan)
	assert.Equal(t, product.ID, payload.ProductID)
	assert.Equal(t, "Sun Hat for summer, #aa0000", payload.Prompt)
	assert.Equal(t, "playful", payload.CreativeDirection["brand_tone"])

	// 模板修改后重试仍沿用原提示词
	require.NoError(t, env.repo.UpdatePromptTemplate(ctx, template.ID, entity.PromptTemplateUpdates{Template: ptr("changed")}))
	recorder.mu.Lock()
	recorder.reject = false
	recorder.mu.Unlock()

	retried, err := dispatcher.Retry(ctx, env.owner.ID, result.RequestID)
	require.NoError(t, err)
	require.True(t, retried.Accepted, "retry rejected: %v", retried.Err)
	again := recorder.last()
	assert.Equal(t, "Sun Hat for summer, #aa0000", again.Prompt)
	assert.Equal(t, "playful", again.CreativeDirection["brand_tone"])

	req, err := env.repo.GetGenerationRequest(ctx, retried.RequestID)
	require.NoError(t, err)
	require.NotNil(t, req.PromptTemplateID)
	assert.Equal(t, template.ID, *req.PromptTemplateID)
}

func TestDispatchRejectsUnusableReferences(t *testing.T) {
	recorder := &payloadRecorder{}
	dispatcher, env := newStubDispatcher(t, recorder, DispatcherOptions{Poll: fastPoll})
	ctx := context.Background()

	stranger := createOwner(t, env.repo, "stranger@example.com")
	foreign := &entity.DbProduct{UserID: stranger.ID, Name: "Bag", Category: "fashion", ImageURL: "https://x/bag.jpg"}
	require.NoError(t, env.repo.CreateProduct(ctx, foreign))
	inactive := &entity.DbPromptTemplate{Name: "Off", Category: "fashion", Template: "{{theme}}", IsActive: false}
	require.NoError(t, env.repo.CreatePromptTemplate(ctx, inactive))
	missing := uint(9999)

	tests := []struct {
		name  string
		input func() RequestInput
	}{
		{name: "他人商品", input: func() RequestInput {
			in := env.input()
			in.ProductID = &foreign.ID
			return in
		}},
		{name: "商品不存在", input: func() RequestInput {
			in := env.input()
			in.ProductID = &missing
			return in
		}},
		{name: "模板已停用", input: func() RequestInput {
			in := env.input()
			in.PromptTemplateID = &inactive.ID
			return in
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dispatcher.Dispatch(ctx, tt.input())
			var genErr *GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, ErrorKindValidation, genErr.Kind)
		})
	}

	_, meta, err := env.repo.ListGenerationRequests(ctx, &entity.GenerationRequestQuery{UserID: env.owner.ID})
	require.NoError(t, err)
	assert.Zero(t, meta.Total)
	assert.Empty(t, recorder.payloads)
}

func ptr[T any](v T) *T {
	return &v
}
