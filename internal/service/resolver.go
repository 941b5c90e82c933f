package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/executor"
	"promoshot/internal/lifecycle"
	"promoshot/internal/model"
	"promoshot/internal/notify"
	"promoshot/internal/storage"
	"promoshot/internal/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultSeenCapacity   = 1024
	defaultMirrorMaxBytes = 20 << 20
	mirrorTimeout         = 2 * time.Minute
	redeliverInterval     = time.Second
	redeliverAttempts     = 10
)

// ErrEventIgnored is returned for push events that do not concern this resolver.
var ErrEventIgnored = errors.New("event ignored")

// ErrRequestNotDispatched is returned for a result that arrives while the request is
// still pending. The event is not marked as seen, so a redelivery is processed once
// the dispatcher has recorded the executor's acceptance.
var ErrRequestNotDispatched = errors.New("request not dispatched yet")

// ExecutionFetcher reads executor run state.
type ExecutionFetcher interface {
	FetchExecution(ctx context.Context, executionID string) (*executor.Execution, error)
	PollingConfigured() bool
}

// PollOptions bounds a polling loop.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollOptions polls every 3s for at most 60 attempts.
var DefaultPollOptions = PollOptions{
	Interval:    3 * time.Second,
	MaxAttempts: 60,
}

// Bound is the longest a request is followed before it times out.
func (o PollOptions) Bound() time.Duration {
	return time.Duration(o.MaxAttempts) * o.Interval
}

func (o PollOptions) withDefaults(fallback PollOptions) PollOptions {
	if o.Interval <= 0 {
		o.Interval = fallback.Interval
	}
	if o.Interval <= 0 {
		o.Interval = DefaultPollOptions.Interval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = fallback.MaxAttempts
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultPollOptions.MaxAttempts
	}
	return o
}

// Outcome is the terminal result of a request.
type Outcome struct {
	RequestID uint                    `json:"request_id"`
	Status    entity.GenerationStatus `json:"status"`
	Artifacts []string                `json:"artifacts,omitempty"`
	Kind      ErrorKind               `json:"error_kind,omitempty"`
	Message   string                  `json:"error_message,omitempty"`
	Attempts  int                     `json:"attempts,omitempty"`
}

// Err returns the failure as a *GenerationError, or nil when completed.
func (o *Outcome) Err() error {
	if o == nil || o.Status != entity.GenerationStatusFailed {
		return nil
	}
	return newGenerationError(o.Kind, o.Message, nil)
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	Poll            PollOptions
	MirrorArtifacts bool
	MirrorMaxBytes  int64
	HTTPClient      *http.Client
	SeenCapacity    int
}

// ListenFilter narrows the push events a listener accepts.
type ListenFilter struct {
	// OwnerID restricts events to one owner when non-zero.
	OwnerID uint
}

// Resolver turns executor results into terminal request states. It is the only
// writer of terminal transitions.
type Resolver struct {
	repo    model.Repository
	fetcher ExecutionFetcher
	states  *lifecycle.Store
	storage storage.Storage
	logs    processLogger
	opts    ResolverOptions
	client  *http.Client
	now     func() time.Time

	seenMu    sync.Mutex
	seen      map[string]struct{}
	seenOrder []string
}

// NewResolver creates a resolver. storage may be nil when artifacts are not mirrored.
func NewResolver(repo model.Repository, fetcher ExecutionFetcher, states *lifecycle.Store, store storage.Storage, opts ResolverOptions) *Resolver {
	opts.Poll = opts.Poll.withDefaults(DefaultPollOptions)
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = defaultSeenCapacity
	}
	if opts.MirrorMaxBytes <= 0 {
		opts.MirrorMaxBytes = defaultMirrorMaxBytes
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: mirrorTimeout}
	}
	return &Resolver{
		repo:    repo,
		fetcher: fetcher,
		states:  states,
		storage: store,
		logs:    processLogger{repo: repo, states: states},
		opts:    opts,
		client:  client,
		now:     time.Now,
		seen:    make(map[string]struct{}),
	}
}

// PollingConfigured reports whether PollUntilTerminal can reach the executor.
func (r *Resolver) PollingConfigured() bool {
	return r != nil && r.fetcher != nil && r.fetcher.PollingConfigured()
}

// PollUntilTerminal polls the executor until the run finishes or the attempt bound
// is reached, then writes the terminal state. A cancelled ctx returns ctx.Err()
// without touching the request.
func (r *Resolver) PollUntilTerminal(ctx context.Context, requestID uint, executionRef string, opts PollOptions) (*Outcome, error) {
	if r == nil || r.repo == nil {
		return nil, errors.New("resolver not initialised")
	}
	opts = opts.withDefaults(r.opts.Poll)

	req, err := r.repo.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return outcomeFromRequest(req), nil
	}
	ref := utils.FirstNonEmpty(executionRef, req.ExecutionRef())
	if ref == "" {
		return nil, fmt.Errorf("request %d has no execution reference", requestID)
	}
	if !r.PollingConfigured() {
		return nil, executor.ErrNotConfigured
	}

	fields := logrus.Fields{
		"request_id":    requestID,
		"user_id":       req.UserID,
		"execution_ref": ref,
	}
	logrus.WithFields(fields).WithField("max_attempts", opts.MaxAttempts).Info("poll_start")

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		execution, err := r.fetcher.FetchExecution(ctx, ref)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// 瞬时错误在上限内重试
			logrus.WithError(err).WithFields(fields).WithField("attempt", attempt).Warn("poll attempt failed")
		case execution.Finished:
			outcome := evaluateExecution(requestID, execution)
			outcome.Attempts = attempt
			return r.resolve(ctx, req, outcome)
		default:
			logrus.WithFields(fields).WithFields(logrus.Fields{
				"attempt": attempt,
				"status":  execution.Status,
			}).Debug("poll status")
		}

		if attempt >= opts.MaxAttempts {
			return r.resolve(ctx, req, &Outcome{
				RequestID: requestID,
				Status:    entity.GenerationStatusFailed,
				Kind:      ErrorKindTimeout,
				Message:   fmt.Sprintf("execution %s did not finish after %d attempts", ref, attempt),
				Attempts:  attempt,
			})
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Listen consumes push events until ctx is done or the subscription closes.
func (r *Resolver) Listen(ctx context.Context, sub notify.Subscriber, filter ListenFilter) error {
	if sub == nil {
		return errors.New("subscriber is nil")
	}
	events, err := sub.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe terminal events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			_, err := r.HandleEvent(ctx, event, filter)
			switch {
			case err == nil, errors.Is(err, ErrEventIgnored):
			case errors.Is(err, ErrRequestNotDispatched):
				go r.redeliver(ctx, event, filter)
			default:
				logrus.WithError(err).WithFields(logrus.Fields{
					"event_id":   event.EventID,
					"request_id": event.RequestID,
				}).Warn("failed to handle terminal event")
			}
		}
	}
}

// redeliver retries an event that arrived before its request left pending.
func (r *Resolver) redeliver(ctx context.Context, event notify.TerminalEvent, filter ListenFilter) {
	ticker := time.NewTicker(redeliverInterval)
	defer ticker.Stop()
	for attempt := 1; attempt <= redeliverAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		_, err := r.HandleEvent(ctx, event, filter)
		if !errors.Is(err, ErrRequestNotDispatched) {
			return
		}
	}
	logrus.WithFields(logrus.Fields{
		"event_id":   event.EventID,
		"request_id": event.RequestID,
	}).Warn("terminal event dropped, request never left pending")
}

// HandleEvent resolves one push event. Duplicate event ids and events for unknown
// or foreign requests return ErrEventIgnored.
func (r *Resolver) HandleEvent(ctx context.Context, event notify.TerminalEvent, filter ListenFilter) (*Outcome, error) {
	if r == nil || r.repo == nil {
		return nil, errors.New("resolver not initialised")
	}
	if event.RequestID == 0 {
		return nil, ErrEventIgnored
	}
	if filter.OwnerID != 0 && event.OwnerID != filter.OwnerID {
		return nil, ErrEventIgnored
	}

	key := strings.TrimSpace(event.EventID)
	if key == "" {
		key = fmt.Sprintf("%d:%s", event.RequestID, event.Status)
	}
	if r.hasSeen(key) {
		logrus.WithField("event_id", key).Debug("duplicate terminal event dropped")
		return nil, ErrEventIgnored
	}

	req, err := r.repo.GetGenerationRequest(ctx, event.RequestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEventIgnored
	}
	if err != nil {
		return nil, err
	}
	if event.OwnerID != 0 && req.UserID != event.OwnerID {
		return nil, ErrEventIgnored
	}
	if ref := req.ExecutionRef(); ref != "" && event.ExecutionRef != "" && ref != event.ExecutionRef {
		return nil, ErrEventIgnored
	}

	var outcome *Outcome
	switch event.Status {
	case entity.GenerationStatusCompleted:
		urls := cleanURLs(event.Images)
		if len(urls) == 0 {
			urls = executor.ExtractArtifactURLs(event.Payload)
		}
		if len(urls) == 0 {
			outcome = &Outcome{
				RequestID: req.ID,
				Status:    entity.GenerationStatusFailed,
				Kind:      ErrorKindMalformedResponse,
				Message:   "executor reported completion without an artifact url",
			}
		} else {
			outcome = &Outcome{RequestID: req.ID, Status: entity.GenerationStatusCompleted, Artifacts: urls}
		}
	case entity.GenerationStatusFailed:
		outcome = &Outcome{
			RequestID: req.ID,
			Status:    entity.GenerationStatusFailed,
			Kind:      ErrorKindExecutor,
			Message:   utils.FirstNonEmpty(event.ErrorMessage, "executor reported a failure"),
		}
	default:
		return nil, ErrEventIgnored
	}

	if req.Status.IsTerminal() {
		r.markSeen(key)
		return outcomeFromRequest(req), nil
	}
	if req.Status == entity.GenerationStatusPending {
		logrus.WithFields(logrus.Fields{
			"event_id":   key,
			"request_id": req.ID,
		}).Info("terminal event for undispatched request deferred")
		return nil, ErrRequestNotDispatched
	}

	result, err := r.resolve(ctx, req, outcome)
	if err != nil {
		return nil, err
	}
	r.markSeen(key)
	return result, nil
}

// Expire fails a request that has not reached a terminal state within bound.
// A request that is already terminal is returned unchanged.
func (r *Resolver) Expire(ctx context.Context, requestID uint, bound time.Duration) (*Outcome, error) {
	if r == nil || r.repo == nil {
		return nil, errors.New("resolver not initialised")
	}
	req, err := r.repo.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status.IsTerminal() {
		return outcomeFromRequest(req), nil
	}
	return r.resolve(ctx, req, &Outcome{
		RequestID: requestID,
		Status:    entity.GenerationStatusFailed,
		Kind:      ErrorKindTimeout,
		Message:   fmt.Sprintf("no result received within %s", bound),
	})
}

// resolve writes the terminal state. When another writer got there first the
// stored outcome is returned unchanged.
func (r *Resolver) resolve(ctx context.Context, req *entity.DbGenerationRequest, outcome *Outcome) (*Outcome, error) {
	fields := logrus.Fields{
		"request_id":    req.ID,
		"user_id":       req.UserID,
		"execution_ref": req.ExecutionRef(),
		"status":        outcome.Status,
	}

	transition := entity.StatusTransition{To: outcome.Status, At: r.now()}
	var mirrored []string
	if outcome.Status == entity.GenerationStatusCompleted {
		transition.Artifacts, mirrored = r.buildArtifacts(ctx, req, outcome.Artifacts)
	} else {
		transition.ErrorKind = string(outcome.Kind)
		transition.ErrorMessage = outcome.Message
	}

	err := r.repo.TransitionGenerationRequest(ctx, req.ID, transition)
	if errors.Is(err, model.ErrStaleTransition) {
		r.discard(ctx, mirrored)
		current, getErr := r.repo.GetGenerationRequest(ctx, req.ID)
		if getErr != nil {
			return nil, getErr
		}
		logrus.WithFields(fields).WithField("current_status", current.Status).Info("request already resolved")
		return outcomeFromRequest(current), nil
	}
	if err != nil {
		r.discard(ctx, mirrored)
		return nil, newGenerationError(ErrorKindStorage, "persist terminal state", err)
	}

	r.states.Transition(req.ID, req.UserID, outcome.Status, outcome.Message)
	if outcome.Status == entity.GenerationStatusCompleted {
		r.logs.append(ctx, req.ID, entity.StepWorkflowCompleted, entity.LogStatusCompleted,
			fmt.Sprintf("generated %d artifact(s)", len(transition.Artifacts)),
			entity.JSONMap{"artifacts": len(transition.Artifacts), "attempts": outcome.Attempts})
		logrus.WithFields(fields).WithField("artifacts", len(transition.Artifacts)).Info("request completed")
	} else {
		r.logs.append(ctx, req.ID, entity.StepWorkflowError, entity.LogStatusFailed, outcome.Message,
			entity.JSONMap{"error_kind": string(outcome.Kind), "attempts": outcome.Attempts})
		logrus.WithFields(fields).WithFields(logrus.Fields{
			"error_kind": outcome.Kind,
			"error":      outcome.Message,
		}).Warn("request failed")
	}
	return outcome, nil
}

func (r *Resolver) buildArtifacts(ctx context.Context, req *entity.DbGenerationRequest, urls []string) ([]entity.DbGeneratedArtifact, []string) {
	artifacts := make([]entity.DbGeneratedArtifact, 0, len(urls))
	var mirrored []string
	for i, u := range urls {
		artifact := entity.DbGeneratedArtifact{
			URL:          u,
			VariantLabel: fmt.Sprintf("Variation %d", i+1),
		}
		if r.opts.MirrorArtifacts && r.storage != nil {
			key, err := r.mirror(ctx, req, artifact.VariantLabel, u)
			if err != nil {
				// 镜像失败不影响请求完成
				r.logs.append(ctx, req.ID, entity.StepArtifactMirror, entity.LogStatusFailed, err.Error(),
					entity.JSONMap{"url": u})
			} else {
				artifact.StoragePath = key
				mirrored = append(mirrored, key)
			}
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, mirrored
}

// mirror 把执行器返回的结果下载到自有存储，对象元数据记录所属请求与变体
func (r *Resolver) mirror(ctx context.Context, req *entity.DbGenerationRequest, variant, artifactURL string) (string, error) {
	mirrorCtx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	image, err := utils.FetchImage(mirrorCtx, r.client, artifactURL, r.opts.MirrorMaxBytes)
	if err != nil {
		return "", newGenerationError(ErrorKindStorage, "download artifact", err)
	}
	key, err := r.storage.Save(mirrorCtx, image.Data, storage.SaveOptions{
		Owner:       req.UserID,
		Category:    storage.CategoryArtifacts,
		Extension:   image.Extension,
		ContentType: image.MimeType,
		Metadata: map[string]string{
			"request-id": strconv.FormatUint(uint64(req.ID), 10),
			"variant":    variant,
		},
	})
	if err != nil {
		return "", newGenerationError(ErrorKindStorage, "store artifact", err)
	}
	return key, nil
}

func (r *Resolver) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := r.storage.Delete(ctx, key); err != nil {
			logrus.WithError(err).WithField("key", key).Warn("failed to delete orphaned artifact")
		}
	}
}

func (r *Resolver) hasSeen(key string) bool {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	_, ok := r.seen[key]
	return ok
}

func (r *Resolver) markSeen(key string) {
	r.seenMu.Lock()
	defer r.seenMu.Unlock()

	if _, ok := r.seen[key]; ok {
		return
	}
	r.seen[key] = struct{}{}
	r.seenOrder = append(r.seenOrder, key)
	for len(r.seenOrder) > r.opts.SeenCapacity {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
}

func evaluateExecution(requestID uint, execution *executor.Execution) *Outcome {
	if msg := execution.ReportedError(); msg != "" {
		return &Outcome{
			RequestID: requestID,
			Status:    entity.GenerationStatusFailed,
			Kind:      ErrorKindExecutor,
			Message:   msg,
		}
	}
	urls := execution.ArtifactURLs()
	if len(urls) == 0 {
		return &Outcome{
			RequestID: requestID,
			Status:    entity.GenerationStatusFailed,
			Kind:      ErrorKindMalformedResponse,
			Message:   "execution finished without an artifact url",
		}
	}
	return &Outcome{RequestID: requestID, Status: entity.GenerationStatusCompleted, Artifacts: urls}
}

func outcomeFromRequest(req *entity.DbGenerationRequest) *Outcome {
	outcome := &Outcome{
		RequestID: req.ID,
		Status:    req.Status,
		Kind:      ErrorKind(req.ErrorKind),
		Message:   req.ErrorMessage,
	}
	for _, artifact := range req.Artifacts {
		outcome.Artifacts = append(outcome.Artifacts, artifact.URL)
	}
	return outcome
}

func cleanURLs(values []string) []string {
	var urls []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		urls = append(urls, trimmed)
	}
	return urls
}

// RecordProgress appends an intermediate step reported by the executor. Steps for
// terminal requests are ignored.
func (r *Resolver) RecordProgress(ctx context.Context, requestID uint, step string, status entity.LogStatus, message string) error {
	if r == nil || r.repo == nil {
		return errors.New("resolver not initialised")
	}
	step = strings.TrimSpace(step)
	if requestID == 0 || step == "" {
		return ErrEventIgnored
	}
	switch status {
	case entity.LogStatusStarted, entity.LogStatusCompleted, entity.LogStatusFailed:
	default:
		return ErrEventIgnored
	}

	req, err := r.repo.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Status.IsTerminal() {
		return ErrEventIgnored
	}
	if _, ok := r.states.Get(req.ID); !ok {
		r.states.Track(req.ID, req.UserID, req.Status)
	}
	r.logs.append(ctx, req.ID, step, status, message, nil)
	return nil
}
