package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"promoshot/internal/entity"
	"promoshot/internal/executor"
	"promoshot/internal/lifecycle"
	"promoshot/internal/model"
	"promoshot/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// WorkflowDispatcher submits payloads to the executor webhook.
type WorkflowDispatcher interface {
	Dispatch(ctx context.Context, webhookURL string, apiKey string, payload executor.Payload) (*executor.DispatchResponse, error)
	DefaultWebhookURL() string
}

// RequestInput is what a caller supplies to start a generation.
type RequestInput struct {
	OwnerID          uint   `json:"-"`
	ProductName      string `json:"product_name"`
	Category         string `json:"category"`
	Theme            string `json:"theme"`
	TargetAudience   string `json:"target_audience"`
	StylePreferences string `json:"style_preferences"`
	AdditionalInfo   string `json:"additional_info"`
	Slogan           string `json:"slogan"`
	PrimaryColor     string `json:"primary_color"`
	SecondaryColor   string `json:"secondary_color"`
	SourceImageURL   string `json:"source_image_url"`
	SourceImagePath  string `json:"source_image_path"`
	// ProductID 指向已保存商品，留空的字段从商品补全
	ProductID        *uint  `json:"product_id"`
	PromptTemplateID *uint  `json:"prompt_template_id"`
	// Prompt 是已渲染的提示词，重试时沿用
	Prompt           string `json:"-"`
	RetryOf          *uint  `json:"-"`
}

// DispatchResult reports what happened to one dispatch attempt.
type DispatchResult struct {
	Accepted     bool                    `json:"accepted"`
	RequestID    uint                    `json:"request_id"`
	ExecutionRef string                  `json:"execution_ref,omitempty"`
	Status       entity.GenerationStatus `json:"status"`
	Err          error                   `json:"-"`
}

// writeTimeout bounds the storage writes that follow the executor call.
const writeTimeout = 10 * time.Second

// resumePageSize is the page size used when scanning for unfinished requests at startup.
const resumePageSize = 100

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// PushEnabled means results arrive on the notify bus. Accepted requests are then
	// guarded by a deadline of Poll.MaxAttempts*Poll.Interval instead of a poll.
	PushEnabled bool
	Poll        PollOptions
}

// Dispatcher creates requests and submits them to the executor.
type Dispatcher struct {
	repo     model.Repository
	exec     WorkflowDispatcher
	resolver *Resolver
	states   *lifecycle.Store
	logs     processLogger
	opts     DispatcherOptions
	now      func() time.Time

	bgCtx    context.Context
	bgCancel context.CancelFunc
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Background polls started by DispatchAndTrack
// run until Shutdown.
func NewDispatcher(repo model.Repository, exec WorkflowDispatcher, resolver *Resolver, states *lifecycle.Store, opts DispatcherOptions) *Dispatcher {
	bgCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		repo:     repo,
		exec:     exec,
		resolver: resolver,
		states:   states,
		logs:     processLogger{repo: repo, states: states},
		opts:     opts,
		now:      time.Now,
		bgCtx:    bgCtx,
		bgCancel: cancel,
	}
}

// Validate checks required inputs without touching storage or the executor.
func (in RequestInput) Validate() error {
	var missing []string
	if in.OwnerID == 0 {
		missing = append(missing, "owner")
	}
	if strings.TrimSpace(in.ProductName) == "" {
		missing = append(missing, "product_name")
	}
	if strings.TrimSpace(in.Category) == "" {
		missing = append(missing, "category")
	}
	if strings.TrimSpace(in.SourceImageURL) == "" {
		missing = append(missing, "source_image_url")
	}
	if len(missing) > 0 {
		return newGenerationError(ErrorKindValidation, "missing required fields: "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Dispatch validates input, persists a pending request and submits it. Executor
// failures are reported through DispatchResult.Err with the request marked failed;
// the returned error covers validation and persistence only.
func (d *Dispatcher) Dispatch(ctx context.Context, input RequestInput) (*DispatchResult, error) {
	if d == nil || d.repo == nil {
		return nil, errors.New("dispatcher not initialised")
	}
	direction, err := d.applyProduct(ctx, &input)
	if err != nil {
		return nil, err
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}

	owner, err := d.repo.GetUserByID(ctx, input.OwnerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newGenerationError(ErrorKindValidation, "owner not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}

	req := buildRequest(input, owner)
	if err := d.renderPrompt(ctx, input, req); err != nil {
		return nil, err
	}
	if err := d.repo.CreateGenerationRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}
	d.states.Track(req.ID, req.UserID, req.Status)

	fields := logrus.Fields{
		"request_id": req.ID,
		"user_id":    req.UserID,
	}
	d.logs.append(ctx, req.ID, entity.StepWorkflowStarted, entity.LogStatusStarted, "workflow started",
		entity.JSONMap{"idempotency_token": req.IdempotencyToken})

	webhookURL, apiKey, workflowID := d.resolveWebhook(ctx, req.UserID)
	if webhookURL == "" {
		return d.fail(ctx, req, newGenerationError(ErrorKindDispatch, "executor not configured", executor.ErrNotConfigured)), nil
	}

	resp, err := d.exec.Dispatch(ctx, webhookURL, apiKey, buildPayload(req, direction))
	if resp == nil {
		resp = &executor.DispatchResponse{}
	}
	if err == nil && resp.Error != "" {
		err = fmt.Errorf("executor rejected request: %s", resp.Error)
	}
	if err != nil {
		return d.fail(ctx, req, newGenerationError(ErrorKindDispatch, err.Error(), err)), nil
	}

	// 执行器已受理，后续写入不随调用方取消
	ctx, cancel := detachedWriteContext(ctx)
	defer cancel()

	ref := strings.TrimSpace(resp.ExecutionID)
	if err := d.repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:           entity.GenerationStatusProcessing,
		ExecutionRef: ref,
		At:           d.now(),
	}); err != nil {
		if !errors.Is(err, model.ErrStaleTransition) {
			return nil, fmt.Errorf("mark request processing: %w", err)
		}
		// 推送结果先于此处到达
		logrus.WithFields(fields).Info("request resolved before dispatch returned")
		if current, getErr := d.repo.GetGenerationRequest(ctx, req.ID); getErr == nil {
			req.Status = current.Status
		}
	} else {
		req.Status = entity.GenerationStatusProcessing
		d.states.Transition(req.ID, req.UserID, entity.GenerationStatusProcessing, "")
	}
	if ref != "" {
		req.ExternalExecutionRef = &ref
	}

	if id := utils.FirstNonEmpty(resp.WorkflowID, workflowID); id != "" {
		if err := d.repo.UpdateGenerationRequest(ctx, req.ID, entity.GenerationRequestUpdates{WorkflowID: &id}); err != nil {
			logrus.WithError(err).WithFields(fields).Warn("failed to store workflow id")
		}
	}

	d.logs.append(ctx, req.ID, entity.StepN8nExecution, entity.LogStatusCompleted, "workflow accepted by executor",
		entity.JSONMap{"execution_id": ref, "workflow_id": resp.WorkflowID})
	logrus.WithFields(fields).WithField("execution_ref", ref).Info("request dispatched")

	result := &DispatchResult{
		Accepted:     true,
		RequestID:    req.ID,
		ExecutionRef: ref,
		Status:       req.Status,
	}

	// webhook 同步返回了结果
	if urls := executor.ExtractArtifactURLs(resp.Body); len(urls) > 0 && d.resolver != nil && !req.Status.IsTerminal() {
		outcome, err := d.resolver.resolve(ctx, req, &Outcome{
			RequestID: req.ID,
			Status:    entity.GenerationStatusCompleted,
			Artifacts: urls,
		})
		if err != nil {
			logrus.WithError(err).WithFields(fields).Warn("failed to resolve synchronous result")
		} else {
			result.Status = outcome.Status
		}
	}
	return result, nil
}

// DispatchAndTrack dispatches and follows the accepted request in the background
// until it is terminal.
func (d *Dispatcher) DispatchAndTrack(ctx context.Context, input RequestInput) (*DispatchResult, error) {
	result, err := d.Dispatch(ctx, input)
	if err != nil || result == nil || !result.Accepted {
		return result, err
	}
	if result.Status.IsTerminal() {
		return result, nil
	}
	d.Track(result.RequestID, result.ExecutionRef)
	return result, nil
}

// Track follows one request in the background. Without push delivery and with an
// execution reference the executor is polled; otherwise the request is failed with
// Timeout once the poll bound has elapsed without a result.
func (d *Dispatcher) Track(requestID uint, executionRef string) {
	d.track(requestID, executionRef, d.now())
}

func (d *Dispatcher) track(requestID uint, executionRef string, since time.Time) {
	if d.resolver == nil {
		logrus.WithField("request_id", requestID).Warn("resolver not available, request is not tracked")
		return
	}
	poll := !d.opts.PushEnabled && executionRef != "" && d.resolver.PollingConfigured()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var (
			outcome *Outcome
			err     error
		)
		if poll {
			outcome, err = d.resolver.PollUntilTerminal(d.bgCtx, requestID, executionRef, d.opts.Poll)
		} else {
			outcome, err = d.watch(d.bgCtx, requestID, since)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logrus.WithError(err).WithField("request_id", requestID).Warn("background tracking failed")
			return
		}
		logrus.WithFields(logrus.Fields{
			"request_id": requestID,
			"status":     outcome.Status,
			"attempts":   outcome.Attempts,
			"polled":     poll,
		}).Debug("background tracking finished")
	}()
}

// watch waits until the deadline measured from since and then expires the request
// unless a result was recorded in the meantime.
func (d *Dispatcher) watch(ctx context.Context, requestID uint, since time.Time) (*Outcome, error) {
	bound := d.opts.Poll.withDefaults(d.resolver.opts.Poll).Bound()
	timer := time.NewTimer(time.Until(since.Add(bound)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return d.resolver.Expire(ctx, requestID, bound)
}

// Resume tracks every request still processing, typically left over by a previous
// process. It returns how many requests were picked up.
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	if d == nil || d.repo == nil {
		return 0, errors.New("dispatcher not initialised")
	}

	var pending []entity.DbGenerationRequest
	for page := int64(1); ; page++ {
		items, meta, err := d.repo.ListGenerationRequests(ctx, &entity.GenerationRequestQuery{
			BaseParams: entity.BaseParams{Page: page, PageSize: resumePageSize, SortBy: "created_at"},
			IncludeAll: true,
			Status:     string(entity.GenerationStatusProcessing),
		})
		if err != nil {
			return 0, fmt.Errorf("list processing requests: %w", err)
		}
		pending = append(pending, items...)
		if len(items) == 0 || meta == nil || page*meta.PageSize >= meta.Total {
			break
		}
	}

	for i := range pending {
		req := &pending[i]
		d.states.Track(req.ID, req.UserID, req.Status)
		d.track(req.ID, req.ExecutionRef(), req.UpdatedAt)
	}
	if len(pending) > 0 {
		logrus.WithField("count", len(pending)).Info("resumed tracking of processing requests")
	}
	return len(pending), nil
}

// Retry dispatches a new request from the inputs of a failed one. The failed row is kept as is.
func (d *Dispatcher) Retry(ctx context.Context, ownerID uint, requestID uint) (*DispatchResult, error) {
	if d == nil || d.repo == nil {
		return nil, errors.New("dispatcher not initialised")
	}
	previous, err := d.repo.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if ownerID != 0 && previous.UserID != ownerID {
		return nil, gorm.ErrRecordNotFound
	}
	if previous.Status != entity.GenerationStatusFailed {
		return nil, newGenerationError(ErrorKindValidation, "only failed requests can be retried", nil)
	}

	retryOf := previous.ID
	return d.DispatchAndTrack(ctx, RequestInput{
		OwnerID:          previous.UserID,
		ProductName:      previous.ProductName,
		Category:         previous.Category,
		Theme:            previous.Theme,
		TargetAudience:   previous.TargetAudience,
		StylePreferences: previous.StylePreferences,
		AdditionalInfo:   previous.AdditionalInfo,
		Slogan:           previous.Slogan,
		PrimaryColor:     previous.BrandColors.GetString("primary"),
		SecondaryColor:   previous.BrandColors.GetString("secondary"),
		SourceImageURL:   previous.SourceImageURL,
		SourceImagePath:  previous.SourceImagePath,
		ProductID:        previous.ProductID,
		PromptTemplateID: previous.PromptTemplateID,
		Prompt:           previous.Prompt,
		RetryOf:          &retryOf,
	})
}

// Shutdown cancels background polls and waits for them to return.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.bgCancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) fail(ctx context.Context, req *entity.DbGenerationRequest, genErr *GenerationError) *DispatchResult {
	ctx, cancel := detachedWriteContext(ctx)
	defer cancel()

	fields := logrus.Fields{
		"request_id": req.ID,
		"user_id":    req.UserID,
	}
	err := d.repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:           entity.GenerationStatusFailed,
		ErrorKind:    string(genErr.Kind),
		ErrorMessage: genErr.Detail(),
		At:           d.now(),
	})
	if err != nil {
		logrus.WithError(err).WithFields(fields).Error("failed to mark request failed")
	} else {
		d.states.Transition(req.ID, req.UserID, entity.GenerationStatusFailed, genErr.Detail())
	}
	d.logs.append(ctx, req.ID, entity.StepWorkflowError, entity.LogStatusFailed, genErr.Detail(),
		entity.JSONMap{"error_kind": string(genErr.Kind)})
	logrus.WithFields(fields).WithField("error", genErr.Detail()).Warn("dispatch failed")

	return &DispatchResult{
		Accepted:  false,
		RequestID: req.ID,
		Status:    entity.GenerationStatusFailed,
		Err:       genErr,
	}
}

// applyProduct fills empty input fields from the referenced product and returns its
// creative direction attributes.
func (d *Dispatcher) applyProduct(ctx context.Context, input *RequestInput) (entity.JSONMap, error) {
	if input.ProductID == nil || *input.ProductID == 0 || input.OwnerID == 0 {
		input.ProductID = nil
		return nil, nil
	}
	product, err := d.repo.GetProduct(ctx, *input.ProductID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && product.UserID != input.OwnerID) {
		return nil, newGenerationError(ErrorKindValidation, "product not found", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	fill := func(dst *string, value string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = value
		}
	}
	fill(&input.ProductName, product.Name)
	fill(&input.Category, product.Category)
	fill(&input.TargetAudience, product.TargetAudience)
	fill(&input.StylePreferences, product.StylePreferences)
	fill(&input.AdditionalInfo, product.Description)
	fill(&input.Slogan, product.Slogan)
	fill(&input.PrimaryColor, product.BrandColors.GetString("primary"))
	fill(&input.SecondaryColor, product.BrandColors.GetString("secondary"))
	fill(&input.SourceImageURL, product.ImageURL)
	fill(&input.SourceImagePath, product.ImagePath)
	return product.Attributes, nil
}

// renderPrompt 渲染选定的提示词模板，变量取自补全后的请求字段
func (d *Dispatcher) renderPrompt(ctx context.Context, input RequestInput, req *entity.DbGenerationRequest) error {
	req.PromptTemplateID = input.PromptTemplateID
	if prompt := strings.TrimSpace(input.Prompt); prompt != "" {
		req.Prompt = prompt
		return nil
	}
	if input.PromptTemplateID == nil || *input.PromptTemplateID == 0 {
		req.PromptTemplateID = nil
		return nil
	}

	template, err := d.repo.GetPromptTemplate(ctx, *input.PromptTemplateID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !template.IsActive) {
		return newGenerationError(ErrorKindValidation, "prompt template not found", nil)
	}
	if err != nil {
		return fmt.Errorf("load prompt template: %w", err)
	}
	req.Prompt = template.Render(promptVariables(req))
	return nil
}

func promptVariables(req *entity.DbGenerationRequest) map[string]string {
	return map[string]string{
		"product_name":      req.ProductName,
		"category":          req.Category,
		"theme":             req.Theme,
		"target_audience":   req.TargetAudience,
		"style_preferences": req.StylePreferences,
		"additional_info":   req.AdditionalInfo,
		"slogan":            req.Slogan,
		"primary_color":     req.BrandColors.GetString("primary"),
		"secondary_color":   req.BrandColors.GetString("secondary"),
	}
}

// detachedWriteContext keeps ctx values but not its cancellation, bounded by writeTimeout.
func detachedWriteContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}

// resolveWebhook prefers the owner's active workflow configuration over the process default.
func (d *Dispatcher) resolveWebhook(ctx context.Context, ownerID uint) (webhookURL, apiKey, workflowID string) {
	cfg, err := d.repo.GetActiveWorkflowConfiguration(ctx, ownerID)
	switch {
	case err == nil && strings.TrimSpace(cfg.WebhookURL) != "":
		return strings.TrimSpace(cfg.WebhookURL), cfg.APIKey, cfg.WorkflowID
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		logrus.WithError(err).WithField("user_id", ownerID).Warn("failed to load workflow configuration")
	}
	if d.exec == nil {
		return "", "", ""
	}
	return d.exec.DefaultWebhookURL(), "", ""
}

func buildRequest(input RequestInput, owner *entity.DbUser) *entity.DbGenerationRequest {
	primary := strings.TrimSpace(input.PrimaryColor)
	secondary := strings.TrimSpace(input.SecondaryColor)
	slogan := strings.TrimSpace(input.Slogan)
	if owner != nil {
		if primary == "" {
			primary = owner.BrandPrimaryColor
		}
		if secondary == "" {
			secondary = owner.BrandSecondaryColor
		}
		if slogan == "" {
			slogan = owner.BrandSlogan
		}
	}

	return &entity.DbGenerationRequest{
		UserID:           input.OwnerID,
		ProductName:      strings.TrimSpace(input.ProductName),
		Category:         strings.TrimSpace(input.Category),
		Theme:            strings.TrimSpace(input.Theme),
		TargetAudience:   strings.TrimSpace(input.TargetAudience),
		StylePreferences: strings.TrimSpace(input.StylePreferences),
		AdditionalInfo:   strings.TrimSpace(input.AdditionalInfo),
		Slogan:           slogan,
		BrandColors:      entity.JSONMap{"primary": primary, "secondary": secondary},
		SourceImageURL:   strings.TrimSpace(input.SourceImageURL),
		SourceImagePath:  strings.TrimSpace(input.SourceImagePath),
		Status:           entity.GenerationStatusPending,
		IdempotencyToken: uuid.NewString(),
		RetryOf:          input.RetryOf,
		ProductID:        input.ProductID,
	}
}

func buildPayload(req *entity.DbGenerationRequest, direction entity.JSONMap) executor.Payload {
	payload := executor.Payload{
		ImageRequestID:   req.ID,
		RequestID:        req.ID,
		UserID:           req.UserID,
		ProductName:      req.ProductName,
		Category:         req.Category,
		Theme:            req.Theme,
		TargetAudience:   req.TargetAudience,
		StylePreferences: req.StylePreferences,
		AdditionalInfo:   req.AdditionalInfo,
		Slogan:           req.Slogan,
		BrandColors: executor.BrandColors{
			Primary:   req.BrandColors.GetString("primary"),
			Secondary: req.BrandColors.GetString("secondary"),
		},
		ImageURL:         req.SourceImageURL,
		ProductImage:     req.SourceImageURL,
		IdempotencyToken: req.IdempotencyToken,
		Prompt:           req.Prompt,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
	}
	if req.ProductID != nil {
		payload.ProductID = *req.ProductID
	}
	if len(direction) > 0 {
		payload.CreativeDirection = map[string]any(direction)
	}
	return payload
}
