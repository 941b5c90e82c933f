package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"promoshot/internal/entity"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func newTestRepository(t *testing.T) *GormRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NamingStrategy:                           schema.NamingStrategy{SingularTable: true},
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&entity.DbUser{},
		&entity.DbCredit{},
		&entity.DbWorkflowTemplate{},
		&entity.DbWorkflowConfiguration{},
		&entity.DbProduct{},
		&entity.DbPromptTemplate{},
		&entity.DbGenerationRequest{},
		&entity.DbGeneratedArtifact{},
		&entity.DbProcessingLog{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormRepository(db)
}

func createTestUser(t *testing.T, repo *GormRepository, email string) *entity.DbUser {
	t.Helper()
	user := &entity.DbUser{Email: email, PasswordHash: "hash", Role: entity.UserRoleUser, IsActive: true}
	if err := repo.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func createTestRequest(t *testing.T, repo *GormRepository, userID uint, token string) *entity.DbGenerationRequest {
	t.Helper()
	req := &entity.DbGenerationRequest{
		UserID:           userID,
		ProductName:      "Widget",
		Category:         "gadgets",
		SourceImageURL:   "https://cdn.example.com/widget.png",
		IdempotencyToken: token,
	}
	if err := repo.CreateGenerationRequest(context.Background(), req); err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func markTestProcessing(t *testing.T, repo *GormRepository, id uint) {
	t.Helper()
	err := repo.TransitionGenerationRequest(context.Background(), id, entity.StatusTransition{To: entity.GenerationStatusProcessing})
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
}

func TestCreateGenerationRequestStartsPending(t *testing.T) {
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "a@example.com")
	req := createTestRequest(t, repo, user.ID, "token-1")

	if req.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	loaded, err := repo.GetGenerationRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if loaded.Status != entity.GenerationStatusPending {
		t.Errorf("expected pending, got %s", loaded.Status)
	}

	bad := &entity.DbGenerationRequest{UserID: user.ID, Status: entity.GenerationStatusCompleted, IdempotencyToken: "token-2"}
	if err := repo.CreateGenerationRequest(context.Background(), bad); err == nil {
		t.Error("expected error creating a non-pending request")
	}
}

func TestTransitionGenerationRequestForwardOnly(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "b@example.com")
	req := createTestRequest(t, repo, user.ID, "token-1")

	err := repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:           entity.GenerationStatusProcessing,
		ExecutionRef: "exec-42",
	})
	if err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}

	err = repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:        entity.GenerationStatusCompleted,
		Artifacts: []entity.DbGeneratedArtifact{{URL: "https://cdn.example.com/out.png", VariantLabel: "Variation 1"}},
		At:        time.Now(),
	})
	if err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}

	err = repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:           entity.GenerationStatusFailed,
		ErrorKind:    "Timeout",
		ErrorMessage: "late failure",
	})
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	loaded, err := repo.GetGenerationRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if loaded.Status != entity.GenerationStatusCompleted {
		t.Errorf("expected completed, got %s", loaded.Status)
	}
	if loaded.ExecutionRef() != "exec-42" {
		t.Errorf("expected execution ref exec-42, got %q", loaded.ExecutionRef())
	}
	if len(loaded.Artifacts) != 1 || loaded.Artifacts[0].URL != "https://cdn.example.com/out.png" {
		t.Errorf("unexpected artifacts: %+v", loaded.Artifacts)
	}
	if loaded.ErrorMessage != "" {
		t.Errorf("completed request must not carry an error, got %q", loaded.ErrorMessage)
	}
	if loaded.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestTransitionGenerationRequestCompletedNeedsProcessing(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "skip@example.com")
	req := createTestRequest(t, repo, user.ID, "token-skip")

	err := repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:        entity.GenerationStatusCompleted,
		Artifacts: []entity.DbGeneratedArtifact{{URL: "https://cdn.example.com/out.png"}},
	})
	if !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	loaded, err := repo.GetGenerationRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if loaded.Status != entity.GenerationStatusPending || len(loaded.Artifacts) != 0 {
		t.Errorf("expected untouched pending row, got %s with %d artifacts", loaded.Status, len(loaded.Artifacts))
	}

	err = repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:           entity.GenerationStatusFailed,
		ErrorKind:    "DispatchError",
		ErrorMessage: "webhook unreachable",
	})
	if err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
}

func TestTransitionGenerationRequestValidation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "c@example.com")
	req := createTestRequest(t, repo, user.ID, "token-1")

	tests := []struct {
		name       string
		id         uint
		transition entity.StatusTransition
		wantErr    error
	}{
		{
			name:       "completed without artifacts",
			id:         req.ID,
			transition: entity.StatusTransition{To: entity.GenerationStatusCompleted},
		},
		{
			name:       "failed without message",
			id:         req.ID,
			transition: entity.StatusTransition{To: entity.GenerationStatusFailed},
		},
		{
			name:       "back to pending",
			id:         req.ID,
			transition: entity.StatusTransition{To: entity.GenerationStatusPending},
		},
		{
			name:       "unknown request",
			id:         9999,
			transition: entity.StatusTransition{To: entity.GenerationStatusProcessing},
			wantErr:    gorm.ErrRecordNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.TransitionGenerationRequest(ctx, tt.id, tt.transition)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	loaded, err := repo.GetGenerationRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if loaded.Status != entity.GenerationStatusPending {
		t.Errorf("rejected transitions must not change the row, got %s", loaded.Status)
	}
}

func TestDeleteGenerationRequestCascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "d@example.com")
	req := createTestRequest(t, repo, user.ID, "token-1")
	markTestProcessing(t, repo, req.ID)

	if err := repo.AppendProcessingLog(ctx, &entity.DbProcessingLog{RequestID: &req.ID, StepName: entity.StepWorkflowStarted, Status: entity.LogStatusStarted}); err != nil {
		t.Fatalf("append log: %v", err)
	}
	err := repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:        entity.GenerationStatusCompleted,
		Artifacts: []entity.DbGeneratedArtifact{{URL: "https://cdn.example.com/1.png"}, {URL: "https://cdn.example.com/2.png"}},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := repo.DeleteGenerationRequest(ctx, req.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.GetGenerationRequest(ctx, req.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}

	var artifacts int64
	repo.db.Model(&entity.DbGeneratedArtifact{}).Where("request_id = ?", req.ID).Count(&artifacts)
	if artifacts != 0 {
		t.Errorf("expected artifacts removed, %d left", artifacts)
	}
	logs, err := repo.ListProcessingLogs(ctx, req.ID)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(logs) != 0 {
		t.Errorf("expected logs removed, %d left", len(logs))
	}

	if err := repo.DeleteGenerationRequest(ctx, req.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestListGenerationRequestsFilters(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	alice := createTestUser(t, repo, "alice@example.com")
	bob := createTestUser(t, repo, "bob@example.com")

	first := createTestRequest(t, repo, alice.ID, "t1")
	createTestRequest(t, repo, alice.ID, "t2")
	createTestRequest(t, repo, bob.ID, "t3")
	if err := repo.TransitionGenerationRequest(ctx, first.ID, entity.StatusTransition{To: entity.GenerationStatusFailed, ErrorKind: "DispatchError", ErrorMessage: "boom"}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	tests := []struct {
		name      string
		query     *entity.GenerationRequestQuery
		wantTotal int64
	}{
		{name: "own requests", query: &entity.GenerationRequestQuery{UserID: alice.ID}, wantTotal: 2},
		{name: "own failed", query: &entity.GenerationRequestQuery{UserID: alice.ID, Status: "failed"}, wantTotal: 1},
		{name: "admin sees all", query: &entity.GenerationRequestQuery{UserID: alice.ID, IncludeAll: true}, wantTotal: 3},
		{name: "status all", query: &entity.GenerationRequestQuery{UserID: bob.ID, Status: "all"}, wantTotal: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, meta, err := repo.ListGenerationRequests(ctx, tt.query)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if meta.Total != tt.wantTotal {
				t.Errorf("expected total %d, got %d", tt.wantTotal, meta.Total)
			}
			if int64(len(records)) != tt.wantTotal {
				t.Errorf("expected %d records, got %d", tt.wantTotal, len(records))
			}
		})
	}
}

func TestCreditsBalance(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "e@example.com")

	for _, amount := range []int{1, 5, -2} {
		if err := repo.CreateCredit(ctx, &entity.DbCredit{UserID: user.ID, Type: entity.CreditTypePurchase, Amount: amount}); err != nil {
			t.Fatalf("create credit: %v", err)
		}
	}
	total, err := repo.SumCredits(ctx, user.ID)
	if err != nil {
		t.Fatalf("sum credits: %v", err)
	}
	if total != 4 {
		t.Errorf("expected balance 4, got %d", total)
	}

	empty, err := repo.SumCredits(ctx, user.ID+100)
	if err != nil {
		t.Fatalf("sum credits: %v", err)
	}
	if empty != 0 {
		t.Errorf("expected zero balance, got %d", empty)
	}
}

func TestWorkflowTemplatesAndConfigurations(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "f@example.com")
	other := createTestUser(t, repo, "g@example.com")

	if _, err := repo.GetActiveWorkflowTemplate(ctx); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found without templates, got %v", err)
	}

	older := &entity.DbWorkflowTemplate{Name: "v1", WorkflowID: "wf-1", BaseURL: "https://n8n.example.com", IsActive: true, CreatedAt: time.Now().Add(-time.Hour)}
	newer := &entity.DbWorkflowTemplate{Name: "v2", WorkflowID: "wf-2", BaseURL: "https://n8n.example.com", IsActive: true}
	for _, tpl := range []*entity.DbWorkflowTemplate{older, newer} {
		if err := repo.CreateWorkflowTemplate(ctx, tpl); err != nil {
			t.Fatalf("create template: %v", err)
		}
	}

	active, err := repo.GetActiveWorkflowTemplate(ctx)
	if err != nil {
		t.Fatalf("active template: %v", err)
	}
	if active.WorkflowID != "wf-2" {
		t.Errorf("expected newest template wf-2, got %s", active.WorkflowID)
	}

	inactive := false
	if err := repo.UpdateWorkflowTemplate(ctx, newer.ID, entity.WorkflowTemplateUpdates{IsActive: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err = repo.GetActiveWorkflowTemplate(ctx)
	if err != nil {
		t.Fatalf("active template: %v", err)
	}
	if active.WorkflowID != "wf-1" {
		t.Errorf("expected fallback to wf-1, got %s", active.WorkflowID)
	}

	cfg := &entity.DbWorkflowConfiguration{UserID: user.ID, TemplateID: &older.ID, WebhookURL: older.WebhookURL("/webhook/generate-image"), IsActive: true}
	if err := repo.CreateWorkflowConfiguration(ctx, cfg); err != nil {
		t.Fatalf("create configuration: %v", err)
	}
	loaded, err := repo.GetActiveWorkflowConfiguration(ctx, user.ID)
	if err != nil {
		t.Fatalf("active configuration: %v", err)
	}
	if loaded.WebhookURL != "https://n8n.example.com/webhook/generate-image" {
		t.Errorf("unexpected webhook url %q", loaded.WebhookURL)
	}

	missing, err := repo.ListUsersWithoutWorkflowConfiguration(ctx)
	if err != nil {
		t.Fatalf("list users without configuration: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != other.ID {
		t.Errorf("expected only user %d, got %+v", other.ID, missing)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createTestUser(t, repo, "Cascade@Example.com")
	other := createTestUser(t, repo, "keep@example.com")

	if user.Email != "cascade@example.com" {
		t.Fatalf("expected normalised email, got %q", user.Email)
	}

	req := createTestRequest(t, repo, user.ID, "token-cascade")
	kept := createTestRequest(t, repo, other.ID, "token-kept")
	markTestProcessing(t, repo, req.ID)
	if err := repo.AppendProcessingLog(ctx, &entity.DbProcessingLog{RequestID: &req.ID, StepName: entity.StepWorkflowStarted, Status: entity.LogStatusStarted}); err != nil {
		t.Fatalf("append log: %v", err)
	}
	if err := repo.TransitionGenerationRequest(ctx, req.ID, entity.StatusTransition{
		To:        entity.GenerationStatusCompleted,
		Artifacts: []entity.DbGeneratedArtifact{{URL: "https://cdn.example.com/1.png"}},
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := repo.CreateCredit(ctx, &entity.DbCredit{UserID: user.ID, Type: entity.CreditTypePurchase, Amount: 3}); err != nil {
		t.Fatalf("create credit: %v", err)
	}
	if err := repo.CreateWorkflowConfiguration(ctx, &entity.DbWorkflowConfiguration{UserID: user.ID, WebhookURL: "https://n8n.example.com/webhook/x", IsActive: true}); err != nil {
		t.Fatalf("create configuration: %v", err)
	}

	if err := repo.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := repo.GetGenerationRequest(ctx, req.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected request removed, got %v", err)
	}
	if _, err := repo.GetGenerationRequest(ctx, kept.ID); err != nil {
		t.Errorf("other user's request should survive: %v", err)
	}
	if _, err := repo.GetActiveWorkflowConfiguration(ctx, user.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected configuration removed, got %v", err)
	}
	if balance, _ := repo.SumCredits(ctx, user.ID); balance != 0 {
		t.Errorf("expected credits removed, balance %d", balance)
	}
	var artifacts int64
	repo.db.Model(&entity.DbGeneratedArtifact{}).Where("request_id = ?", req.ID).Count(&artifacts)
	if artifacts != 0 {
		t.Errorf("expected artifacts removed, %d left", artifacts)
	}
	logs, _ := repo.ListProcessingLogs(ctx, req.ID)
	if len(logs) != 0 {
		t.Errorf("expected logs removed, %d left", len(logs))
	}

	if err := repo.DeleteUser(ctx, user.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
	if err := repo.UpdateUser(ctx, user.ID, entity.UserUpdates{DisplayName: ptr("ghost")}); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("expected not found on update, got %v", err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestNewPagination(t *testing.T) {
	tests := []struct {
		name     string
		params   *entity.BaseParams
		wantPage int
		wantSize int
	}{
		{name: "默认值", params: nil, wantPage: 1, wantSize: defaultPageSize},
		{name: "指定页码", params: &entity.BaseParams{Page: 3, PageSize: 10}, wantPage: 3, wantSize: 10},
		{name: "超过上限", params: &entity.BaseParams{Page: 1, PageSize: 500}, wantPage: 1, wantSize: maxPageSize},
		{name: "负数回退", params: &entity.BaseParams{Page: -2, PageSize: -1}, wantPage: 1, wantSize: defaultPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPagination(tt.params)
			if p.page != tt.wantPage || p.size != tt.wantSize {
				t.Errorf("newPagination() = %+v, want page %d size %d", p, tt.wantPage, tt.wantSize)
			}
		})
	}
}

func TestListUsersPaging(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		createTestUser(t, repo, email)
	}

	users, meta, err := repo.ListUsers(ctx, &entity.UserQuery{BaseParams: entity.BaseParams{Page: 2, PageSize: 2}})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if meta.Total != 3 || meta.Page != 2 || meta.PageSize != 2 {
		t.Errorf("unexpected meta %+v", meta)
	}
	// 按 id 倒序，第二页只剩最早创建的用户
	if len(users) != 1 || users[0].Email != "a@example.com" {
		t.Errorf("unexpected page %+v", users)
	}
}

func TestListUsersSorting(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	for _, email := range []string{"carol@example.com", "alice@example.com", "bob@example.com"} {
		createTestUser(t, repo, email)
	}

	tests := []struct {
		name      string
		params    entity.BaseParams
		wantFirst string
	}{
		{name: "默认按 id 倒序", wantFirst: "bob@example.com"},
		{name: "按邮箱升序", params: entity.BaseParams{SortBy: "email"}, wantFirst: "alice@example.com"},
		{name: "按邮箱倒序", params: entity.BaseParams{SortBy: "Email", SortDesc: true}, wantFirst: "carol@example.com"},
		{name: "非法字段回退默认", params: entity.BaseParams{SortBy: "password_hash; drop table"}, wantFirst: "bob@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, _, err := repo.ListUsers(ctx, &entity.UserQuery{BaseParams: tt.params})
			if err != nil {
				t.Fatalf("list users: %v", err)
			}
			if len(users) != 3 || users[0].Email != tt.wantFirst {
				t.Errorf("expected %s first, got %+v", tt.wantFirst, users)
			}
		})
	}
}
