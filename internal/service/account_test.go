package service

import (
	"context"
	"errors"
	"testing"

	"promoshot/internal/auth"
	"promoshot/internal/entity"
	"promoshot/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// brokenCredits fails every credit write.
type brokenCredits struct {
	model.Repository
}

func (brokenCredits) CreateCredit(context.Context, *entity.DbCredit) error {
	return errors.New("credits table unavailable")
}

func seedTemplate(t *testing.T, repo model.Repository) *entity.DbWorkflowTemplate {
	t.Helper()
	template := &entity.DbWorkflowTemplate{
		Name:       "Marketing",
		WorkflowID: "wf-marketing",
		BaseURL:    "https://n8n.example.com/",
		IsActive:   true,
	}
	require.NoError(t, repo.CreateWorkflowTemplate(context.Background(), template))
	return template
}

func TestRegisterRunsSignupChain(t *testing.T) {
	repo := newTestRepo(t)
	template := seedTemplate(t, repo)
	svc := NewAccountService(repo, AccountOptions{SignupBonusCredits: 1, DefaultWebhookPath: "/webhook/generate-image"})
	ctx := context.Background()

	user, report, err := svc.Register(ctx, RegisterInput{Email: " First@Example.com ", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, "first@example.com", user.Email)
	assert.Equal(t, entity.UserRoleSuperAdmin, user.Role)
	assert.Empty(t, report.Failed())
	assert.NoError(t, auth.VerifyPassword(user.PasswordHash, "password123"))

	balance, err := repo.SumCredits(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance)

	cfg, err := repo.GetActiveWorkflowConfiguration(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://n8n.example.com/webhook/generate-image", cfg.WebhookURL)
	require.NotNil(t, cfg.TemplateID)
	assert.Equal(t, template.ID, *cfg.TemplateID)

	second, _, err := svc.Register(ctx, RegisterInput{Email: "second@example.com", Password: "password123"})
	require.NoError(t, err)
	assert.Equal(t, entity.UserRoleUser, second.Role)

	_, _, err = svc.Register(ctx, RegisterInput{Email: "FIRST@example.com", Password: "password123"})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterSurvivesAuxiliaryFailures(t *testing.T) {
	repo := newTestRepo(t)
	// 没有可用模板，积分写入也失败
	svc := NewAccountService(brokenCredits{Repository: repo}, AccountOptions{SignupBonusCredits: 1})
	ctx := context.Background()

	user, report, err := svc.Register(ctx, RegisterInput{Email: "user@example.com", Password: "password123"})
	require.NoError(t, err)
	require.NotNil(t, user)

	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "signup_bonus", failed[0].Name)
	assert.ErrorIs(t, failed[1].Err, ErrNoActiveTemplate)

	stored, err := repo.GetUserByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
}

func TestRegisterRequiresCredentials(t *testing.T) {
	svc := NewAccountService(newTestRepo(t), AccountOptions{})
	_, _, err := svc.Register(context.Background(), RegisterInput{Email: "a@example.com"})
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestAuthenticate(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewAccountService(repo, AccountOptions{})
	ctx := context.Background()

	user, _, err := svc.Register(ctx, RegisterInput{Email: "owner@example.com", Password: "password123"})
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, " OWNER@example.com ", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = svc.Authenticate(ctx, "owner@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "missing@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "", "password123")
	assert.ErrorIs(t, err, ErrValidation)

	disabled := false
	require.NoError(t, repo.UpdateUser(ctx, user.ID, entity.UserUpdates{IsActive: &disabled}))
	_, err = svc.Authenticate(ctx, "owner@example.com", "password123")
	assert.ErrorIs(t, err, ErrUserDisabled)
}

func TestAuthenticateUpgradesWeakHash(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewAccountService(repo, AccountOptions{})
	ctx := context.Background()

	weak, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &entity.DbUser{Email: "legacy@example.com", PasswordHash: string(weak), Role: entity.UserRoleUser, IsActive: true}
	require.NoError(t, repo.CreateUser(ctx, user))

	_, err = svc.Authenticate(ctx, "legacy@example.com", "password123")
	require.NoError(t, err)

	stored, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, auth.NeedsRehash(stored.PasswordHash))
	assert.NoError(t, auth.VerifyPassword(stored.PasswordHash, "password123"))
}
