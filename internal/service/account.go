package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"promoshot/internal/auth"
	"promoshot/internal/entity"
	"promoshot/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrNoActiveTemplate is returned when no workflow template can be provisioned from.
	ErrNoActiveTemplate = errors.New("no active workflow template")
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrUserDisabled is returned when a disabled account tries to sign in.
	ErrUserDisabled = errors.New("user is disabled")
)

// RegisterInput is the data needed to create an account.
type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

// StepResult is the outcome of one auxiliary signup step.
type StepResult struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// OK reports whether the step succeeded.
func (r StepResult) OK() bool { return r.Err == nil }

// SignupReport collects the auxiliary step results of a registration.
type SignupReport struct {
	Steps []StepResult
}

// Failed returns the steps that did not succeed.
func (r SignupReport) Failed() []StepResult {
	var failed []StepResult
	for _, step := range r.Steps {
		if !step.OK() {
			failed = append(failed, step)
		}
	}
	return failed
}

// AccountOptions configures AccountService.
type AccountOptions struct {
	SignupBonusCredits int
	DefaultWebhookPath string
}

type signupStep struct {
	name string
	run  func(ctx context.Context, user *entity.DbUser) error
}

// AccountService creates accounts and runs the signup side effects.
type AccountService struct {
	repo  model.Repository
	opts  AccountOptions
	steps []signupStep
}

// NewAccountService creates the service with the default auxiliary steps.
func NewAccountService(repo model.Repository, opts AccountOptions) *AccountService {
	s := &AccountService{repo: repo, opts: opts}
	s.steps = []signupStep{
		{name: "signup_bonus", run: s.GrantSignupBonus},
		{name: entity.StepSharedWorkflowSetup, run: s.ProvisionWorkflowConfiguration},
	}
	return s
}

// Register creates the user; only that step can fail the call. The auxiliary
// steps run afterwards and their failures are logged and reported, not returned.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*entity.DbUser, SignupReport, error) {
	var report SignupReport
	if s == nil || s.repo == nil {
		return nil, report, errors.New("account service not initialised")
	}

	user, err := s.createUser(ctx, in)
	if err != nil {
		return nil, report, err
	}

	for _, step := range s.steps {
		result := StepResult{Name: step.name, Err: step.run(ctx, user)}
		if result.Err != nil {
			logrus.WithError(result.Err).WithFields(logrus.Fields{
				"user_id": user.ID,
				"step":    step.name,
			}).Warn("signup step failed")
		}
		report.Steps = append(report.Steps, result)
	}
	return user, report, nil
}

func (s *AccountService) createUser(ctx context.Context, in RegisterInput) (*entity.DbUser, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	password := strings.TrimSpace(in.Password)
	if email == "" || password == "" {
		return nil, newGenerationError(ErrorKindValidation, "email and password are required", nil)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, newGenerationError(ErrorKindValidation, err.Error(), err)
	}

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	count, err := s.repo.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// 第一个注册的用户为超级管理员
	role := entity.UserRoleUser
	if count == 0 {
		role = entity.UserRoleSuperAdmin
	}

	user := &entity.DbUser{
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		Role:         role,
		IsActive:     true,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GrantSignupBonus adds the signup credit entry.
func (s *AccountService) GrantSignupBonus(ctx context.Context, user *entity.DbUser) error {
	if s.opts.SignupBonusCredits <= 0 {
		return nil
	}
	return s.repo.CreateCredit(ctx, &entity.DbCredit{
		UserID:      user.ID,
		Type:        entity.CreditTypeSignupBonus,
		Amount:      s.opts.SignupBonusCredits,
		Description: "signup bonus",
	})
}

// ProvisionWorkflowConfiguration points the user at the newest active template.
func (s *AccountService) ProvisionWorkflowConfiguration(ctx context.Context, user *entity.DbUser) error {
	template, err := s.repo.GetActiveWorkflowTemplate(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNoActiveTemplate
	}
	if err != nil {
		return fmt.Errorf("load active template: %w", err)
	}

	templateID := template.ID
	cfg := &entity.DbWorkflowConfiguration{
		UserID:     user.ID,
		TemplateID: &templateID,
		Name:       template.Name,
		BaseURL:    template.BaseURL,
		WebhookURL: template.WebhookURL(s.opts.DefaultWebhookPath),
		WorkflowID: template.WorkflowID,
		IsActive:   true,
	}
	if err := s.repo.CreateWorkflowConfiguration(ctx, cfg); err != nil {
		return fmt.Errorf("create workflow configuration: %w", err)
	}

	entry := &entity.DbProcessingLog{
		StepName: entity.StepSharedWorkflowSetup,
		Status:   entity.LogStatusCompleted,
		Message:  "shared workflow configured",
		Data: entity.JSONMap{
			"user_id":     user.ID,
			"template_id": template.ID,
			"workflow_id": template.WorkflowID,
		},
	}
	if err := s.repo.AppendProcessingLog(ctx, entry); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("failed to log workflow setup")
	}
	return nil
}

// Authenticate checks the credentials and upgrades weak password hashes in place.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*entity.DbUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		logrus.WithField("user_id", user.ID).Warn("password verification failed")
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserDisabled
	}

	if auth.NeedsRehash(user.PasswordHash) {
		hash, err := auth.HashPassword(password)
		if err == nil {
			err = s.repo.UpdateUser(ctx, user.ID, entity.UserUpdates{PasswordHash: &hash})
		}
		if err != nil {
			logrus.WithError(err).WithField("user_id", user.ID).Warn("failed to upgrade password hash")
		} else {
			user.PasswordHash = hash
		}
	}
	return user, nil
}
