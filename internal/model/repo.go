package model

import (
	"context"

	"promoshot/internal/entity"
	"promoshot/internal/model/sql"
)

// ErrStaleTransition 表示状态转换的前置状态不满足（行已被其它写入者推进）
var ErrStaleTransition = sql.ErrStaleTransition

// Repository 定义数据库操作接口
type Repository interface {
	// 用户管理
	CreateUser(ctx context.Context, user *entity.DbUser) error
	UpdateUser(ctx context.Context, id uint, updates entity.UserUpdates) error
	GetUserByEmail(ctx context.Context, email string) (*entity.DbUser, error)
	GetUserByID(ctx context.Context, id uint) (*entity.DbUser, error)
	ListUsers(ctx context.Context, params *entity.UserQuery) ([]entity.DbUser, *entity.Meta, error)
	DeleteUser(ctx context.Context, id uint) error
	CountUsers(ctx context.Context) (int64, error)

	// 积分
	CreateCredit(ctx context.Context, credit *entity.DbCredit) error
	ListCredits(ctx context.Context, userID uint) ([]entity.DbCredit, error)
	SumCredits(ctx context.Context, userID uint) (int64, error)

	// 生成请求
	CreateGenerationRequest(ctx context.Context, req *entity.DbGenerationRequest) error
	GetGenerationRequest(ctx context.Context, id uint) (*entity.DbGenerationRequest, error)
	ListGenerationRequests(ctx context.Context, params *entity.GenerationRequestQuery) ([]entity.DbGenerationRequest, *entity.Meta, error)
	UpdateGenerationRequest(ctx context.Context, id uint, updates entity.GenerationRequestUpdates) error
	// TransitionGenerationRequest 只在当前状态属于 transition.To 的前置状态时生效，否则返回 ErrStaleTransition
	TransitionGenerationRequest(ctx context.Context, id uint, transition entity.StatusTransition) error
	DeleteGenerationRequest(ctx context.Context, id uint) error

	// GetGenerationStats 汇总用户的生成次数、产物数量与分类分布
	GetGenerationStats(ctx context.Context, userID uint) (*entity.GenerationStats, error)

	// 商品
	CreateProduct(ctx context.Context, product *entity.DbProduct) error
	GetProduct(ctx context.Context, id uint) (*entity.DbProduct, error)
	ListProducts(ctx context.Context, userID uint) ([]entity.DbProduct, error)
	UpdateProduct(ctx context.Context, id uint, updates entity.ProductUpdates) error
	DeleteProduct(ctx context.Context, id uint) error

	// 提示词模板
	CreatePromptTemplate(ctx context.Context, template *entity.DbPromptTemplate) error
	GetPromptTemplate(ctx context.Context, id uint) (*entity.DbPromptTemplate, error)
	ListPromptTemplates(ctx context.Context, category string, includeInactive bool) ([]entity.DbPromptTemplate, error)
	UpdatePromptTemplate(ctx context.Context, id uint, updates entity.PromptTemplateUpdates) error
	DeletePromptTemplate(ctx context.Context, id uint) error

	// 处理日志（只追加）
	AppendProcessingLog(ctx context.Context, entry *entity.DbProcessingLog) error
	ListProcessingLogs(ctx context.Context, requestID uint) ([]entity.DbProcessingLog, error)

	// 工作流模板与配置
	CreateWorkflowTemplate(ctx context.Context, template *entity.DbWorkflowTemplate) error
	UpdateWorkflowTemplate(ctx context.Context, id uint, updates entity.WorkflowTemplateUpdates) error
	DeleteWorkflowTemplate(ctx context.Context, id uint) error
	GetWorkflowTemplate(ctx context.Context, id uint) (*entity.DbWorkflowTemplate, error)
	GetWorkflowTemplateByWorkflowID(ctx context.Context, workflowID string) (*entity.DbWorkflowTemplate, error)
	ListWorkflowTemplates(ctx context.Context, includeInactive bool) ([]entity.DbWorkflowTemplate, error)
	GetActiveWorkflowTemplate(ctx context.Context) (*entity.DbWorkflowTemplate, error)

	CreateWorkflowConfiguration(ctx context.Context, cfg *entity.DbWorkflowConfiguration) error
	UpdateWorkflowConfiguration(ctx context.Context, id uint, updates entity.WorkflowConfigurationUpdates) error
	GetActiveWorkflowConfiguration(ctx context.Context, userID uint) (*entity.DbWorkflowConfiguration, error)
	ListUsersWithoutWorkflowConfiguration(ctx context.Context) ([]entity.DbUser, error)
}
