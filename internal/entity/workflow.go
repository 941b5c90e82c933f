package entity

import (
	"strings"
	"time"
)

// DbWorkflowTemplate is a shared n8n workflow that new accounts are provisioned from.
type DbWorkflowTemplate struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Name        string    `gorm:"column:name;type:varchar(255);not null" json:"name" yaml:"name"`
	Description string    `gorm:"column:description;type:text" json:"description" yaml:"description"`
	WorkflowID  string    `gorm:"column:workflow_id;type:varchar(255);uniqueIndex;not null" json:"workflow_id" yaml:"workflow_id"`
	BaseURL     string    `gorm:"column:base_url;type:varchar(512);not null" json:"base_url" yaml:"base_url"`
	WebhookPath string    `gorm:"column:webhook_path;type:varchar(255)" json:"webhook_path" yaml:"webhook_path"`
	IsActive    bool      `gorm:"column:is_active;not null" json:"is_active" yaml:"is_active"`
}

// TableName 指定表名
func (DbWorkflowTemplate) TableName() string {
	return "workflow_templates"
}

// WebhookURL joins the base url with the webhook path, using fallbackPath when the template has none.
func (t DbWorkflowTemplate) WebhookURL(fallbackPath string) string {
	path := strings.TrimSpace(t.WebhookPath)
	if path == "" {
		path = strings.TrimSpace(fallbackPath)
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(strings.TrimSpace(t.BaseURL), "/") + path
}

// DbWorkflowConfiguration is the executor configuration a user dispatches through.
type DbWorkflowConfiguration struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	UserID     uint       `gorm:"column:user_id;index;not null" json:"user_id"`
	TemplateID *uint      `gorm:"column:template_id;index" json:"template_id,omitempty"`
	Name       string     `gorm:"column:name;type:varchar(255)" json:"name"`
	BaseURL    string     `gorm:"column:base_url;type:varchar(512)" json:"base_url"`
	WebhookURL string     `gorm:"column:webhook_url;type:varchar(512)" json:"webhook_url"`
	WorkflowID string     `gorm:"column:workflow_id;type:varchar(255)" json:"workflow_id"`
	APIKey     string     `gorm:"column:api_key;type:varchar(512)" json:"-"`
	IsActive   bool       `gorm:"column:is_active;not null" json:"is_active"`
	LastSyncAt *time.Time `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`
}

// TableName 指定表名
func (DbWorkflowConfiguration) TableName() string {
	return "workflow_configurations"
}

// HasAPIKey reports whether a per-user executor key is stored.
func (c DbWorkflowConfiguration) HasAPIKey() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// WorkflowTemplateUpdates 工作流模板更新字段
type WorkflowTemplateUpdates struct {
	Name        *string
	Description *string
	BaseURL     *string
	WebhookPath *string
	IsActive    *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u WorkflowTemplateUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.BaseURL != nil {
		updates["base_url"] = *u.BaseURL
	}
	if u.WebhookPath != nil {
		updates["webhook_path"] = *u.WebhookPath
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u WorkflowTemplateUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// WorkflowConfigurationUpdates 用户工作流配置更新字段
type WorkflowConfigurationUpdates struct {
	Name       *string
	BaseURL    *string
	WebhookURL *string
	WorkflowID *string
	APIKey     *string
	IsActive   *bool
	LastSyncAt *time.Time
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u WorkflowConfigurationUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.BaseURL != nil {
		updates["base_url"] = *u.BaseURL
	}
	if u.WebhookURL != nil {
		updates["webhook_url"] = *u.WebhookURL
	}
	if u.WorkflowID != nil {
		updates["workflow_id"] = *u.WorkflowID
	}
	if u.APIKey != nil {
		updates["api_key"] = *u.APIKey
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	if u.LastSyncAt != nil {
		updates["last_sync_at"] = *u.LastSyncAt
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u WorkflowConfigurationUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

type WorkflowTemplateCreateRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	WorkflowID  string `json:"workflow_id" binding:"required"`
	BaseURL     string `json:"base_url" binding:"required"`
	WebhookPath string `json:"webhook_path"`
	IsActive    *bool  `json:"is_active,omitempty"`
}

type WorkflowTemplateUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	BaseURL     *string `json:"base_url,omitempty"`
	WebhookPath *string `json:"webhook_path,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
}

// WorkflowConfigurationRequest replaces the caller's executor configuration.
type WorkflowConfigurationRequest struct {
	Name       string  `json:"name"`
	BaseURL    string  `json:"base_url"`
	WebhookURL string  `json:"webhook_url" binding:"required"`
	WorkflowID string  `json:"workflow_id"`
	APIKey     *string `json:"api_key,omitempty"`
}

// WorkflowConfigurationView hides the stored api key.
type WorkflowConfigurationView struct {
	DbWorkflowConfiguration
	HasAPIKey bool `json:"has_api_key"`
}
