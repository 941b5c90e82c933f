package entity

import "time"

// GenerationStatus is the lifecycle state of a generation request.
type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusProcessing GenerationStatus = "processing"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s GenerationStatus) IsTerminal() bool {
	return s == GenerationStatusCompleted || s == GenerationStatusFailed
}

// IsValid reports whether s is one of the known statuses.
func (s GenerationStatus) IsValid() bool {
	switch s {
	case GenerationStatusPending, GenerationStatusProcessing, GenerationStatusCompleted, GenerationStatusFailed:
		return true
	default:
		return false
	}
}

// Predecessors lists the statuses a row may be in when moving to s.
// pending has none: a row is created pending and never returns to it.
// completed requires processing; failed is also reachable from pending when the
// dispatch itself fails.
func (s GenerationStatus) Predecessors() []GenerationStatus {
	switch s {
	case GenerationStatusProcessing:
		return []GenerationStatus{GenerationStatusPending}
	case GenerationStatusCompleted:
		return []GenerationStatus{GenerationStatusProcessing}
	case GenerationStatusFailed:
		return []GenerationStatus{GenerationStatusPending, GenerationStatusProcessing}
	default:
		return nil
	}
}

// CanTransitionTo reports whether moving from s to next keeps the status moving forward.
func (s GenerationStatus) CanTransitionTo(next GenerationStatus) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

// DbGenerationRequest stores one dispatch attempt of a marketing image generation.
type DbGenerationRequest struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint    `gorm:"column:user_id;index;not null" json:"user_id"`
	User   *DbUser `gorm:"foreignKey:UserID" json:"-"`

	ProductName      string  `gorm:"column:product_name;type:varchar(255);not null" json:"product_name"`
	Category         string  `gorm:"column:category;type:varchar(128);not null" json:"category"`
	Theme            string  `gorm:"column:theme;type:varchar(255)" json:"theme"`
	TargetAudience   string  `gorm:"column:target_audience;type:varchar(255)" json:"target_audience"`
	StylePreferences string  `gorm:"column:style_preferences;type:text" json:"style_preferences"`
	AdditionalInfo   string  `gorm:"column:additional_info;type:text" json:"additional_info"`
	Slogan           string  `gorm:"column:slogan;type:varchar(255)" json:"slogan"`
	BrandColors      JSONMap `gorm:"column:brand_colors;type:json" json:"brand_colors"`
	SourceImageURL   string  `gorm:"column:source_image_url;type:text;not null" json:"source_image_url"`
	SourceImagePath  string  `gorm:"column:source_image_path;type:varchar(512)" json:"source_image_path,omitempty"`

	Status               GenerationStatus `gorm:"column:status;type:varchar(32);index;not null" json:"status"`
	IdempotencyToken     string           `gorm:"column:idempotency_token;type:varchar(64);uniqueIndex" json:"idempotency_token"`
	ExternalExecutionRef *string          `gorm:"column:external_execution_ref;type:varchar(255);index" json:"external_execution_ref"`
	WorkflowID           string           `gorm:"column:workflow_id;type:varchar(255)" json:"workflow_id,omitempty"`
	ErrorKind            string           `gorm:"column:error_kind;type:varchar(64)" json:"error_kind,omitempty"`
	ErrorMessage         string           `gorm:"column:error_message;type:text" json:"error_message,omitempty"`
	CompletedAt          *time.Time       `gorm:"column:completed_at" json:"completed_at,omitempty"`
	RetryOf              *uint            `gorm:"column:retry_of;index" json:"retry_of,omitempty"`
	ProductID            *uint            `gorm:"column:product_id;index" json:"product_id,omitempty"`
	PromptTemplateID     *uint            `gorm:"column:prompt_template_id" json:"prompt_template_id,omitempty"`
	Prompt               string           `gorm:"column:prompt;type:text" json:"prompt,omitempty"`

	Artifacts []DbGeneratedArtifact `gorm:"foreignKey:RequestID" json:"artifacts"`
}

// TableName 指定表名
func (DbGenerationRequest) TableName() string {
	return "generation_requests"
}

// ExecutionRef returns the executor reference or "".
func (r *DbGenerationRequest) ExecutionRef() string {
	if r == nil || r.ExternalExecutionRef == nil {
		return ""
	}
	return *r.ExternalExecutionRef
}

// DbGeneratedArtifact is one output image of a completed request.
type DbGeneratedArtifact struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	RequestID    uint      `gorm:"column:request_id;index;not null" json:"request_id"`
	URL          string    `gorm:"column:url;type:text;not null" json:"url"`
	StoragePath  string    `gorm:"column:storage_path;type:varchar(512)" json:"storage_path,omitempty"`
	VariantLabel string    `gorm:"column:variant_label;type:varchar(128)" json:"variant_label"`
	Caption      string    `gorm:"column:caption;type:text" json:"caption,omitempty"`
}

// TableName 指定表名
func (DbGeneratedArtifact) TableName() string {
	return "generated_artifacts"
}

// LogStatus is the status of a processing log entry.
type LogStatus string

const (
	LogStatusStarted   LogStatus = "started"
	LogStatusCompleted LogStatus = "completed"
	LogStatusFailed    LogStatus = "failed"
)

// Step names written to processing_logs.
const (
	StepWorkflowStarted     = "workflow_started"
	StepN8nExecution        = "n8n_execution"
	StepWorkflowError       = "workflow_error"
	StepImageUpload         = "image_upload"
	StepAIProcessing        = "ai_processing"
	StepImageGeneration     = "image_generation"
	StepWorkflowCompleted   = "workflow_completed"
	StepArtifactMirror      = "artifact_mirror"
	StepSharedWorkflowSetup = "shared_workflow_setup"
)

// ProgressSteps are the step names counted towards the progress estimate.
var ProgressSteps = []string{
	StepWorkflowStarted,
	StepImageUpload,
	StepAIProcessing,
	StepImageGeneration,
	StepWorkflowCompleted,
}

// DbProcessingLog is an append-only diagnostic entry.
type DbProcessingLog struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	RequestID *uint     `gorm:"column:request_id;index" json:"request_id"`
	StepName  string    `gorm:"column:step_name;type:varchar(128);not null" json:"step_name"`
	Status    LogStatus `gorm:"column:status;type:varchar(32);not null" json:"status"`
	Message   string    `gorm:"column:message;type:text" json:"message"`
	Data      JSONMap   `gorm:"column:data;type:json" json:"data,omitempty"`
}

// TableName 指定表名
func (DbProcessingLog) TableName() string {
	return "processing_logs"
}

// GenerationRequestQuery supports listing requests with pagination.
type GenerationRequestQuery struct {
	BaseParams
	UserID     uint   `json:"-" form:"-"`
	IncludeAll bool   `json:"-" form:"-"`
	Status     string `json:"status" form:"status" query:"status"`
}

// GenerationRequestUpdates 生成请求更新字段（不含状态，状态只能通过 TransitionGenerationRequest 修改）
type GenerationRequestUpdates struct {
	ExternalExecutionRef *string
	WorkflowID           *string
	SourceImagePath      *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u GenerationRequestUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.ExternalExecutionRef != nil {
		updates["external_execution_ref"] = *u.ExternalExecutionRef
	}
	if u.WorkflowID != nil {
		updates["workflow_id"] = *u.WorkflowID
	}
	if u.SourceImagePath != nil {
		updates["source_image_path"] = *u.SourceImagePath
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u GenerationRequestUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}

// StatusTransition describes a guarded status change of a generation request.
type StatusTransition struct {
	To           GenerationStatus
	ExecutionRef string
	ErrorKind    string
	ErrorMessage string
	Artifacts    []DbGeneratedArtifact
	At           time.Time
}

// GenerationStats summarises one owner's generation history.
type GenerationStats struct {
	TotalGenerations int64            `json:"total_generations"`
	Completed        int64            `json:"completed"`
	Failed           int64            `json:"failed"`
	InProgress       int64            `json:"in_progress"`
	TotalImages      int64            `json:"total_images"`
	SuccessRate      int              `json:"success_rate"`
	CategoryCounts   map[string]int64 `json:"category_counts"`
}
