package entity

import (
	"regexp"
	"strings"
	"time"
)

// DbPromptTemplate is an admin-managed prompt with {{variable}} placeholders.
type DbPromptTemplate struct {
	ID        uint       `gorm:"primarykey" json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	Name      string     `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Category  string     `gorm:"column:category;type:varchar(128);index;not null" json:"category"`
	Template  string     `gorm:"column:template;type:text;not null" json:"template"`
	Variables StringList `gorm:"column:variables;type:json" json:"variables"`
	IsActive  bool       `gorm:"column:is_active;not null" json:"is_active"`
}

// TableName 指定表名
func (DbPromptTemplate) TableName() string {
	return "prompt_templates"
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes every {{name}} with vars[name]. Placeholders without a value
// render as empty strings.
func (t DbPromptTemplate) Render(vars map[string]string) string {
	rendered := placeholderPattern.ReplaceAllStringFunc(t.Template, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
	return strings.TrimSpace(rendered)
}

// Placeholders lists the distinct variable names used by the template, in order.
func (t DbPromptTemplate) Placeholders() []string {
	var names []string
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Template, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// PromptTemplateRequest 创建与修改提示词模板的请求体
type PromptTemplateRequest struct {
	Name     *string `json:"name,omitempty"`
	Category *string `json:"category,omitempty"`
	Template *string `json:"template,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// PromptTemplateUpdates 提示词模板更新字段
type PromptTemplateUpdates struct {
	Name      *string
	Category  *string
	Template  *string
	Variables StringList
	IsActive  *bool
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u PromptTemplateUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Category != nil {
		updates["category"] = *u.Category
	}
	if u.Template != nil {
		updates["template"] = *u.Template
	}
	if u.Variables != nil {
		updates["variables"] = u.Variables
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u PromptTemplateUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
