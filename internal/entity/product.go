package entity

import (
	"strings"
	"time"
)

// DbProduct is a saved product whose fields fill in a generation request.
type DbProduct struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID uint    `gorm:"column:user_id;index;not null" json:"user_id"`
	User   *DbUser `gorm:"foreignKey:UserID" json:"-"`

	Name             string  `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description      string  `gorm:"column:description;type:text" json:"description"`
	Category         string  `gorm:"column:category;type:varchar(128);not null" json:"category"`
	ImageURL         string  `gorm:"column:image_url;type:text" json:"image_url"`
	ImagePath        string  `gorm:"column:image_path;type:varchar(512)" json:"image_path,omitempty"`
	BrandColors      JSONMap `gorm:"column:brand_colors;type:json" json:"brand_colors"`
	TargetAudience   string  `gorm:"column:target_audience;type:varchar(255)" json:"target_audience"`
	StylePreferences string  `gorm:"column:style_preferences;type:text" json:"style_preferences"`
	Slogan           string  `gorm:"column:slogan;type:varchar(255)" json:"slogan"`
	// Attributes 保存品牌语气、光线、构图等创意方向，原样透传给工作流
	Attributes JSONMap `gorm:"column:attributes;type:json" json:"attributes"`
}

// TableName 指定表名
func (DbProduct) TableName() string {
	return "products"
}

// ProductAttributeKeys 是 attributes 中允许保存的创意方向字段
var ProductAttributeKeys = []string{
	"brand_name",
	"brand_tone",
	"brand_personality",
	"color_theme",
	"background_style",
	"lighting_style",
	"product_placement",
	"typography_style",
	"composition_guidelines",
	"surface_type",
	"accent_props",
	"camera_angle",
	"visual_mood",
	"texture_preferences",
	"overlay_text_style",
	"premium_level",
	"trending_themes",
}

// CleanProductAttributes 丢弃未知键与空值
func CleanProductAttributes(raw map[string]any) JSONMap {
	cleaned := JSONMap{}
	for _, key := range ProductAttributeKeys {
		switch v := raw[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				cleaned[key] = trimmed
			}
		case []any:
			var items []string
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					items = append(items, strings.TrimSpace(s))
				}
			}
			if len(items) > 0 {
				cleaned[key] = items
			}
		case []string:
			if len(v) > 0 {
				cleaned[key] = v
			}
		}
	}
	return cleaned
}

// ProductRequest 创建与修改商品的请求体，修改时省略的字段保持不变
type ProductRequest struct {
	Name             *string        `json:"name,omitempty"`
	Description      *string        `json:"description,omitempty"`
	Category         *string        `json:"category,omitempty"`
	ImageURL         *string        `json:"image_url,omitempty"`
	ImagePath        *string        `json:"image_path,omitempty"`
	PrimaryColor     *string        `json:"primary_color,omitempty"`
	SecondaryColor   *string        `json:"secondary_color,omitempty"`
	TargetAudience   *string        `json:"target_audience,omitempty"`
	StylePreferences *string        `json:"style_preferences,omitempty"`
	Slogan           *string        `json:"slogan,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// ProductUpdates 商品更新字段
type ProductUpdates struct {
	Name             *string
	Description      *string
	Category         *string
	ImageURL         *string
	ImagePath        *string
	BrandColors      JSONMap
	TargetAudience   *string
	StylePreferences *string
	Slogan           *string
	Attributes       JSONMap
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u ProductUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.Name != nil {
		updates["name"] = *u.Name
	}
	if u.Description != nil {
		updates["description"] = *u.Description
	}
	if u.Category != nil {
		updates["category"] = *u.Category
	}
	if u.ImageURL != nil {
		updates["image_url"] = *u.ImageURL
	}
	if u.ImagePath != nil {
		updates["image_path"] = *u.ImagePath
	}
	if u.BrandColors != nil {
		updates["brand_colors"] = u.BrandColors
	}
	if u.TargetAudience != nil {
		updates["target_audience"] = *u.TargetAudience
	}
	if u.StylePreferences != nil {
		updates["style_preferences"] = *u.StylePreferences
	}
	if u.Slogan != nil {
		updates["slogan"] = *u.Slogan
	}
	if u.Attributes != nil {
		updates["attributes"] = u.Attributes
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u ProductUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
