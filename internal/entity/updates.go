package entity

// UserUpdates 用户更新字段
type UserUpdates struct {
	DisplayName         *string
	Role                *string
	PasswordHash        *string
	IsActive            *bool
	BrandPrimaryColor   *string
	BrandSecondaryColor *string
	BrandSlogan         *string
}

// ToMap 转换为 GORM 更新 map（内部使用）
func (u UserUpdates) ToMap() map[string]interface{} {
	updates := make(map[string]interface{})
	if u.DisplayName != nil {
		updates["display_name"] = *u.DisplayName
	}
	if u.Role != nil {
		updates["role"] = *u.Role
	}
	if u.PasswordHash != nil {
		updates["password_hash"] = *u.PasswordHash
	}
	if u.IsActive != nil {
		updates["is_active"] = *u.IsActive
	}
	if u.BrandPrimaryColor != nil {
		updates["brand_primary_color"] = *u.BrandPrimaryColor
	}
	if u.BrandSecondaryColor != nil {
		updates["brand_secondary_color"] = *u.BrandSecondaryColor
	}
	if u.BrandSlogan != nil {
		updates["brand_slogan"] = *u.BrandSlogan
	}
	return updates
}

// IsEmpty 检查是否没有任何更新字段
func (u UserUpdates) IsEmpty() bool {
	return len(u.ToMap()) == 0
}
