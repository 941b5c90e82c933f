package executor

// BrandColors carries the brand palette sent to the workflow.
type BrandColors struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
}

// Payload is the canonical body POSTed to the workflow webhook. Field names match
// what the n8n workflow nodes read.
type Payload struct {
	ImageRequestID    uint           `json:"imageRequestId"`
	RequestID         uint           `json:"requestId"`
	UserID            uint           `json:"userId"`
	ProductName       string         `json:"productName"`
	Category          string         `json:"category"`
	Theme             string         `json:"theme"`
	TargetAudience    string         `json:"targetAudience"`
	StylePreferences  string         `json:"stylePreferences"`
	AdditionalInfo    string         `json:"additionalInfo"`
	Slogan            string         `json:"slogan"`
	BrandColors       BrandColors    `json:"brandColors"`
	ImageURL          string         `json:"imageUrl"`
	ProductImage      string         `json:"productImage"`
	IdempotencyToken  string         `json:"idempotencyToken"`
	Prompt            string         `json:"prompt,omitempty"`
	ProductID         uint           `json:"productId,omitempty"`
	// CreativeDirection 是商品保存的品牌语气、光线等创意方向
	CreativeDirection map[string]any `json:"creativeDirection,omitempty"`
	Timestamp         string         `json:"timestamp"`
}
