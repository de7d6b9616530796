package model

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 代表对话中的单条消息。
// 客户端生成的 id 前缀：tmp- 为乐观消息，srv- / srv-u- 为已确认消息。
type Message struct {
	ID         ID        `json:"id"`
	Role       string    `json:"role"` // "user" 或 "assistant"
	Content    string    `json:"content"`
	Timestamp  Timestamp `json:"timestamp"`
	HasImages  bool      `json:"hasImages,omitempty"`
	ImageCount int       `json:"imageCount,omitempty"`
	Images     []string  `json:"images,omitempty"` // base64，不含 data: 前缀
}

// User 是后端返回的用户身份。
type User struct {
	Email string `json:"email"`
}
