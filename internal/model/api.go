package model

import "encoding/json"

// Envelope 是后端和代理层所有 JSON 响应共享的字段。
type Envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	// FastAPI 校验失败时返回 detail，可能是字符串或对象数组
	Detail json.RawMessage `json:"detail,omitempty"`
}

// ErrorMessage 返回响应中可展示给用户的错误信息。
func (e Envelope) ErrorMessage() string {
	if e.Error != "" {
		return e.Error
	}
	if len(e.Detail) > 0 {
		var s string
		if err := json.Unmarshal(e.Detail, &s); err == nil {
			return s
		}
	}
	return ""
}

// Credentials 是登录和注册的请求体。
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse 是登录、注册以及 who-am-i 的响应体。
type AuthResponse struct {
	Envelope
	User    *User  `json:"user,omitempty"`
	Message string `json:"message,omitempty"`
}

// PasswordResetRequest 覆盖 forgot-password / verify-reset-code / reset-password 三个接口。
type PasswordResetRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code,omitempty"`
	NewPassword string `json:"new_password,omitempty"`
}

// ChatRequest 是发送消息的请求体。ConversationID 为 nil 时由后端创建新对话。
type ChatRequest struct {
	Message        string   `json:"message"`
	Email          string   `json:"email"`
	ConversationID *string  `json:"conversation_id"`
	Language       string   `json:"language"`
	Images         []string `json:"images"`
}

// ChatResponse 是发送消息的响应体。
type ChatResponse struct {
	Envelope
	Response       string `json:"response,omitempty"`
	ConversationID ID     `json:"conversation_id,omitempty"`
}

// NewConversationRequest 是新建对话的请求体。
type NewConversationRequest struct {
	Email string `json:"email"`
}

// NewConversationResponse 是新建对话的响应体。
type NewConversationResponse struct {
	Envelope
	ConversationID ID `json:"conversation_id,omitempty"`
}

// HistoryResponse 是对话历史列表的响应体。history 原样透传。
type HistoryResponse struct {
	Envelope
	Conversations []Conversation    `json:"conversations"`
	History       []json.RawMessage `json:"history"`
}

// ConversationDetail 是单个对话接口中附带的对话元数据。
type ConversationDetail struct {
	ID    ID     `json:"id,omitempty"`
	Title string `json:"title"`
}

// ConversationResponse 是获取单个对话消息的响应体。
type ConversationResponse struct {
	Envelope
	Messages     []Message           `json:"messages"`
	Conversation *ConversationDetail `json:"conversation,omitempty"`
}

// FeedbackRequest 是消息反馈的请求体。
type FeedbackRequest struct {
	MessageID    ID     `json:"message_id"`
	FeedbackType string `json:"feedback_type"`
	Comment      string `json:"comment,omitempty"`
}

// TranscribeResponse 是语音转写的响应体。
type TranscribeResponse struct {
	Envelope
	Transcript string `json:"transcript,omitempty"`
	Language   string `json:"language,omitempty"`
}

// MemoryRefreshRequest 是后台记忆刷新的请求体。
type MemoryRefreshRequest struct {
	Email string `json:"email"`
}

// Base 返回响应中的公共字段，供通用的请求辅助函数读取。
func (e *Envelope) Base() *Envelope {
	return e
}
