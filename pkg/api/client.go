// Package api 是对话同步引擎访问代理层的 HTTP 客户端。
//
// 代理层与浏览器同源，会话通过 HTTP-only Cookie 维持，因此客户端持有一个 cookie jar；
// 调用方从不直接读取 Cookie。所有失败都被归类为 AuthenticationError、BackendError、
// TimeoutError 或 NetworkError。
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"net/url"
	"strings"

	"agri-assist-go/internal/model"
)

const maxResponseSize = 10 * 1024 * 1024

// Client 是代理层的客户端。
type Client struct {
	baseURL string
	http    *http.Client
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换底层的 http.Client（需自带 cookie jar）。
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.http = c
	}
}

// NewClient 创建一个指向代理层 baseURL 的客户端。
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid proxy url %q: %w", baseURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type result interface {
	Base() *model.Envelope
}

func (c *Client) url(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body interface{}, out result) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out result) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return transportError(op, err)
	}
	decodeErr := json.Unmarshal(data, out)
	message := ""
	if decodeErr == nil {
		message = out.Base().ErrorMessage()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, message)
	}
	if decodeErr != nil {
		return &BackendError{Status: resp.StatusCode, Message: "invalid response from server"}
	}
	if !out.Base().Success {
		return statusError(op, resp.StatusCode, message)
	}
	return nil
}

// WhoAmI 根据当前 Cookie 查询登录用户。
func (c *Client) WhoAmI(ctx context.Context) (*model.User, error) {
	var resp model.AuthResponse
	if err := c.doJSON(ctx, "whoami", http.MethodGet, "/api/auth/me", nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.Email == "" {
		return nil, &AuthenticationError{Message: "no user in response"}
	}
	return resp.User, nil
}

// Login 登录，成功后代理层通过 Set-Cookie 建立会话。
func (c *Client) Login(ctx context.Context, email, password string) (*model.User, error) {
	var resp model.AuthResponse
	body := model.Credentials{Email: email, Password: password}
	if err := c.doJSON(ctx, "login", http.MethodPost, "/api/auth/login", nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &BackendError{Status: http.StatusOK, Message: "login response without user"}
	}
	return resp.User, nil
}

// Signup 注册新账号，返回后端的提示信息。
func (c *Client) Signup(ctx context.Context, email, password string) (string, error) {
	var resp model.AuthResponse
	body := model.Credentials{Email: email, Password: password}
	if err := c.doJSON(ctx, "signup", http.MethodPost, "/api/auth/signup", nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Logout 吊销当前会话。
func (c *Client) Logout(ctx context.Context) error {
	var resp model.Envelope
	return c.doJSON(ctx, "logout", http.MethodPost, "/api/auth/logout", nil, struct{}{}, &resp)
}

// ForgotPassword 请求发送重置验证码。
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	return c.passwordCall(ctx, "forgot password", "/api/auth/forgot-password", model.PasswordResetRequest{Email: email})
}

// VerifyResetCode 校验验证码。
func (c *Client) VerifyResetCode(ctx context.Context, email, code string) (string, error) {
	return c.passwordCall(ctx, "verify reset code", "/api/auth/verify-reset-code", model.PasswordResetRequest{Email: email, Code: code})
}

// ResetPassword 设置新密码。
func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	req := model.PasswordResetRequest{Email: email, Code: code, NewPassword: newPassword}
	return c.passwordCall(ctx, "reset password", "/api/auth/reset-password", req)
}

func (c *Client) passwordCall(ctx context.Context, op, path string, body model.PasswordResetRequest) (string, error) {
	var resp model.AuthResponse
	if err := c.doJSON(ctx, op, http.MethodPost, path, nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// SendMessage 发送一条消息。
func (c *Client) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	var resp model.ChatResponse
	if err := c.doJSON(ctx, "send message", http.MethodPost, "/api/chat", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateConversation 新建一个对话。
func (c *Client) CreateConversation(ctx context.Context, email string) (model.ID, error) {
	var resp model.NewConversationResponse
	body := model.NewConversationRequest{Email: email}
	if err := c.doJSON(ctx, "create conversation", http.MethodPost, "/api/chat/new", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.ConversationID == "" {
		return "", &BackendError{Status: http.StatusOK, Message: "missing conversation_id"}
	}
	return resp.ConversationID, nil
}

// ListHistory 获取对话列表。
func (c *Client) ListHistory(ctx context.Context, email string) (*model.HistoryResponse, error) {
	var resp model.HistoryResponse
	query := url.Values{"userEmail": {email}}
	if err := c.doJSON(ctx, "list history", http.MethodGet, "/api/chat", query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func conversationPath(id model.ID) string {
	return "/api/conversation/" + url.PathEscape(id.String())
}

// FetchConversation 获取单个对话的消息。
func (c *Client) FetchConversation(ctx context.Context, email string, id model.ID) (*model.ConversationResponse, error) {
	var resp model.ConversationResponse
	query := url.Values{"email": {email}}
	if err := c.doJSON(ctx, "fetch conversation", http.MethodGet, conversationPath(id), query, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConversation 删除一个对话。
func (c *Client) DeleteConversation(ctx context.Context, email string, id model.ID) error {
	var resp model.Envelope
	query := url.Values{"email": {email}}
	return c.doJSON(ctx, "delete conversation", http.MethodDelete, conversationPath(id), query, nil, &resp)
}

// RefreshMemory 触发后台记忆刷新。
func (c *Client) RefreshMemory(ctx context.Context, email string) error {
	var resp model.Envelope
	body := model.MemoryRefreshRequest{Email: email}
	return c.doJSON(ctx, "refresh memory", http.MethodPost, "/api/memory/refresh", nil, body, &resp)
}

// SubmitFeedback 提交对某条消息的反馈。
func (c *Client) SubmitFeedback(ctx context.Context, req model.FeedbackRequest) error {
	var resp model.Envelope
	return c.doJSON(ctx, "submit feedback", http.MethodPost, "/api/message/feedback", nil, req, &resp)
}

// Transcribe 上传一段录音并返回转写结果。
func (c *Client) Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (*model.TranscribeResponse, error) {
	const op = "transcribe"
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, strings.ReplaceAll(filename, `"`, "")))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("%s: failed to read audio: %w", op, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/api/transcribe", nil), &buf)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var resp model.TranscribeResponse
	if err := c.do(req, op, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportConversation 将对话的 PDF 写入 w。
func (c *Client) ExportConversation(ctx context.Context, email string, id model.ID, w io.Writer) (int64, error) {
	const op = "export conversation"
	query := url.Values{"email": {email}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(conversationPath(id)+"/export", query), nil)
	if err != nil {
		return 0, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var env model.Envelope
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = json.Unmarshal(data, &env)
		return 0, statusError(op, resp.StatusCode, env.ErrorMessage())
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, transportError(op, err)
	}
	return n, nil
}
