// Package backend 提供了与后端网关（农业助手 Python 服务）交互的 HTTP 客户端。
//
// 后端是认证、对话持久化、模型推理、语音转写和 PDF 导出的唯一事实来源；
// 这里只负责构造请求、解码响应，并把失败规范成 StatusError。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"agri-assist-go/internal/config"
	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/log"
)

// maxResponseSize 限制单个 JSON 响应体的大小。
const maxResponseSize = 10 * 1024 * 1024

// ErrInvalidResponse 表示后端返回了无法解析的响应体。
var ErrInvalidResponse = errors.New("invalid response format from backend")

// StatusError 表示后端可达，但返回了非 2xx 状态码或 success:false。
type StatusError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend responded with status %d", e.Status)
	}
	return fmt.Sprintf("backend responded with status %d: %s", e.Status, e.Message)
}

// Download 是导出接口返回的二进制内容，调用方负责关闭 Body。
type Download struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

// Audio 是转发给转写接口的音频文件。
type Audio struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// Client 定义了代理层使用的后端网关操作。
type Client interface {
	Login(ctx context.Context, creds model.Credentials) (*model.AuthResponse, error)
	Signup(ctx context.Context, creds model.Credentials) (*model.AuthResponse, error)
	Me(ctx context.Context, email string) (*model.User, error)
	ForgotPassword(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error)
	VerifyResetCode(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error)
	ResetPassword(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error)

	Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	NewConversation(ctx context.Context, email string) (model.ID, error)
	History(ctx context.Context, email string, limit int) (*model.HistoryResponse, error)
	Conversation(ctx context.Context, email string, conversationID model.ID) (*model.ConversationResponse, error)
	DeleteConversation(ctx context.Context, email string, conversationID model.ID) error
	ExportConversation(ctx context.Context, email string, conversationID model.ID) (*Download, error)

	RefreshMemory(ctx context.Context, email string) error
	Feedback(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error)
	Transcribe(ctx context.Context, email string, audio Audio) (*model.TranscribeResponse, error)
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// NewClient 创建一个新的后端网关客户端。超时由调用方通过 context 控制。
func NewClient(cfg config.BackendConfig) Client {
	return &httpClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{},
	}
}

// result 由各响应类型通过嵌入 model.Envelope 自动实现。
type result interface {
	Base() *model.Envelope
}

// requestOptions 控制单次调用的解码与判定方式。
type requestOptions struct {
	query url.Values
	// requireSuccess 为 true 时，2xx 但 success:false 也视为失败
	requireSuccess bool
	header         http.Header
}

func (c *httpClient) endpoint(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// doJSON 发送 JSON 请求并将响应解码到 out。
func (c *httpClient) doJSON(ctx context.Context, method, path string, body interface{}, out result, opts requestOptions) error {
	var reader io.Reader
	if body != nil {
		reqBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request for %s: %w", path, err)
		}
		reader = bytes.NewReader(reqBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, opts.query), reader)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range opts.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.send(req, path, out, opts)
}

func (c *httpClient) send(req *http.Request, path string, out result, opts requestOptions) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call backend %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decode(resp, path, out, opts.requireSuccess)
}

func decode(resp *http.Response, path string, out result, requireSuccess bool) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read backend response for %s: %w", path, err)
	}
	decodeErr := json.Unmarshal(data, out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := ""
		if decodeErr == nil {
			message = out.Base().ErrorMessage()
		}
		log.Warnf("[Backend] %s 返回非 2xx 状态码: %d, error: %s", path, resp.StatusCode, message)
		return &StatusError{Status: resp.StatusCode, Message: message}
	}
	if decodeErr != nil {
		preview := string(data)
		if len(preview) > 200 {
			preview = preview[:200]
		}
		log.Errorf("[Backend] %s 响应无法解析为 JSON: %v, body: %s", path, decodeErr, preview)
		return fmt.Errorf("%w: %s", ErrInvalidResponse, path)
	}
	if requireSuccess && !out.Base().Success {
		return &StatusError{Status: resp.StatusCode, Message: out.Base().ErrorMessage()}
	}
	return nil
}

// Login 调用后端登录接口。
func (c *httpClient) Login(ctx context.Context, creds model.Credentials) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", creds, &resp, requestOptions{requireSuccess: true}); err != nil {
		return nil, err
	}
	if resp.User == nil || resp.User.Email == "" {
		return nil, fmt.Errorf("%w: login response without user", ErrInvalidResponse)
	}
	return &resp, nil
}

// Signup 调用后端注册接口。
func (c *httpClient) Signup(ctx context.Context, creds model.Credentials) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", creds, &resp, requestOptions{requireSuccess: true}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Me 根据邮箱查询当前用户。
func (c *httpClient) Me(ctx context.Context, email string) (*model.User, error) {
	var resp model.AuthResponse
	opts := requestOptions{query: url.Values{"email": {email}}}
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &resp, opts); err != nil {
		return nil, err
	}
	if resp.User == nil {
		return nil, &StatusError{Status: http.StatusUnauthorized, Message: "Not logged in"}
	}
	return resp.User, nil
}

// ForgotPassword 请求后端向邮箱发送重置验证码。
func (c *httpClient) ForgotPassword(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error) {
	return c.passwordCall(ctx, "/api/auth/forgot-password", model.PasswordResetRequest{Email: req.Email})
}

// VerifyResetCode 校验邮箱验证码。
func (c *httpClient) VerifyResetCode(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error) {
	return c.passwordCall(ctx, "/api/auth/verify-reset-code", model.PasswordResetRequest{Email: req.Email, Code: req.Code})
}

// ResetPassword 使用验证码设置新密码。
func (c *httpClient) ResetPassword(ctx context.Context, req model.PasswordResetRequest) (*model.AuthResponse, error) {
	return c.passwordCall(ctx, "/api/auth/reset-password", req)
}

func (c *httpClient) passwordCall(ctx context.Context, path string, body model.PasswordResetRequest) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp, requestOptions{requireSuccess: true}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Chat 将用户消息（可附带图片）发送给后端并返回助手回复。
func (c *httpClient) Chat(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	if req.Language == "" {
		req.Language = "en"
	}
	if req.Images == nil {
		req.Images = []string{}
	}
	var resp model.ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat", req, &resp, requestOptions{requireSuccess: true}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NewConversation 在后端创建一个空对话。
func (c *httpClient) NewConversation(ctx context.Context, email string) (model.ID, error) {
	var resp model.NewConversationResponse
	body := model.NewConversationRequest{Email: email}
	if err := c.doJSON(ctx, http.MethodPost, "/api/chat/new", body, &resp, requestOptions{requireSuccess: true}); err != nil {
		return "", err
	}
	if resp.ConversationID == "" {
		return "", fmt.Errorf("%w: missing conversation_id", ErrInvalidResponse)
	}
	return resp.ConversationID, nil
}

// History 获取用户最近的对话列表。
func (c *httpClient) History(ctx context.Context, email string, limit int) (*model.HistoryResponse, error) {
	var resp model.HistoryResponse
	opts := requestOptions{requireSuccess: true}
	if limit > 0 {
		opts.query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/history/"+url.PathEscape(email), nil, &resp, opts); err != nil {
		return nil, err
	}
	return &resp, nil
}

func conversationPath(email string, conversationID model.ID) string {
	return "/api/conversation/" + url.PathEscape(email) + "/" + url.PathEscape(conversationID.String())
}

// Conversation 获取单个对话的全部消息。
func (c *httpClient) Conversation(ctx context.Context, email string, conversationID model.ID) (*model.ConversationResponse, error) {
	var resp model.ConversationResponse
	if err := c.doJSON(ctx, http.MethodGet, conversationPath(email, conversationID), nil, &resp, requestOptions{requireSuccess: true}); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteConversation 删除一个对话。
func (c *httpClient) DeleteConversation(ctx context.Context, email string, conversationID model.ID) error {
	var resp model.Envelope
	return c.doJSON(ctx, http.MethodDelete, conversationPath(email, conversationID), nil, &resp, requestOptions{requireSuccess: true})
}

// ExportConversation 以 PDF 形式导出对话。
func (c *httpClient) ExportConversation(ctx context.Context, email string, conversationID model.ID) (*Download, error) {
	path := conversationPath(email, conversationID) + "/export"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call backend %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var env model.Envelope
		err := decode(resp, path, &env, false)
		if err == nil {
			err = &StatusError{Status: resp.StatusCode}
		}
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &Download{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Filename:      fmt.Sprintf("chat_%s.pdf", conversationID),
	}, nil
}

// RefreshMemory 触发后端对用户长期记忆的后台刷新。
func (c *httpClient) RefreshMemory(ctx context.Context, email string) error {
	var resp model.Envelope
	return c.doJSON(ctx, http.MethodPost, "/api/memory/refresh", model.MemoryRefreshRequest{Email: email}, &resp, requestOptions{})
}

// Feedback 转发消息反馈，后端通过 Cookie 识别用户。
func (c *httpClient) Feedback(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error) {
	var resp model.Envelope
	opts := requestOptions{header: http.Header{}}
	opts.header.Set("Cookie", (&http.Cookie{Name: "userEmail", Value: email}).String())
	if err := c.doJSON(ctx, http.MethodPost, "/api/message/feedback", req, &resp, opts); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transcribe 以 multipart 形式上传音频并返回转写文本。
func (c *httpClient) Transcribe(ctx context.Context, email string, audio Audio) (*model.TranscribeResponse, error) {
	const path = "/api/transcribe"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	filename := audio.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, escapeQuotes(filename)))
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := io.Copy(part, audio.Data); err != nil {
		return nil, fmt.Errorf("failed to copy audio: %w", err)
	}
	if err := writer.WriteField("email", email); err != nil {
		return nil, fmt.Errorf("failed to write email field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	log.Infof("[Backend] 转发音频到转写服务, size: %d bytes, type: %s", buf.Len(), contentType)
	var resp model.TranscribeResponse
	if err := c.send(req, path, &resp, requestOptions{}); err != nil {
		return nil, err
	}
	return &resp, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
