package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/api"
	"agri-assist-go/pkg/log"
)

// Gateway 是引擎依赖的后端接口，*api.Client 实现了它。
type Gateway interface {
	WhoAmI(ctx context.Context) (*model.User, error)
	Login(ctx context.Context, email, password string) (*model.User, error)
	Signup(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) (string, error)
	VerifyResetCode(ctx context.Context, email, code string) (string, error)
	ResetPassword(ctx context.Context, email, code, newPassword string) (string, error)
	SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	CreateConversation(ctx context.Context, email string) (model.ID, error)
	ListHistory(ctx context.Context, email string) (*model.HistoryResponse, error)
	FetchConversation(ctx context.Context, email string, id model.ID) (*model.ConversationResponse, error)
	DeleteConversation(ctx context.Context, email string, id model.ID) error
	RefreshMemory(ctx context.Context, email string) error
	SubmitFeedback(ctx context.Context, req model.FeedbackRequest) error
	Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (*model.TranscribeResponse, error)
	ExportConversation(ctx context.Context, email string, id model.ID, w io.Writer) (int64, error)
}

var _ Gateway = (*api.Client)(nil)

// 支持的界面语言。
const (
	LanguageEnglish = "en"
	LanguageUrdu    = "ur"
)

// MaxImages 是单条消息允许携带的图片数。调用方负责在发送前校验。
const MaxImages = 4

// 切换对话期间有消息提交时，重新获取对话的最多次数。
const maxSwitchFetches = 3

// ErrNoConversation 表示操作需要一个已选中的对话。
var ErrNoConversation = errors.New("no conversation selected")

// Options 控制引擎的超时和缓存大小。
type Options struct {
	SendTimeout    time.Duration
	HistoryTimeout time.Duration
	RefreshTimeout time.Duration
	CacheSize      int
	Language       string
}

func (o Options) withDefaults() Options {
	if o.SendTimeout <= 0 {
		o.SendTimeout = 180 * time.Second
	}
	if o.HistoryTimeout <= 0 {
		o.HistoryTimeout = 120 * time.Second
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 60 * time.Second
	}
	if o.CacheSize <= 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.Language == "" {
		o.Language = LanguageEnglish
	}
	return o
}

// Engine 是对话同步引擎。
type Engine struct {
	gw    Gateway
	opts  Options
	store *Store
	cache *messageCache
	seq   atomic.Uint64
	bg    sync.WaitGroup
}

// New 创建一个引擎。
func New(gw Gateway, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		gw:    gw,
		opts:  opts,
		store: NewStore(State{Language: opts.Language}),
		cache: newMessageCache(opts.CacheSize),
	}
}

// Snapshot 返回当前状态的拷贝。
func (e *Engine) Snapshot() State {
	return e.store.Snapshot()
}

// Subscribe 注册状态监听器。
func (e *Engine) Subscribe(fn func(State)) func() {
	return e.store.Subscribe(fn)
}

// Wait 等待后台任务（如记忆刷新）结束。
func (e *Engine) Wait() {
	e.bg.Wait()
}

func (e *Engine) nextID(prefix string) model.ID {
	return model.ID(prefix + strconv.FormatUint(e.seq.Add(1), 10))
}

func (e *Engine) requireEmail() (string, error) {
	email := e.store.Snapshot().Email()
	if email == "" {
		return "", &api.AuthenticationError{Message: "not logged in"}
	}
	return email, nil
}

// Bootstrap 根据现有 Cookie 恢复会话。失败时清空会话并返回 AuthenticationError。
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.store.Update(setLoading(true))
	defer e.store.Update(setLoading(false))

	user, err := e.gw.WhoAmI(ctx)
	if err != nil || user == nil || user.Email == "" {
		e.store.Update(setUser(nil))
		if api.IsAuthentication(err) {
			return err
		}
		msg := "no active session"
		if err != nil {
			msg = err.Error()
		}
		return &api.AuthenticationError{Message: msg}
	}

	e.beginSession(user)
	e.refreshMemoryAsync(user.Email)
	_ = e.LoadChatHistory(ctx, user.Email)
	return nil
}

// refreshMemoryAsync 在后台触发记忆刷新，失败只记录日志。
func (e *Engine) refreshMemoryAsync(email string) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.RefreshTimeout)
		defer cancel()
		if err := e.gw.RefreshMemory(ctx, email); err != nil {
			log.Warnf("后台记忆刷新失败, email: %s, error: %v", email, err)
		}
	}()
}

// Login 登录并加载对话历史。
func (e *Engine) Login(ctx context.Context, email, password string) error {
	user, err := e.gw.Login(ctx, email, password)
	if err != nil {
		return err
	}
	e.beginSession(user)
	_ = e.LoadChatHistory(ctx, user.Email)
	return nil
}

// beginSession 切换到新的会话，旧会话发起的请求不再写入状态和缓存。
func (e *Engine) beginSession(user *model.User) {
	e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
		tokens[slotSession]++
		tokens[slotTranscript]++
		return setUser(user)(st), true
	})
}

// Signup 注册账号，不会自动登录。
func (e *Engine) Signup(ctx context.Context, email, password string) (string, error) {
	return e.gw.Signup(ctx, email, password)
}

// Logout 吊销服务端会话并清空全部内存状态。服务端失败时本地状态仍会被清空。
func (e *Engine) Logout(ctx context.Context) error {
	err := e.gw.Logout(ctx)
	if err != nil {
		log.Warnf("服务端登出失败: %v", err)
	}
	e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
		tokens[slotTranscript]++
		tokens[slotConversations]++
		tokens[slotSession]++
		return resetSession(st), true
	})
	e.cache.Purge()
	return err
}

// ForgotPassword 请求重置验证码。
func (e *Engine) ForgotPassword(ctx context.Context, email string) (string, error) {
	return e.gw.ForgotPassword(ctx, email)
}

// VerifyResetCode 校验重置验证码。
func (e *Engine) VerifyResetCode(ctx context.Context, email, code string) (string, error) {
	return e.gw.VerifyResetCode(ctx, email, code)
}

// ResetPassword 使用验证码设置新密码。
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	return e.gw.ResetPassword(ctx, email, code, newPassword)
}

// SetLanguage 切换发送给后端的语言标记。
func (e *Engine) SetLanguage(lang string) error {
	switch lang {
	case LanguageEnglish, LanguageUrdu:
	default:
		return fmt.Errorf("unsupported language %q", lang)
	}
	e.store.Update(setLanguage(lang))
	return nil
}

// SendMessage 发送一条消息并返回助手回复。
// images 为 base64 编码（不含 data: 前缀），数量由调用方保证不超过 MaxImages。
func (e *Engine) SendMessage(ctx context.Context, text string, images []string) (string, error) {
	email, err := e.requireEmail()
	if err != nil {
		return "", err
	}

	tmpID := e.nextID(model.TempIDPrefix)
	images = append([]string{}, images...)
	tmp := model.Message{
		ID:         tmpID,
		Role:       model.RoleUser,
		Content:    text,
		Timestamp:  model.Now(),
		HasImages:  len(images) > 0,
		ImageCount: len(images),
		Images:     images,
	}

	var (
		token   uint64
		session uint64
		conv    model.ID
		lang    string
	)
	resp, err := runOptimistic(ctx, optimistic[*model.ChatResponse]{
		apply: func() {
			e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
				token = tokens[slotTranscript]
				session = tokens[slotSession]
				conv = st.CurrentConversation
				lang = st.Language
				return appendMessage(tmp)(st), true
			})
		},
		call: func(ctx context.Context) (*model.ChatResponse, error) {
			ctx, cancel := context.WithTimeout(ctx, e.opts.SendTimeout)
			defer cancel()
			req := model.ChatRequest{
				Message:  text,
				Email:    email,
				Language: lang,
				Images:   images,
			}
			if conv != "" {
				id := conv.String()
				req.ConversationID = &id
			}
			return e.gw.SendMessage(ctx, req)
		},
		commit: func(resp *model.ChatResponse) {
			e.commitSend(tmp, resp, conv, token, session)
		},
		rollback: func(err error) {
			e.store.Update(removeMessage(tmpID))
			log.Warnf("发送消息失败, conversation: %s, error: %v", conv, err)
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// commitSend 用最终消息替换乐观消息。会话已变更时整体丢弃；
// 消息记录已切换到别的对话时只清理自己的乐观消息。
func (e *Engine) commitSend(tmp model.Message, resp *model.ChatResponse, requested model.ID, token, session uint64) {
	now := model.Now()
	echo := tmp
	echo.ID = e.nextID("srv-u-")
	echo.Timestamp = now
	reply := model.Message{
		ID:        e.nextID("srv-"),
		Role:      model.RoleAssistant,
		Content:   resp.Response,
		Timestamp: now,
	}

	confirmed := resp.ConversationID
	cacheKey := confirmed
	if cacheKey == "" {
		cacheKey = requested
	}

	e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
		// 登出时乐观消息已随会话一起清空
		if tokens[slotSession] != session {
			return st, false
		}

		var next State
		if tokens[slotTranscript] == token {
			next = commitExchange(tmp.ID, echo, reply, confirmed)(st)
			tokens[slotExchange]++
			if cacheKey != "" {
				if st.ConversationLoading {
					// 对话仍在加载，此时的消息记录不完整
					e.cache.Remove(cacheKey)
				} else {
					e.cache.Put(cacheKey, filterMessages(next.Messages, func(m model.Message) bool { return !m.ID.IsTemp() }))
				}
			}
		} else {
			next = removeMessage(tmp.ID)(st)
			if cacheKey != "" {
				e.cache.Remove(cacheKey)
			}
		}
		if confirmed != "" {
			next = recordConversation(confirmed, tmp.Content, now)(next)
		}
		return next, true
	})
}

// LoadChatHistory 整体替换对话列表，并重置当前对话和消息记录。
// 任何失败都降级为空列表，返回的错误仅供调用方记录。
func (e *Engine) LoadChatHistory(ctx context.Context, email string) error {
	token := e.store.issue(slotConversations)

	ctx, cancel := context.WithTimeout(ctx, e.opts.HistoryTimeout)
	defer cancel()

	var convs []model.Conversation
	resp, err := e.gw.ListHistory(ctx, email)
	if err != nil {
		log.Warnf("加载对话历史失败, email: %s, error: %v", email, err)
	} else {
		convs = resp.Conversations
	}

	e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
		if tokens[slotConversations] != token || st.Email() != email {
			return st, false
		}
		tokens[slotTranscript]++
		next := replaceHistory(convs)(st)
		next.ConversationLoading = false
		return next, true
	})
	return err
}

// StartNewChat 新建对话：先在列表头部插入占位对话，后端确认后原位替换 id。
func (e *Engine) StartNewChat(ctx context.Context) (model.ID, error) {
	email, err := e.requireEmail()
	if err != nil {
		return "", err
	}

	tmpID := e.nextID(model.TempIDPrefix)
	placeholder := model.Conversation{
		ID:        tmpID,
		Title:     model.DefaultConversationTitle,
		CreatedAt: model.Now(),
	}
	var session uint64
	return runOptimistic(ctx, optimistic[model.ID]{
		apply: func() {
			e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
				tokens[slotTranscript]++
				session = tokens[slotSession]
				return insertPlaceholder(placeholder)(st), true
			})
		},
		call: func(ctx context.Context) (model.ID, error) {
			return e.gw.CreateConversation(ctx, email)
		},
		commit: func(id model.ID) {
			e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
				if tokens[slotSession] != session {
					return st, false
				}
				e.cache.Put(id, nil)
				return confirmPlaceholder(tmpID, id)(st), true
			})
		},
		rollback: func(err error) {
			e.store.Update(discardPlaceholder(tmpID))
			log.Warnf("新建对话失败: %v", err)
		},
	})
}

// SwitchConversation 切换到指定对话。命中缓存时不发请求。
// 获取失败时重新加载对话历史（已被更新的切换取代时跳过）。
// 加载期间有消息提交到该对话时，获取到的记录已过期，需要重新获取。
func (e *Engine) SwitchConversation(ctx context.Context, id model.ID) error {
	email, err := e.requireEmail()
	if err != nil {
		return err
	}

	cached, hit := e.cache.Get(id)
	var token, session, exchange uint64
	e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
		tokens[slotTranscript]++
		token = tokens[slotTranscript]
		session = tokens[slotSession]
		exchange = tokens[slotExchange]
		return beginSwitch(id, cached, hit)(st), true
	})
	defer e.store.updateIf(slotTranscript, token, setConversationLoading(false))

	if hit {
		log.Debugf("命中对话缓存, conversation: %s", id)
		return nil
	}
	if id.IsTemp() {
		return nil
	}

	for attempt := 1; ; attempt++ {
		resp, err := e.gw.FetchConversation(ctx, email, id)
		if err != nil {
			log.Warnf("加载对话失败, conversation: %s, error: %v", id, err)
			if e.store.token(slotTranscript) == token {
				_ = e.LoadChatHistory(ctx, email)
			}
			return err
		}

		msgs := e.normalize(resp.Messages)
		var raced, current bool
		e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
			if tokens[slotSession] != session {
				return st, false
			}
			current = tokens[slotTranscript] == token
			if tokens[slotExchange] != exchange {
				raced = true
				exchange = tokens[slotExchange]
				return st, false
			}
			// 已被别的切换取代的结果仍可进入缓存
			e.cache.Put(id, msgs)
			if !current {
				return st, false
			}
			next := setMessages(msgs)(st)
			if resp.Conversation != nil && resp.Conversation.Title != "" {
				next = renameConversation(id, resp.Conversation.Title)(next)
			}
			return next, true
		})
		if !raced || !current {
			return nil
		}
		if attempt >= maxSwitchFetches {
			log.Warnf("对话加载期间持续有新消息, conversation: %s", id)
			e.cache.Remove(id)
			return nil
		}
	}
}

// normalize 为缺少 id 的历史消息补上客户端 id。
func (e *Engine) normalize(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = e.nextID("srv-")
		}
		if m.Role != model.RoleUser {
			m.Role = model.RoleAssistant
		}
		m.ImageCount = len(m.Images)
		m.HasImages = m.HasImages || len(m.Images) > 0
		out = append(out, m)
	}
	return out
}

// DeleteConversation 乐观删除对话。后端失败时重新加载对话历史而不是局部回滚。
func (e *Engine) DeleteConversation(ctx context.Context, id model.ID) error {
	email, err := e.requireEmail()
	if err != nil {
		return err
	}

	removeLocal := func() {
		e.store.apply(func(st State, tokens *[slotCount]uint64) (State, bool) {
			next := removeConversation(id)(st)
			if st.CurrentConversation == id {
				tokens[slotTranscript]++
				next.ConversationLoading = false
			}
			return next, true
		})
		e.cache.Remove(id)
	}

	// 占位对话尚未被后端确认，只在本地移除
	if id.IsTemp() {
		removeLocal()
		return nil
	}

	_, err = runOptimistic(ctx, optimistic[struct{}]{
		apply: removeLocal,
		call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.gw.DeleteConversation(ctx, email, id)
		},
		rollback: func(err error) {
			log.Warnf("删除对话失败, conversation: %s, error: %v", id, err)
			_ = e.LoadChatHistory(ctx, email)
		},
	})
	return err
}

// UpdateConversationTitle 修改本地对话标题。
func (e *Engine) UpdateConversationTitle(id model.ID, title string) {
	e.store.Update(renameConversation(id, title))
}

// SubmitFeedback 提交对某条助手消息的反馈。
func (e *Engine) SubmitFeedback(ctx context.Context, messageID model.ID, feedbackType, comment string) error {
	if _, err := e.requireEmail(); err != nil {
		return err
	}
	if messageID == "" || feedbackType == "" {
		return errors.New("message id and feedback type are required")
	}
	return e.gw.SubmitFeedback(ctx, model.FeedbackRequest{
		MessageID:    messageID,
		FeedbackType: feedbackType,
		Comment:      comment,
	})
}

// Transcribe 转写一段录音，返回识别出的文本。
func (e *Engine) Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (string, error) {
	if _, err := e.requireEmail(); err != nil {
		return "", err
	}
	resp, err := e.gw.Transcribe(ctx, filename, contentType, audio)
	if err != nil {
		return "", err
	}
	return resp.Transcript, nil
}

// ExportConversation 将当前对话导出为 PDF 写入 w。
func (e *Engine) ExportConversation(ctx context.Context, w io.Writer) (int64, error) {
	st := e.store.Snapshot()
	if st.Email() == "" {
		return 0, &api.AuthenticationError{Message: "not logged in"}
	}
	if st.CurrentConversation == "" || st.CurrentConversation.IsTemp() {
		return 0, ErrNoConversation
	}
	return e.gw.ExportConversation(ctx, st.Email(), st.CurrentConversation, w)
}
