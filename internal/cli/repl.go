// Package cli 实现终端聊天客户端：命令解析、附件校验和对话渲染。
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"agri-assist-go/internal/engine"
	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/api"

	"github.com/peterh/liner"
)

// Prompter 读取用户输入，*liner.State 实现了它。
type Prompter interface {
	Prompt(prompt string) (string, error)
	PromptWithSuggestion(prompt, text string, pos int) (string, error)
	PasswordPrompt(prompt string) (string, error)
}

// errQuit 由 /quit 返回，用于结束循环。
var errQuit = errors.New("quit")

type command struct {
	usage string
	help  string
	run   func(s *Session, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"/login":        {"/login <email>", "Sign in", (*Session).login},
		"/signup":       {"/signup <email>", "Create an account", (*Session).signup},
		"/logout":       {"/logout", "Sign out", (*Session).logout},
		"/new":          {"/new", "Start a new chat", (*Session).newChat},
		"/list":         {"/list", "Show conversations", (*Session).list},
		"/open":         {"/open <id>", "Open a conversation", (*Session).open},
		"/delete":       {"/delete [id]", "Delete a conversation (default: current)", (*Session).delete},
		"/title":        {"/title <id> <title>", "Rename a conversation locally", (*Session).title},
		"/image":        {"/image <path>", "Attach an image to the next message", (*Session).image},
		"/clear-images": {"/clear-images", "Remove pending images", (*Session).clearImages},
		"/voice":        {"/voice <path>", "Transcribe a recording into the next message", (*Session).voice},
		"/feedback":     {"/feedback <message-id> <like|dislike> [comment]", "Rate an answer", (*Session).feedback},
		"/export":       {"/export [file]", "Export the current conversation as PDF", (*Session).export},
		"/lang":         {"/lang <en|ur>", "Switch answer language", (*Session).lang},
		"/forgot":       {"/forgot <email>", "Request a password reset code", (*Session).forgot},
		"/verify":       {"/verify <email> <code>", "Verify a reset code", (*Session).verify},
		"/reset":        {"/reset <email> <code>", "Set a new password", (*Session).reset},
		"/help":         {"/help", "Show this help", (*Session).help},
		"/quit":         {"/quit", "Exit", func(*Session, context.Context, []string) error { return errQuit }},
	}
}

// Session 把用户输入翻译成引擎操作。
type Session struct {
	engine   *engine.Engine
	prompter Prompter
	out      io.Writer
	composer Composer
	draft    string

	mu      sync.Mutex
	pending int
}

// NewSession 创建一个终端会话，并订阅引擎状态以提示正在等待的消息。
func NewSession(e *engine.Engine, prompter Prompter, out io.Writer) *Session {
	s := &Session{engine: e, prompter: prompter, out: out}
	e.Subscribe(s.watch)
	return s
}

func (s *Session) watch(st engine.State) {
	pending := 0
	for _, m := range st.Messages {
		if m.ID.IsTemp() {
			pending++
		}
	}
	s.mu.Lock()
	grew := pending > s.pending
	s.pending = pending
	s.mu.Unlock()
	if grew {
		s.println(pendingStyle.Render("Thinking..."))
	}
}

func (s *Session) println(a ...interface{}) {
	fmt.Fprintln(s.out, a...)
}

// Run 循环读取输入直到 EOF 或 /quit。
func (s *Session) Run(ctx context.Context) error {
	for {
		line, err := s.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if isAbort(err) {
				continue
			}
			return err
		}
		if err := s.Dispatch(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.println(RenderError(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func isAbort(err error) bool {
	return errors.Is(err, liner.ErrPromptAborted)
}

func (s *Session) readLine() (string, error) {
	prompt := s.prompt()
	if s.draft != "" {
		draft := s.draft
		s.draft = ""
		return s.prompter.PromptWithSuggestion(prompt, draft, -1)
	}
	return s.prompter.Prompt(prompt)
}

func (s *Session) prompt() string {
	st := s.engine.Snapshot()
	if st.User == nil {
		return "guest> "
	}
	if n := len(s.composer.Attachments()); n > 0 {
		return fmt.Sprintf("[%s +%d img] > ", st.Language, n)
	}
	return fmt.Sprintf("[%s] > ", st.Language)
}

// Dispatch 执行一行输入：斜杠命令或要发送的消息。errQuit 表示退出。
func (s *Session) Dispatch(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return s.send(ctx, line)
	}
	fields := strings.Fields(line)
	cmd, ok := commands[fields[0]]
	if !ok {
		return fmt.Errorf("unknown command %s, type /help", fields[0])
	}
	return cmd.run(s, ctx, fields[1:])
}

func (s *Session) send(ctx context.Context, text string) error {
	reply, err := s.engine.SendMessage(ctx, text, s.composer.Images())
	if err != nil {
		return describe(err)
	}
	s.composer.Clear()
	st := s.engine.Snapshot()
	if n := len(st.Messages); n > 0 && st.Messages[n-1].Role == model.RoleAssistant {
		s.println(RenderMessage(st.Messages[n-1]))
		return nil
	}
	// 回复到达前已切换到其它对话
	s.println(assistantStyle.Render("Assistant") + "\n" + LinkPhones(reply))
	return nil
}

func usageError(name string) error {
	return fmt.Errorf("usage: %s", commands[name].usage)
}

func (s *Session) login(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/login")
	}
	password, err := s.prompter.PasswordPrompt("Password: ")
	if err != nil {
		return err
	}
	if err := s.engine.Login(ctx, args[0], password); err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render("Signed in as " + args[0]))
	s.println(RenderSidebar(s.engine.Snapshot()))
	return nil
}

func (s *Session) signup(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/signup")
	}
	password, err := s.prompter.PasswordPrompt("Password: ")
	if err != nil {
		return err
	}
	confirm, err := s.prompter.PasswordPrompt("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return errors.New("passwords do not match")
	}
	msg, err := s.engine.Signup(ctx, args[0], password)
	if err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render(msg))
	return nil
}

func (s *Session) logout(ctx context.Context, _ []string) error {
	err := s.engine.Logout(ctx)
	s.composer.Clear()
	s.println(infoStyle.Render("Signed out"))
	if err != nil {
		// 本地状态已清空，服务端失败只提示
		s.println(RenderError(describe(err)))
	}
	return nil
}

func (s *Session) newChat(ctx context.Context, _ []string) error {
	id, err := s.engine.StartNewChat(ctx)
	if err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render("Started conversation " + id.String()))
	return nil
}

func (s *Session) list(context.Context, []string) error {
	s.println(RenderSidebar(s.engine.Snapshot()))
	return nil
}

func (s *Session) open(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/open")
	}
	if err := s.engine.SwitchConversation(ctx, model.ID(args[0])); err != nil {
		return describe(err)
	}
	s.println(RenderTranscript(s.engine.Snapshot()))
	return nil
}

func (s *Session) delete(ctx context.Context, args []string) error {
	id := s.engine.Snapshot().CurrentConversation
	if len(args) > 0 {
		id = model.ID(args[0])
	}
	if id == "" {
		return engine.ErrNoConversation
	}
	if err := s.engine.DeleteConversation(ctx, id); err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render("Deleted conversation " + id.String()))
	return nil
}

func (s *Session) title(_ context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("/title")
	}
	s.engine.UpdateConversationTitle(model.ID(args[0]), strings.Join(args[1:], " "))
	return nil
}

func (s *Session) image(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/image")
	}
	a, err := s.composer.AddImage(args[0])
	if err != nil {
		return err
	}
	s.println(infoStyle.Render(fmt.Sprintf("Attached %s (%s), %d/%d", a.Name, a.MIME, len(s.composer.Attachments()), engine.MaxImages)))
	return nil
}

func (s *Session) clearImages(context.Context, []string) error {
	s.composer.Clear()
	return nil
}

func (s *Session) voice(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/voice")
	}
	v, err := OpenVoice(args[0])
	if err != nil {
		return err
	}
	defer v.File.Close()

	s.println(pendingStyle.Render("Transcribing..."))
	text, err := s.engine.Transcribe(ctx, v.Filename, v.ContentType, v.File)
	if err != nil {
		return describe(err)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("no speech detected")
	}
	// 转写结果作为下一行输入的默认内容，用户可修改后发送
	s.draft = text
	return nil
}

func (s *Session) feedback(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return usageError("/feedback")
	}
	kind := args[1]
	if kind != "like" && kind != "dislike" {
		return usageError("/feedback")
	}
	if err := s.engine.SubmitFeedback(ctx, model.ID(args[0]), kind, strings.Join(args[2:], " ")); err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render("Thanks for your feedback"))
	return nil
}

func (s *Session) export(ctx context.Context, args []string) error {
	id := s.engine.Snapshot().CurrentConversation
	if id == "" || id.IsTemp() {
		return engine.ErrNoConversation
	}
	path := fmt.Sprintf("chat_%s.pdf", id)
	if len(args) > 0 {
		path = args[0]
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := s.engine.ExportConversation(ctx, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return describe(err)
	}
	s.println(infoStyle.Render(fmt.Sprintf("Saved %s (%d bytes)", path, n)))
	return nil
}

func (s *Session) lang(_ context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/lang")
	}
	return s.engine.SetLanguage(args[0])
}

func (s *Session) forgot(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("/forgot")
	}
	msg, err := s.engine.ForgotPassword(ctx, args[0])
	if err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render(msg))
	return nil
}

func (s *Session) verify(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("/verify")
	}
	msg, err := s.engine.VerifyResetCode(ctx, args[0], args[1])
	if err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render(msg))
	return nil
}

func (s *Session) reset(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usageError("/reset")
	}
	password, err := s.prompter.PasswordPrompt("New password: ")
	if err != nil {
		return err
	}
	msg, err := s.engine.ResetPassword(ctx, args[0], args[1], password)
	if err != nil {
		return describe(err)
	}
	s.println(infoStyle.Render(msg))
	return nil
}

func (s *Session) help(context.Context, []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands[name]
		s.println(fmt.Sprintf("  %-50s %s", c.usage, infoStyle.Render(c.help)))
	}
	return nil
}

// describe 把引擎返回的错误转换成面向用户的提示。
func describe(err error) error {
	var (
		authErr    *api.AuthenticationError
		timeoutErr *api.TimeoutError
		netErr     *api.NetworkError
	)
	switch {
	case errors.As(err, &authErr):
		// 登录失败时保留后端给出的原因
		if authErr.Message != "" && !strings.EqualFold(authErr.Message, "not logged in") && !strings.EqualFold(authErr.Message, "not authenticated") {
			return errors.New(authErr.Message)
		}
		return errors.New("please sign in first (/login <email>)")
	case errors.As(err, &timeoutErr):
		return errors.New("the request took too long, please try again")
	case errors.As(err, &netErr):
		return errors.New("cannot reach the server, check your connection")
	case api.IsTransient(err):
		return errors.New("the service is busy, please try again")
	}
	return err
}
