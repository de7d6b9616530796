package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"agri-assist-go/internal/engine"
	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	wavHeader = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestComposerAcceptsImages(t *testing.T) {
	var c Composer
	path := writeFile(t, "leaf.png", pngHeader)

	a, err := c.AddImage(path)
	require.NoError(t, err)
	assert.Equal(t, "leaf.png", a.Name)
	assert.Equal(t, "image/png", a.MIME)
	assert.False(t, strings.HasPrefix(a.Data, "data:"))
	assert.Equal(t, []string{a.Data}, c.Images())

	c.Clear()
	assert.Nil(t, c.Images())
}

func TestComposerLimitsImageCount(t *testing.T) {
	var c Composer
	path := writeFile(t, "leaf.png", pngHeader)
	for i := 0; i < engine.MaxImages; i++ {
		_, err := c.AddImage(path)
		require.NoError(t, err)
	}
	_, err := c.AddImage(path)
	assert.ErrorIs(t, err, ErrTooManyImages)
	assert.Len(t, c.Images(), engine.MaxImages)
}

func TestComposerRejectsNonImagesAndLargeFiles(t *testing.T) {
	var c Composer
	_, err := c.AddImage(writeFile(t, "notes.png", []byte("just some text")))
	assert.ErrorIs(t, err, ErrNotImage)

	large := writeFile(t, "huge.png", pngHeader)
	require.NoError(t, os.Truncate(large, MaxImageBytes+1))
	_, err = c.AddImage(large)
	assert.ErrorIs(t, err, ErrImageTooLarge)

	assert.Empty(t, c.Attachments())
}

func TestOpenVoice(t *testing.T) {
	v, err := OpenVoice(writeFile(t, "question.wav", wavHeader))
	require.NoError(t, err)
	defer v.File.Close()
	assert.Equal(t, "question.wav", v.Filename)
	assert.True(t, strings.HasPrefix(v.ContentType, "audio/"))

	_, err = OpenVoice(writeFile(t, "question.png", pngHeader))
	assert.ErrorIs(t, err, ErrNotAudio)

	large := writeFile(t, "long.wav", wavHeader)
	require.NoError(t, os.Truncate(large, MaxVoiceBytes+1))
	_, err = OpenVoice(large)
	assert.ErrorIs(t, err, ErrVoiceTooLarge)
}

func TestLinkPhones(t *testing.T) {
	out := LinkPhones("Call the helpline at +92 300 1234567 or +923001112222.")
	assert.Contains(t, out, "+92 300 1234567")
	assert.Contains(t, out, "https://wa.me/923001234567")
	assert.Contains(t, out, "https://wa.me/923001112222")

	assert.Equal(t, "no numbers here", LinkPhones("no numbers here"))
}

func TestSidebarTitle(t *testing.T) {
	assert.Equal(t, "Wheat rust", SidebarTitle("Wheat rust"))
	long := strings.Repeat("a", 31)
	assert.Equal(t, strings.Repeat("a", 30)+"...", SidebarTitle(long))
	assert.Equal(t, 33, len([]rune(SidebarTitle(strings.Repeat("گ", 40)))))
}

func TestRenderSidebarMarksCurrent(t *testing.T) {
	out := RenderSidebar(engine.State{
		Conversations:       []model.Conversation{{ID: "1", Title: "Cotton"}, {ID: "2", Title: "Rice"}},
		CurrentConversation: "2",
	})
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "  "))
	assert.True(t, strings.HasPrefix(lines[1], ">"))
	assert.Contains(t, lines[1], "Rice")
}

func TestDescribe(t *testing.T) {
	assert.Contains(t, describe(&api.AuthenticationError{Message: "not logged in"}).Error(), "/login")
	assert.Equal(t, "Invalid credentials", describe(&api.AuthenticationError{Message: "Invalid credentials"}).Error())
	assert.Contains(t, describe(&api.TimeoutError{Op: "send message"}).Error(), "too long")
	assert.Contains(t, describe(&api.NetworkError{Op: "send message", Err: errors.New("refused")}).Error(), "cannot reach")
	assert.Contains(t, describe(&api.BackendError{Status: 503}).Error(), "busy")

	plain := &api.BackendError{Status: 404, Message: "Conversation not found"}
	assert.Equal(t, plain, describe(plain))
}

// fakePrompter 按顺序返回预设的输入。
type fakePrompter struct {
	passwords   []string
	lines       []string
	suggestions []string
}

func (p *fakePrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	line := p.lines[0]
	p.lines = p.lines[1:]
	return line, nil
}

func (p *fakePrompter) PromptWithSuggestion(prompt, text string, _ int) (string, error) {
	p.suggestions = append(p.suggestions, text)
	return text, nil
}

func (p *fakePrompter) PasswordPrompt(string) (string, error) {
	if len(p.passwords) == 0 {
		return "", io.EOF
	}
	pw := p.passwords[0]
	p.passwords = p.passwords[1:]
	return pw, nil
}

// fakeProxy 模拟代理层的 HTTP 接口。
type fakeProxy struct {
	mu       sync.Mutex
	chats    []model.ChatRequest
	feedback []model.FeedbackRequest
}

func (p *fakeProxy) handler(t *testing.T) http.Handler {
	writeJSON := func(w http.ResponseWriter, status int, v interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds model.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Password != "secret1" {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "Invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "userEmail", Value: "signed", Path: "/"})
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "user": map[string]string{"email": creds.Email}})
	})
	mux.HandleFunc("GET /api/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"conversations": []map[string]interface{}{{"id": 7, "title": "Wheat rust"}},
			"history":       []interface{}{},
		})
	})
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		var req model.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		p.mu.Lock()
		p.chats = append(p.chats, req)
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":         true,
			"response":        "Contact the extension office at +92 300 1234567",
			"conversation_id": 7,
		})
	})
	mux.HandleFunc("GET /api/conversation/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"messages": []map[string]interface{}{{"id": 1, "role": "user", "content": "Is it rust?"}},
		})
	})
	mux.HandleFunc("POST /api/transcribe", func(w http.ResponseWriter, r *http.Request) {
		_, _, err := r.FormFile("audio")
		require.NoError(t, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "transcript": "gandum ki fasal"})
	})
	mux.HandleFunc("POST /api/message/feedback", func(w http.ResponseWriter, r *http.Request) {
		var req model.FeedbackRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		p.mu.Lock()
		p.feedback = append(p.feedback, req)
		p.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	})
	return mux
}

func newTestSession(t *testing.T, prompter *fakePrompter) (*Session, *fakeProxy, *bytes.Buffer) {
	t.Helper()
	proxy := &fakeProxy{}
	srv := httptest.NewServer(proxy.handler(t))
	t.Cleanup(srv.Close)

	client, err := api.NewClient(srv.URL)
	require.NoError(t, err)
	eng := engine.New(client, engine.Options{})
	t.Cleanup(eng.Wait)

	var out bytes.Buffer
	return NewSession(eng, prompter, &out), proxy, &out
}

func TestDispatchLoginAndSend(t *testing.T) {
	prompter := &fakePrompter{passwords: []string{"secret1"}}
	s, proxy, out := newTestSession(t, prompter)
	ctx := context.Background()

	require.NoError(t, s.Dispatch(ctx, "/login farmer@example.com"))
	assert.Contains(t, out.String(), "Signed in as farmer@example.com")
	assert.Contains(t, out.String(), "Wheat rust")

	require.NoError(t, s.Dispatch(ctx, "/open 7"))
	_, err := s.composer.AddImage(writeFile(t, "leaf.png", pngHeader))
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, s.Dispatch(ctx, "My wheat leaves have orange spots"))
	assert.Contains(t, out.String(), "Thinking...")
	assert.Contains(t, out.String(), "https://wa.me/923001234567")
	assert.Empty(t, s.composer.Images(), "images are cleared after a successful send")

	require.Len(t, proxy.chats, 1)
	req := proxy.chats[0]
	assert.Equal(t, "farmer@example.com", req.Email)
	assert.Len(t, req.Images, 1)
	require.NotNil(t, req.ConversationID)
	assert.Equal(t, "7", *req.ConversationID)
}

func TestDispatchLoginFailure(t *testing.T) {
	s, _, _ := newTestSession(t, &fakePrompter{passwords: []string{"wrong"}})

	err := s.Dispatch(context.Background(), "/login farmer@example.com")
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", err.Error())
	assert.Nil(t, s.engine.Snapshot().User)
}

func TestDispatchRequiresSession(t *testing.T) {
	s, proxy, _ := newTestSession(t, &fakePrompter{})

	err := s.Dispatch(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/login")
	assert.Empty(t, proxy.chats)
}

func TestDispatchCommandErrors(t *testing.T) {
	s, _, _ := newTestSession(t, &fakePrompter{})
	ctx := context.Background()

	assert.NoError(t, s.Dispatch(ctx, "   "))
	assert.ErrorContains(t, s.Dispatch(ctx, "/unknown"), "unknown command")
	assert.EqualError(t, s.Dispatch(ctx, "/open"), "usage: /open <id>")
	assert.ErrorIs(t, s.Dispatch(ctx, "/export"), engine.ErrNoConversation)
	assert.ErrorIs(t, s.Dispatch(ctx, "/quit"), errQuit)
	assert.Error(t, s.Dispatch(ctx, "/lang fr"))

	require.NoError(t, s.Dispatch(ctx, "/lang ur"))
	assert.Equal(t, engine.LanguageUrdu, s.engine.Snapshot().Language)
}

func TestVoiceBecomesDraft(t *testing.T) {
	prompter := &fakePrompter{passwords: []string{"secret1"}}
	s, proxy, _ := newTestSession(t, prompter)
	ctx := context.Background()
	require.NoError(t, s.Dispatch(ctx, "/login farmer@example.com"))

	require.NoError(t, s.Dispatch(ctx, "/voice "+writeFile(t, "q.wav", wavHeader)))
	assert.Equal(t, "gandum ki fasal", s.draft)

	// Run 先以转写文本作为默认输入，发送后读到 EOF 退出
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, []string{"gandum ki fasal"}, prompter.suggestions)
	require.Len(t, proxy.chats, 1)
	assert.Equal(t, "gandum ki fasal", proxy.chats[0].Message)
}

func TestFeedbackAndLogout(t *testing.T) {
	prompter := &fakePrompter{passwords: []string{"secret1"}}
	s, proxy, out := newTestSession(t, prompter)
	ctx := context.Background()
	require.NoError(t, s.Dispatch(ctx, "/login farmer@example.com"))

	assert.EqualError(t, s.Dispatch(ctx, "/feedback 12 meh"), "usage: "+commands["/feedback"].usage)
	require.NoError(t, s.Dispatch(ctx, "/feedback 12 dislike wrong dosage"))
	require.Len(t, proxy.feedback, 1)
	assert.Equal(t, model.ID("12"), proxy.feedback[0].MessageID)
	assert.Equal(t, "wrong dosage", proxy.feedback[0].Comment)

	require.NoError(t, s.Dispatch(ctx, "/logout"))
	assert.Contains(t, out.String(), "Signed out")
	st := s.engine.Snapshot()
	assert.Nil(t, st.User)
	assert.Empty(t, st.Conversations)
}
