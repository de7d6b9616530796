package engine

import (
	"context"
	"io"
	"sync"

	"agri-assist-go/internal/model"
	"agri-assist-go/pkg/api"
)

// fakeGateway 是可编程的 Gateway，未设置的方法返回成功的空响应。
type fakeGateway struct {
	mu    sync.Mutex
	calls map[string]int

	whoami       func(ctx context.Context) (*model.User, error)
	login        func(ctx context.Context, email, password string) (*model.User, error)
	logout       func(ctx context.Context) error
	send         func(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
	create       func(ctx context.Context, email string) (model.ID, error)
	history      func(ctx context.Context, email string) (*model.HistoryResponse, error)
	fetch        func(ctx context.Context, email string, id model.ID) (*model.ConversationResponse, error)
	deleteConv   func(ctx context.Context, email string, id model.ID) error
	refresh      func(ctx context.Context, email string) error
	feedback     func(ctx context.Context, req model.FeedbackRequest) error
	transcribe   func(ctx context.Context, filename, contentType string, audio io.Reader) (*model.TranscribeResponse, error)
	exportConv   func(ctx context.Context, email string, id model.ID, w io.Writer) (int64, error)
	lastChatReqs []model.ChatRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{calls: make(map[string]int)}
}

func (f *fakeGateway) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeGateway) WhoAmI(ctx context.Context) (*model.User, error) {
	f.record("whoami")
	if f.whoami != nil {
		return f.whoami(ctx)
	}
	return nil, &api.AuthenticationError{}
}

func (f *fakeGateway) Login(ctx context.Context, email, password string) (*model.User, error) {
	f.record("login")
	if f.login != nil {
		return f.login(ctx, email, password)
	}
	return &model.User{Email: email}, nil
}

func (f *fakeGateway) Signup(ctx context.Context, email, password string) (string, error) {
	f.record("signup")
	return "User created successfully", nil
}

func (f *fakeGateway) Logout(ctx context.Context) error {
	f.record("logout")
	if f.logout != nil {
		return f.logout(ctx)
	}
	return nil
}

func (f *fakeGateway) ForgotPassword(ctx context.Context, email string) (string, error) {
	f.record("forgot")
	return "code sent", nil
}

func (f *fakeGateway) VerifyResetCode(ctx context.Context, email, code string) (string, error) {
	f.record("verify")
	return "code verified", nil
}

func (f *fakeGateway) ResetPassword(ctx context.Context, email, code, newPassword string) (string, error) {
	f.record("reset")
	return "password reset", nil
}

func (f *fakeGateway) SendMessage(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	f.record("send")
	f.mu.Lock()
	f.lastChatReqs = append(f.lastChatReqs, req)
	f.mu.Unlock()
	if f.send != nil {
		return f.send(ctx, req)
	}
	return &model.ChatResponse{Envelope: model.Envelope{Success: true}, Response: "ok"}, nil
}

func (f *fakeGateway) CreateConversation(ctx context.Context, email string) (model.ID, error) {
	f.record("create")
	if f.create != nil {
		return f.create(ctx, email)
	}
	return "100", nil
}

func (f *fakeGateway) ListHistory(ctx context.Context, email string) (*model.HistoryResponse, error) {
	f.record("history")
	if f.history != nil {
		return f.history(ctx, email)
	}
	return &model.HistoryResponse{Envelope: model.Envelope{Success: true}}, nil
}

func (f *fakeGateway) FetchConversation(ctx context.Context, email string, id model.ID) (*model.ConversationResponse, error) {
	f.record("fetch")
	if f.fetch != nil {
		return f.fetch(ctx, email, id)
	}
	return &model.ConversationResponse{Envelope: model.Envelope{Success: true}}, nil
}

func (f *fakeGateway) DeleteConversation(ctx context.Context, email string, id model.ID) error {
	f.record("delete")
	if f.deleteConv != nil {
		return f.deleteConv(ctx, email, id)
	}
	return nil
}

func (f *fakeGateway) RefreshMemory(ctx context.Context, email string) error {
	f.record("refresh")
	if f.refresh != nil {
		return f.refresh(ctx, email)
	}
	return nil
}

func (f *fakeGateway) SubmitFeedback(ctx context.Context, req model.FeedbackRequest) error {
	f.record("feedback")
	if f.feedback != nil {
		return f.feedback(ctx, req)
	}
	return nil
}

func (f *fakeGateway) Transcribe(ctx context.Context, filename, contentType string, audio io.Reader) (*model.TranscribeResponse, error) {
	f.record("transcribe")
	if f.transcribe != nil {
		return f.transcribe(ctx, filename, contentType, audio)
	}
	return &model.TranscribeResponse{Envelope: model.Envelope{Success: true}}, nil
}

func (f *fakeGateway) ExportConversation(ctx context.Context, email string, id model.ID, w io.Writer) (int64, error) {
	f.record("export")
	if f.exportConv != nil {
		return f.exportConv(ctx, email, id, w)
	}
	return 0, nil
}

func (f *fakeGateway) chatRequests() []model.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.ChatRequest(nil), f.lastChatReqs...)
}
