package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"agri-assist-go/internal/model"
	"agri-assist-go/internal/repository"
	"agri-assist-go/pkg/backend"
	"agri-assist-go/pkg/tasks"
	"agri-assist-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	svc := NewSessionService(token.NewSessionManager("test-secret", 1), repository.NewMemorySessionRepository())
	ctx := context.Background()

	signed, claims, err := svc.Issue("farmer@example.com")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.Duration())

	got, err := svc.Authenticate(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, "farmer@example.com", got.Email)
	assert.Equal(t, claims.ID, got.ID)

	require.NoError(t, svc.Revoke(ctx, got))
	_, err = svc.Authenticate(ctx, signed)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	// 新签发的会话不受影响
	other, _, err := svc.Issue("farmer@example.com")
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, other)
	assert.NoError(t, err)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	svc := NewSessionService(token.NewSessionManager("test-secret", 1), repository.NewMemorySessionRepository())

	_, err := svc.Authenticate(context.Background(), "")
	assert.Error(t, err)
	_, err = svc.Authenticate(context.Background(), "not-a-jwt")
	assert.Error(t, err)
	_, err = svc.Authenticate(context.Background(), "farmer@example.com")
	assert.Error(t, err)
}

type failingRepo struct{}

func (failingRepo) Revoke(context.Context, string, time.Duration) error { return errors.New("redis down") }
func (failingRepo) IsRevoked(context.Context, string) (bool, error)     { return false, errors.New("redis down") }

func TestAuthenticateFailsClosed(t *testing.T) {
	manager := token.NewSessionManager("test-secret", 1)
	svc := NewSessionService(manager, failingRepo{})
	signed, _, err := manager.Issue("farmer@example.com")
	require.NoError(t, err)

	_, err = svc.Authenticate(context.Background(), signed)
	assert.Error(t, err)
}

type fakeBackend struct {
	backend.Client
	feedback func(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error)
}

func (f *fakeBackend) Feedback(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error) {
	return f.feedback(ctx, email, req)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []tasks.FeedbackEvent
	err    error
}

func (p *recordingPublisher) PublishFeedback(_ context.Context, event tasks.FeedbackEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func TestFeedbackPublishesEvent(t *testing.T) {
	be := &fakeBackend{feedback: func(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error) {
		assert.Equal(t, "farmer@example.com", email)
		return &model.Envelope{Success: true}, nil
	}}
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	svc := NewFeedbackService(be, pub)

	resp, err := svc.Submit(context.Background(), "farmer@example.com", model.FeedbackRequest{MessageID: "12", FeedbackType: "like"})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	require.Len(t, pub.events, 1)
	assert.Equal(t, "12", pub.events[0].MessageID)
	assert.Equal(t, "like", pub.events[0].FeedbackType)
	assert.True(t, pub.events[0].Accepted)
}

func TestFeedbackBackendFailureStillPublished(t *testing.T) {
	be := &fakeBackend{feedback: func(ctx context.Context, email string, req model.FeedbackRequest) (*model.Envelope, error) {
		return nil, &backend.StatusError{Status: 500}
	}}
	pub := &recordingPublisher{}
	svc := NewFeedbackService(be, pub)

	_, err := svc.Submit(context.Background(), "farmer@example.com", model.FeedbackRequest{MessageID: "12", FeedbackType: "dislike"})
	var se *backend.StatusError
	require.True(t, errors.As(err, &se))
	require.Len(t, pub.events, 1)
	assert.False(t, pub.events[0].Accepted)
}
