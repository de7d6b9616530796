package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agri-assist-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	c, err := NewClient(ts.URL + "/")
	require.NoError(t, err)
	return c
}

func TestLoginKeepsSessionCookie(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body model.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "farmer@example.com", body.Email)
		http.SetCookie(w, &http.Cookie{Name: "userEmail", Value: "session-token", Path: "/", HttpOnly: true})
		_, _ = io.WriteString(w, `{"success":true,"user":{"email":"farmer@example.com"}}`)
	})
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("userEmail")
		if err != nil || cookie.Value != "session-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"error":"Not authenticated"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"user":{"email":"farmer@example.com"}}`)
	})
	c := newTestClient(t, mux.ServeHTTP)

	_, err := c.WhoAmI(context.Background())
	assert.True(t, IsAuthentication(err))

	user, err := c.Login(context.Background(), "farmer@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "farmer@example.com", user.Email)

	user, err = c.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "farmer@example.com", user.Email)
}

func TestBusinessFailureIsBackendError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":false,"error":"Conversation not found"}`)
	})

	_, err := c.FetchConversation(context.Background(), "a@b.c", "9")
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "Conversation not found", be.Message)
	assert.False(t, IsTransient(err))
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		body      string
		transient bool
		auth      bool
	}{
		{http.StatusUnauthorized, `{"success":false,"error":"Not authenticated"}`, false, true},
		{http.StatusRequestTimeout, `{"success":false,"error":"Request timeout"}`, true, false},
		{http.StatusServiceUnavailable, `{"success":false,"error":"Backend unavailable"}`, true, false},
		{http.StatusBadRequest, `{"success":false,"error":"Message and email are required"}`, false, false},
		{http.StatusInternalServerError, `<html></html>`, false, false},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, tc.body)
		})
		_, err := c.SendMessage(context.Background(), model.ChatRequest{Message: "x", Email: "a@b.c"})
		require.Error(t, err, "status %d", tc.status)
		assert.Equal(t, tc.transient, IsTransient(err), "status %d", tc.status)
		assert.Equal(t, tc.auth, IsAuthentication(err), "status %d", tc.status)
	}
}

func TestInvalidJSONOnSuccessStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	})

	_, err := c.ListHistory(context.Background(), "a@b.c")
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusOK, be.Status)
}

func TestDeadlineBecomesTimeoutError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.SendMessage(ctx, model.ChatRequest{Message: "x", Email: "a@b.c"})
	var te *TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "send message", te.Op)
}

func TestNetworkError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c, err := NewClient(url)
	require.NoError(t, err)
	err = c.RefreshMemory(context.Background(), "a@b.c")
	var ne *NetworkError
	require.True(t, errors.As(err, &ne))
	assert.True(t, IsTransient(err))
}

func TestConversationRoutesCarryEmail(t *testing.T) {
	var deleted bool
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversation/7", r.URL.Path)
		assert.Equal(t, "a@b.c", r.URL.Query().Get("email"))
		if r.Method == http.MethodDelete {
			deleted = true
			_, _ = io.WriteString(w, `{"success":true}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"messages":[{"id":3,"role":"assistant","content":"Use urea"}]}`)
	})

	resp, err := c.FetchConversation(context.Background(), "a@b.c", "7")
	require.NoError(t, err)
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, model.ID("3"), resp.Messages[0].ID)

	require.NoError(t, c.DeleteConversation(context.Background(), "a@b.c", "7"))
	assert.True(t, deleted)
}

func TestListHistoryQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "a@b.c", r.URL.Query().Get("userEmail"))
		_, _ = io.WriteString(w, `{"success":true,"conversations":[{"id":"12","title":"Cotton pests"}],"history":[]}`)
	})

	resp, err := c.ListHistory(context.Background(), "a@b.c")
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, "Cotton pests", resp.Conversations[0].Title)
}

func TestCreateConversationRequiresID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"success":true}`)
	})

	_, err := c.CreateConversation(context.Background(), "a@b.c")
	var be *BackendError
	assert.True(t, errors.As(err, &be))
}

func TestTranscribeUploadsAudio(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "voice", string(data))
		assert.Equal(t, "note.webm", header.Filename)
		assert.Equal(t, "audio/webm", header.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `{"success":true,"transcript":"kapas","language":"ur"}`)
	})

	resp, err := c.Transcribe(context.Background(), "note.webm", "audio/webm", strings.NewReader("voice"))
	require.NoError(t, err)
	assert.Equal(t, "kapas", resp.Transcript)
}

func TestExportWritesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversation/7/export", r.URL.Path)
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = io.WriteString(w, "%PDF-1.4 data")
	})

	var buf bytes.Buffer
	n, err := c.ExportConversation(context.Background(), "a@b.c", "7", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len("%PDF-1.4 data")), n)
	assert.Equal(t, "%PDF-1.4 data", buf.String())
}

func TestExportFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"success":false,"error":"Forbidden"}`)
	})

	var buf bytes.Buffer
	_, err := c.ExportConversation(context.Background(), "a@b.c", "7", &buf)
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusForbidden, be.Status)
	assert.Zero(t, buf.Len())
}
