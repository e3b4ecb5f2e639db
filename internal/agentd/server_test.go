package agentd

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memagent/internal/auth"
	"memagent/internal/config"
	"memagent/internal/events"
	"memagent/internal/llm"
	"memagent/internal/memmanager"
	"memagent/internal/persistence"
	"memagent/internal/persistence/databases"
	"memagent/internal/testhelpers"
)

const testSecret = "test-secret-at-least-32-bytes-long!"

type fakeUserStore struct{ users map[string]persistence.User }

func newFakeUserStore() *fakeUserStore { return &fakeUserStore{users: map[string]persistence.User{}} }

func (f *fakeUserStore) Init(context.Context) error { return nil }
func (f *fakeUserStore) EnsureUser(_ context.Context, subject, email string) (persistence.User, error) {
	if u, ok := f.users[subject]; ok {
		return u, nil
	}
	u := persistence.User{ID: subject, Subject: subject, Email: email, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	f.users[subject] = u
	return u, nil
}
func (f *fakeUserStore) GetUser(_ context.Context, id string) (persistence.User, error) {
	u, ok := f.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return u, nil
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: subject, Issuer: "memagent", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func fakeEmbed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		v := make([]float32, 8)
		for j, r := range in {
			v[j%len(v)] += float32(r%89) + 1
		}
		out[i] = v
	}
	return out, nil
}

func newTestServer(t *testing.T, provider llm.Provider) (*Server, *fakeUserStore) {
	t.Helper()
	users := newFakeUserStore()
	verifier := auth.NewBearerVerifier(testSecret, "memagent", nil, users)
	pub, err := events.NewKafkaPublisher(config.KafkaConfig{Enabled: false})
	require.NoError(t, err)
	memMgr := memmanager.NewWithEmbedder(databases.NewMemoryVector(), databases.NewMemoryGraph(), fakeEmbed, config.MemoryConfig{DuplicateThreshold: 0.97}, pub)

	s := &Server{
		Conversations: databases.NewMemoryConversationStore(),
		ModelConfigs:  databases.NewMemoryModelConfigStore(),
		MemMgr:        memMgr,
		Verifier:      verifier,
		LLM:           provider,
		DefaultModel:  "test-model",
		MemoryCfg:     config.MemoryConfig{DefaultSearchLimit: 5, DeleteCandidateLimit: 10},
		HistoryLimit:  20,
	}
	return s, users
}

func TestConversationLifecycle(t *testing.T) {
	s, _ := newTestServer(t, &testhelpers.FakeProvider{Resp: llm.Message{Role: "assistant", Content: "hi there"}})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	token := signToken(t, "user-1")
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/conversations", strings.NewReader(`{"title":""}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data persistence.Conversation `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.Data.ID)

	listReq, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/conversations", nil)
	listReq.Header.Set("Authorization", "Bearer "+token)
	listResp, err := client.Do(listReq)
	require.NoError(t, err)
	defer listResp.Body.Close()
	assert.Equal(t, http.StatusOK, listResp.StatusCode)
}

func TestConversations_RequireBearer(t *testing.T) {
	s, _ := newTestServer(t, &testhelpers.FakeProvider{})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSendMessage_NonStreaming(t *testing.T) {
	s, _ := newTestServer(t, &testhelpers.FakeProvider{Resp: llm.Message{Role: "assistant", Content: "the answer is 42"}})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	token := signToken(t, "user-2")
	client := srv.Client()

	conv, err := s.Conversations.CreateConversation(context.Background(), "user-2", "")
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/conversations/"+conv.ID+"/messages", strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Data struct {
			UserMessage      persistence.Message `json:"user_message"`
			AssistantMessage persistence.Message `json:"assistant_message"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "hello", out.Data.UserMessage.Content)
	assert.Equal(t, "the answer is 42", out.Data.AssistantMessage.Content)

	updated, err := s.Conversations.GetConversation(context.Background(), "user-2", conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MessageCount)
}

func TestStreamMessage_EmitsNamedEvents(t *testing.T) {
	s, _ := newTestServer(t, &testhelpers.FakeProvider{Resp: llm.Message{Role: "assistant", Content: "0123456789abcde"}})
	srv := httptest.NewServer(s.Router())
	defer srv.Close()
	token := signToken(t, "user-3")
	client := srv.Client()

	conv, err := s.Conversations.CreateConversation(context.Background(), "user-3", "")
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/conversations/"+conv.ID+"/messages/stream", strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	require.Contains(t, events, "user_message")
	require.Contains(t, events, "token")
	require.Contains(t, events, "done")
}
