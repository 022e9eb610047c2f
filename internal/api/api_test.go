package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/fitcoach/coachchat/internal/auth"
	"github.com/fitcoach/coachchat/internal/chat"
	"github.com/fitcoach/coachchat/mocks"
	"github.com/fitcoach/coachchat/store/conversation"
	"github.com/fitcoach/coachchat/store/memory"
	"github.com/fitcoach/coachchat/store/message"
	"github.com/fitcoach/coachchat/store/user"
)

var (
	coach    = auth.Identity{UserID: "trainer-1", TenantID: "gym-1", Role: auth.RoleTrainer}
	member   = auth.Identity{UserID: "client-1", TenantID: "gym-1", Role: auth.RoleCustomer}
	stranger = auth.Identity{UserID: "client-9", TenantID: "gym-2", Role: auth.RoleCustomer}
)

type fixture struct {
	router *mux.Router
	authn  *auth.Authenticator
	store  *memory.Store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	store.PutUser(user.User{ID: coach.UserID, TenantID: "gym-1", Username: "coach_kim", Email: "kim@gym.test", Role: "trainer"})
	store.PutUser(user.User{ID: member.UserID, TenantID: "gym-1", Username: "alex", Email: "alex@gym.test", Role: "customer"})
	store.PutUser(user.User{ID: "admin-1", TenantID: "gym-1", Username: "alex_admin", Role: "admin"})
	store.PutUser(user.User{ID: stranger.UserID, TenantID: "gym-2", Username: "alexis", Role: "customer"})

	log := discardLogger()
	authn := auth.NewAuthenticator("test-secret", "", time.Hour)
	h := NewHandler(chat.NewDirectory(store.Conversations(), log), store.Messages(), store.Users(), log)
	r := mux.NewRouter()
	h.Register(r, authn)
	return &fixture{router: r, authn: authn, store: store}
}

func (f *fixture) do(t *testing.T, as *auth.Identity, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if as != nil {
		token, err := f.authn.GenerateToken(*as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, nil, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestAPI_RequiresCredential(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, nil, http.MethodGet, "/api/conversations", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateConversation_FindOrCreate(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	// When the member opens a conversation with the coach
	rec := f.do(t, &member, http.MethodPost, "/api/conversations", `{"participantId":"trainer-1"}`)
	req.Equal(http.StatusCreated, rec.Code)
	var first struct {
		ConversationID string `json:"conversationId"`
		Created        bool   `json:"created"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &first))
	req.True(first.Created)

	// Then the coach opening it back gets the same conversation
	rec = f.do(t, &coach, http.MethodPost, "/api/conversations", `{"participantId":"client-1"}`)
	req.Equal(http.StatusOK, rec.Code)
	var second struct {
		ConversationID string `json:"conversationId"`
		Created        bool   `json:"created"`
	}
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &second))
	req.False(second.Created)
	req.Equal(first.ConversationID, second.ConversationID)
}

func TestCreateConversation_Rejections(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{`, http.StatusBadRequest},
		{"missing participant", `{}`, http.StatusBadRequest},
		{"self", `{"participantId":"client-1"}`, http.StatusBadRequest},
		{"unknown user", `{"participantId":"ghost"}`, http.StatusNotFound},
		{"other tenant", `{"participantId":"client-9"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, &member, http.MethodPost, "/api/conversations", tc.body)
			require.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestListConversations(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	rec := f.do(t, &member, http.MethodGet, "/api/conversations", "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[]`, rec.Body.String())

	convo, err := f.store.Conversations().Create(context.Background(), []string{member.UserID, coach.UserID})
	req.NoError(err)
	_, err = f.store.Messages().Insert(context.Background(), message.New{
		ConversationID: convo.ID, SenderID: coach.UserID, Body: "How was the run?", Kind: message.KindText,
	})
	req.NoError(err)

	rec = f.do(t, &member, http.MethodGet, "/api/conversations", "")
	req.Equal(http.StatusOK, rec.Code)
	var summaries []conversation.Summary
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &summaries))
	req.Len(summaries, 1)
	req.Equal(convo.ID, summaries[0].ID)
	req.NotNil(summaries[0].LastMessage)
	req.Equal("How was the run?", summaries[0].LastMessage.Body)
}

func TestHistory(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	convo, err := f.store.Conversations().Create(ctx, []string{member.UserID, coach.UserID})
	req.NoError(err)
	for _, body := range []string{"one", "two", "three"} {
		_, err := f.store.Messages().Insert(ctx, message.New{
			ConversationID: convo.ID, SenderID: member.UserID, Body: body, Kind: message.KindText,
		})
		req.NoError(err)
	}

	// Given the newest page of two
	rec := f.do(t, &coach, http.MethodGet, "/api/conversations/"+convo.ID+"/messages?limit=2", "")
	req.Equal(http.StatusOK, rec.Code)
	var page []message.Message
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	req.Len(page, 2)
	req.Equal("two", page[0].Body)
	req.Equal("three", page[1].Body)

	// When paging before the oldest of them
	rec = f.do(t, &coach, http.MethodGet, "/api/conversations/"+convo.ID+"/messages?before="+itoa(page[0].ID), "")
	req.Equal(http.StatusOK, rec.Code)
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	req.Len(page, 1)
	req.Equal("one", page[0].Body)

	// Then outsiders and bad cursors are refused
	rec = f.do(t, &stranger, http.MethodGet, "/api/conversations/"+convo.ID+"/messages", "")
	req.Equal(http.StatusNotFound, rec.Code)
	rec = f.do(t, &coach, http.MethodGet, "/api/conversations/"+convo.ID+"/messages?before=abc", "")
	req.Equal(http.StatusBadRequest, rec.Code)
}

func TestSearchUsers_ScopedToTenantAndRoles(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	rec := f.do(t, &coach, http.MethodGet, "/api/users/search?q=alex", "")
	req.Equal(http.StatusOK, rec.Code)
	var users []user.User
	req.NoError(json.Unmarshal(rec.Body.Bytes(), &users))
	req.Len(users, 1)
	req.Equal(member.UserID, users[0].ID)

	rec = f.do(t, &coach, http.MethodGet, "/api/users/search", "")
	req.Equal(http.StatusOK, rec.Code)
	req.JSONEq(`[]`, rec.Body.String())
}

func TestListConversations_StoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	conversations := mocks.NewMockConversationStore(ctrl)
	messages := mocks.NewMockMessageStore(ctrl)
	users := mocks.NewMockUserStore(ctrl)

	conversations.EXPECT().ForUser(gomock.Any(), member.UserID).Return(nil, errors.New("connection reset"))

	log := discardLogger()
	authn := auth.NewAuthenticator("test-secret", "", time.Hour)
	r := mux.NewRouter()
	NewHandler(chat.NewDirectory(conversations, log), messages, users, log).Register(r, authn)

	token, err := authn.GenerateToken(member)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
