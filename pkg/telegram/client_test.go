package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "12345:TEST-TOKEN"

// botServer is a minimal Bot API mock. Handlers are keyed by method
// name; unhandled methods fail the test.
type botServer struct {
	t        *testing.T
	server   *httptest.Server
	handlers map[string]func(params map[string]any) (any, *APIError)
	calls    []string
}

func newBotServer(t *testing.T) *botServer {
	t.Helper()
	bs := &botServer{t: t, handlers: map[string]func(map[string]any) (any, *APIError){}}
	bs.server = httptest.NewServer(http.HandlerFunc(bs.handle))
	t.Cleanup(bs.server.Close)
	return bs
}

func (bs *botServer) handle(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		bs.t.Errorf("request without bot token prefix: %s", r.URL.Path)
		http.NotFound(w, r)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	bs.calls = append(bs.calls, method)

	handler, ok := bs.handlers[method]
	if !ok {
		bs.t.Errorf("unexpected Bot API method: %s", method)
		http.NotFound(w, r)
		return
	}

	var params map[string]any
	body, _ := io.ReadAll(r.Body)
	if len(body) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			bs.t.Errorf("malformed %s body: %v", method, err)
		}
	}

	result, apiErr := handler(params)
	w.Header().Set("Content-Type", "application/json")
	if apiErr != nil {
		resp := map[string]any{
			"ok":          false,
			"error_code":  apiErr.Code,
			"description": apiErr.Description,
		}
		if apiErr.RetryAfter > 0 {
			resp["parameters"] = map[string]any{"retry_after": int(apiErr.RetryAfter / time.Second)}
		}
		json.NewEncoder(w).Encode(resp)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func (bs *botServer) client() *Client {
	return NewClientWithAPIURL(testToken, bs.server.URL)
}

func TestSendMessage(t *testing.T) {
	bs := newBotServer(t)
	var got map[string]any
	bs.handlers["sendMessage"] = func(params map[string]any) (any, *APIError) {
		got = params
		return Message{MessageID: 42, Chat: Chat{ID: -100200300}}, nil
	}

	err := bs.client().SendMessage(context.Background(), -100200300, "olá")
	require.NoError(t, err)
	assert.Equal(t, float64(-100200300), got["chat_id"])
	assert.Equal(t, "olá", got["text"])
}

func TestSendMessageWith_KeyboardAndThread(t *testing.T) {
	bs := newBotServer(t)
	var got map[string]any
	bs.handlers["sendMessage"] = func(params map[string]any) (any, *APIError) {
		got = params
		return Message{MessageID: 7}, nil
	}

	kb := &InlineKeyboard{InlineKeyboard: [][]InlineKeyboardButton{
		Row(Button("🌐 Conectividade", "cat:connectivity")),
	}}
	id, err := bs.client().SendMessageWith(context.Background(), -100200300, "Qual o tipo do problema?",
		SendMessageOptions{ThreadID: 55, Keyboard: kb})
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.Equal(t, float64(55), got["message_thread_id"])

	markup := got["reply_markup"].(map[string]any)
	rows := markup["inline_keyboard"].([]any)
	require.Len(t, rows, 1)
	button := rows[0].([]any)[0].(map[string]any)
	assert.Equal(t, "cat:connectivity", button["callback_data"])
}

func TestAPIErrorSurfacesCodeAndRetryAfter(t *testing.T) {
	bs := newBotServer(t)
	bs.handlers["sendMessage"] = func(map[string]any) (any, *APIError) {
		return nil, &APIError{Code: 429, Description: "Too Many Requests: retry after 17", RetryAfter: 17 * time.Second}
	}

	err := bs.client().SendMessage(context.Background(), 1, "x")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Code)

	wait, ok := IsRetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 17*time.Second, wait)
}

func TestCreateChatInviteLink(t *testing.T) {
	bs := newBotServer(t)
	expireAt := time.Now().Add(time.Hour).Truncate(time.Second)
	var got map[string]any
	bs.handlers["createChatInviteLink"] = func(params map[string]any) (any, *APIError) {
		got = params
		return ChatInviteLink{
			InviteLink:  "https://t.me/+abc123",
			MemberLimit: 1,
			ExpireDate:  expireAt.Unix(),
		}, nil
	}

	link, err := bs.client().CreateChatInviteLink(context.Background(), -100200300, "verified-7001", 1, expireAt)
	require.NoError(t, err)
	assert.Equal(t, "https://t.me/+abc123", link.InviteLink)
	assert.Equal(t, float64(1), got["member_limit"])
	assert.Equal(t, float64(expireAt.Unix()), got["expire_date"])
}

func TestBanThenUnban(t *testing.T) {
	bs := newBotServer(t)
	bs.handlers["banChatMember"] = func(params map[string]any) (any, *APIError) {
		assert.Equal(t, float64(8001), params["user_id"])
		return true, nil
	}
	bs.handlers["unbanChatMember"] = func(params map[string]any) (any, *APIError) {
		assert.Equal(t, true, params["only_if_banned"])
		return true, nil
	}

	ctx := context.Background()
	require.NoError(t, bs.client().BanChatMember(ctx, -100200300, 8001))
	require.NoError(t, bs.client().UnbanChatMember(ctx, -100200300, 8001))
	assert.Equal(t, []string{"banChatMember", "unbanChatMember"}, bs.calls)
}

func TestGetChatAdministrators(t *testing.T) {
	bs := newBotServer(t)
	bs.handlers["getChatAdministrators"] = func(map[string]any) (any, *APIError) {
		return []ChatMember{
			{User: User{ID: 100, Username: "owner"}, Status: "creator"},
			{User: User{ID: 200, Username: "mod"}, Status: "administrator"},
		}, nil
	}

	admins, err := bs.client().GetChatAdministrators(context.Background(), -100200300)
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, int64(100), admins[0].User.ID)
	assert.True(t, admins[0].InGroup())
}

func TestGetUpdates(t *testing.T) {
	bs := newBotServer(t)
	bs.handlers["getUpdates"] = func(params map[string]any) (any, *APIError) {
		assert.Equal(t, float64(900), params["offset"])
		return []Update{
			{UpdateID: 900, Message: &Message{MessageID: 1, Text: "/start", From: &User{ID: 7001}}},
			{UpdateID: 901, CallbackQuery: &CallbackQuery{ID: "cb1", Data: "cat:gaming", From: User{ID: 7001}}},
		}, nil
	}

	updates, err := bs.client().GetUpdates(context.Background(), 900, 30)
	require.NoError(t, err)
	require.Len(t, updates, 2)
	assert.Equal(t, "/start", updates[0].Message.Text)
	assert.Equal(t, "cat:gaming", updates[1].CallbackQuery.Data)
}

func TestFetchFile(t *testing.T) {
	content := []byte("fake-jpeg-bytes")
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/getFile", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": File{FileID: "photo-1", FilePath: "photos/file_77.jpg", FileSize: int64(len(content))},
		})
	})
	mux.HandleFunc(fmt.Sprintf("/file/bot%s/photos/file_77.jpg", testToken), func(w http.ResponseWriter, r *http.Request) {
		w.Write(content)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClientWithAPIURL(testToken, server.URL)
	name, body, err := client.FetchFile(context.Background(), "photo-1")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "file_77.jpg", name)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestFetchFile_NoPath(t *testing.T) {
	bs := newBotServer(t)
	bs.handlers["getFile"] = func(map[string]any) (any, *APIError) {
		return File{FileID: "photo-1"}, nil
	}

	_, _, err := bs.client().FetchFile(context.Background(), "photo-1")
	assert.Error(t, err)
}

func TestChatMemberInGroup(t *testing.T) {
	tests := []struct {
		status string
		in     bool
	}{
		{"creator", true},
		{"administrator", true},
		{"member", true},
		{"restricted", true},
		{"left", false},
		{"kicked", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			assert.Equal(t, tt.in, ChatMember{Status: tt.status}.InGroup())
		})
	}
}
