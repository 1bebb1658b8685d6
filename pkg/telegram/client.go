// Package telegram is a thin Bot API client. It covers only the
// methods the backend uses: messaging, invite links, membership
// management, long polling and file download. The bot token is part of
// every request URL and is never logged.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
)

const defaultAPIURL = "https://api.telegram.org"

// APIError is a Bot API rejection.
type APIError struct {
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// Client talks to the Telegram Bot API.
type Client struct {
	token      string
	apiURL     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a client from the Telegram configuration.
func NewClient(cfg config.TelegramConfig) *Client {
	return NewClientWithAPIURL(cfg.Token, defaultAPIURL)
}

// NewClientWithAPIURL builds a client against a custom API endpoint.
// Used by tests to point at a mock server.
func NewClientWithAPIURL(token, apiURL string) *Client {
	return &Client{
		token:      token,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 65 * time.Second},
		logger:     slog.Default().With("component", "telegram-client"),
	}
}

// SendMessage posts a plain text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	_, err := c.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	return err
}

// SendMessageOptions carries the optional sendMessage fields.
type SendMessageOptions struct {
	ThreadID  int64
	Keyboard  *InlineKeyboard
	ParseMode string
}

// SendMessageWith posts a message with options and returns the sent
// message id, so the caller can edit it later.
func (c *Client) SendMessageWith(ctx context.Context, chatID int64, text string, opts SendMessageOptions) (int, error) {
	params := map[string]any{
		"chat_id": chatID,
		"text":    text,
	}
	if opts.ThreadID != 0 {
		params["message_thread_id"] = opts.ThreadID
	}
	if opts.Keyboard != nil {
		params["reply_markup"] = opts.Keyboard
	}
	if opts.ParseMode != "" {
		params["parse_mode"] = opts.ParseMode
	}
	data, err := c.call(ctx, "sendMessage", params)
	if err != nil {
		return 0, err
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return 0, fmt.Errorf("decoding sent message: %w", err)
	}
	return msg.MessageID, nil
}

// EditMessage replaces the text and keyboard of a sent message.
func (c *Client) EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard *InlineKeyboard) error {
	params := map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if keyboard != nil {
		params["reply_markup"] = keyboard
	}
	_, err := c.call(ctx, "editMessageText", params)
	return err
}

// AnswerCallbackQuery acknowledges a button press. Text, when set, is
// shown to the user as a toast.
func (c *Client) AnswerCallbackQuery(ctx context.Context, queryID, text string) error {
	params := map[string]any{"callback_query_id": queryID}
	if text != "" {
		params["text"] = text
	}
	_, err := c.call(ctx, "answerCallbackQuery", params)
	return err
}

// CreateChatInviteLink issues a single-use invite link that expires at
// the given time.
func (c *Client) CreateChatInviteLink(ctx context.Context, chatID int64, name string, memberLimit int, expireAt time.Time) (*ChatInviteLink, error) {
	data, err := c.call(ctx, "createChatInviteLink", map[string]any{
		"chat_id":      chatID,
		"name":         name,
		"member_limit": memberLimit,
		"expire_date":  expireAt.Unix(),
	})
	if err != nil {
		return nil, err
	}
	var link ChatInviteLink
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("decoding invite link: %w", err)
	}
	return &link, nil
}

// BanChatMember removes a user from the chat.
func (c *Client) BanChatMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.call(ctx, "banChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
	return err
}

// UnbanChatMember lifts a ban so the user may rejoin via a new invite.
func (c *Client) UnbanChatMember(ctx context.Context, chatID, userID int64) error {
	_, err := c.call(ctx, "unbanChatMember", map[string]any{
		"chat_id":        chatID,
		"user_id":        userID,
		"only_if_banned": true,
	})
	return err
}

// GetChatAdministrators lists the chat's current administrators.
func (c *Client) GetChatAdministrators(ctx context.Context, chatID int64) ([]ChatMember, error) {
	data, err := c.call(ctx, "getChatAdministrators", map[string]any{"chat_id": chatID})
	if err != nil {
		return nil, err
	}
	var members []ChatMember
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("decoding administrators: %w", err)
	}
	return members, nil
}

// GetChatMember reads one user's membership record.
func (c *Client) GetChatMember(ctx context.Context, chatID, userID int64) (*ChatMember, error) {
	data, err := c.call(ctx, "getChatMember", map[string]any{
		"chat_id": chatID,
		"user_id": userID,
	})
	if err != nil {
		return nil, err
	}
	var member ChatMember
	if err := json.Unmarshal(data, &member); err != nil {
		return nil, fmt.Errorf("decoding chat member: %w", err)
	}
	return &member, nil
}

// GetUpdates long-polls for new updates. timeout is the server-side
// hold in seconds; the HTTP client allows up to 65s.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	data, err := c.call(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message", "callback_query"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("decoding updates: %w", err)
	}
	return updates, nil
}

// GetFile resolves a file id into a downloadable path.
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	data, err := c.call(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding file record: %w", err)
	}
	return &file, nil
}

// FetchFile downloads a file by id. The caller owns the returned
// reader. Satisfies the integration engine's attachment fetcher.
func (c *Client) FetchFile(ctx context.Context, fileID string) (string, io.ReadCloser, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return "", nil, err
	}
	if file.FilePath == "" {
		return "", nil, fmt.Errorf("file %s has no download path", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.apiURL, c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("building download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("downloading file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return "", nil, fmt.Errorf("downloading file: unexpected status %d", resp.StatusCode)
	}
	return path.Base(file.FilePath), resp.Body, nil
}

// call sends one Bot API request and unwraps the envelope.
func (c *Client) call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding %s params: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.apiURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !envelope.OK {
		apiErr := &APIError{Code: envelope.ErrorCode, Description: envelope.Description}
		if envelope.Parameters != nil && envelope.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(envelope.Parameters.RetryAfter) * time.Second
		}
		c.logger.Warn("Bot API call rejected",
			"method", method, "code", apiErr.Code, "description", apiErr.Description)
		return nil, apiErr
	}
	return envelope.Result, nil
}

// IsRetryAfter reports whether err is a flood-wait rejection, returning
// the wait the API asked for.
func IsRetryAfter(err error) (time.Duration, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}
	return 0, false
}
