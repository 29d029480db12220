// Package telegram is a minimal Bot API client. The scraper consumes channel
// posts through it and the playback coordinator resolves message files into
// download URLs.
package telegram

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.telegram.org"

// Message is a channel post carrying a playable video or document.
type Message struct {
	ChatID       int64
	MessageID    int64
	FileID       string
	FileUniqueID string
	MimeType     string
	Size         int64
	Caption      string
	Filename     string
}

// APIError is a Bot API level failure ({"ok": false, ...}).
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %v: %v", e.Code, e.Description)
}

type ClientOptions struct {
	// BaseURL overrides the Bot API endpoint, for tests and local Bot API
	// servers (which also lift the 20 MB getFile limit).
	BaseURL string
	Timeout time.Duration
}

var DefaultClientOptions = ClientOptions{
	Timeout: 10 * time.Second,
}

type Client struct {
	httpClient httpDoer
	baseURL    string
	token      string
	logger     *zap.Logger
}

func NewClient(opts ClientOptions, token string, logger *zap.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultClientOptions.Timeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: newHTTPDoer(opts.Timeout),
		baseURL:    opts.BaseURL,
		token:      token,
		logger:     logger,
	}
}

// Validate checks the bot token with a getMe call.
func (c *Client) Validate(ctx context.Context) error {
	_, err := c.call(ctx, "getMe", nil)
	return err
}

// Updates fetches channel posts newer than offset and returns the playable
// ones plus the next offset. Non-media posts advance the offset but are
// dropped.
func (c *Client) Updates(ctx context.Context, offset int64) ([]Message, int64, error) {
	data := url.Values{}
	data.Set("offset", strconv.FormatInt(offset, 10))
	data.Set("timeout", "0")
	data.Set("allowed_updates", `["channel_post"]`)
	result, err := c.call(ctx, "getUpdates", data)
	if err != nil {
		return nil, offset, err
	}

	next := offset
	var msgs []Message
	for _, update := range result.Array() {
		if id := update.Get("update_id").Int(); id >= next {
			next = id + 1
		}
		post := update.Get("channel_post")
		if !post.Exists() {
			continue
		}
		if msg, ok := messageFromPost(post); ok {
			msgs = append(msgs, msg)
		}
	}
	return msgs, next, nil
}

// MessageFile recovers the file identifiers of an already-posted message.
// The Bot API can't read arbitrary messages, so the message is forwarded to
// a scratch chat the bot writes to, inspected and deleted again.
func (c *Client) MessageFile(ctx context.Context, chatID, messageID, scratchChatID int64) (Message, error) {
	data := url.Values{}
	data.Set("chat_id", strconv.FormatInt(scratchChatID, 10))
	data.Set("from_chat_id", strconv.FormatInt(chatID, 10))
	data.Set("message_id", strconv.FormatInt(messageID, 10))
	data.Set("disable_notification", "true")
	result, err := c.call(ctx, "forwardMessage", data)
	if err != nil {
		return Message{}, fmt.Errorf("couldn't forward telegram message: %w", err)
	}

	forwardedID := result.Get("message_id").Int()
	defer func() {
		data := url.Values{}
		data.Set("chat_id", strconv.FormatInt(scratchChatID, 10))
		data.Set("message_id", strconv.FormatInt(forwardedID, 10))
		if _, err := c.call(context.WithoutCancel(ctx), "deleteMessage", data); err != nil {
			c.logger.Warn("Couldn't delete scratch telegram message", zap.Error(err))
		}
	}()

	msg, ok := messageFromPost(result)
	if !ok {
		return Message{}, fmt.Errorf("telegram message %v/%v carries no playable file", chatID, messageID)
	}
	msg.ChatID = chatID
	msg.MessageID = messageID
	return msg, nil
}

// ResolveURL turns a file ID into a direct download URL. Valid for at least
// an hour per the Bot API docs, which fits the playback URL cache.
func (c *Client) ResolveURL(ctx context.Context, fileID string) (string, error) {
	data := url.Values{}
	data.Set("file_id", fileID)
	result, err := c.call(ctx, "getFile", data)
	if err != nil {
		return "", fmt.Errorf("couldn't resolve telegram file: %w", err)
	}
	filePath := result.Get("file_path").String()
	if filePath == "" {
		return "", fmt.Errorf("telegram getFile returned no file_path for %v", fileID)
	}
	return c.baseURL + "/file/bot" + c.token + "/" + filePath, nil
}

func messageFromPost(post gjson.Result) (Message, bool) {
	msg := Message{
		ChatID:    post.Get("chat.id").Int(),
		MessageID: post.Get("message_id").Int(),
		Caption:   post.Get("caption").String(),
	}
	media := post.Get("video")
	if !media.Exists() {
		media = post.Get("document")
	}
	if !media.Exists() {
		return Message{}, false
	}
	msg.FileID = media.Get("file_id").String()
	msg.FileUniqueID = media.Get("file_unique_id").String()
	msg.MimeType = media.Get("mime_type").String()
	msg.Size = media.Get("file_size").Int()
	msg.Filename = media.Get("file_name").String()
	return msg, true
}
