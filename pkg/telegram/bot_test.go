package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	return NewClient(ClientOptions{BaseURL: baseURL}, "TESTTOKEN", nil)
}

func TestUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTESTTOKEN/getUpdates", r.URL.Path)
		fmt.Fprint(w, `{"ok": true, "result": [
			{"update_id": 10, "channel_post": {"message_id": 100, "chat": {"id": -1001}, "caption": "Example Movie 2020 1080p", "video": {"file_id": "FID1", "file_unique_id": "UID1", "mime_type": "video/x-matroska", "file_size": 2000}}},
			{"update_id": 11, "channel_post": {"message_id": 101, "chat": {"id": -1001}, "text": "no media"}},
			{"update_id": 12, "channel_post": {"message_id": 102, "chat": {"id": -1001}, "document": {"file_id": "FID2", "file_unique_id": "UID2", "mime_type": "video/mp4", "file_size": 3000, "file_name": "show.s01e02.mp4"}}}
		]}`)
	}))
	defer srv.Close()

	msgs, next, err := newTestClient(srv.URL).Updates(context.Background(), 10)
	require.NoError(t, err)
	require.EqualValues(t, 13, next)
	require.Len(t, msgs, 2)
	require.Equal(t, Message{
		ChatID: -1001, MessageID: 100, FileID: "FID1", FileUniqueID: "UID1",
		MimeType: "video/x-matroska", Size: 2000, Caption: "Example Movie 2020 1080p",
	}, msgs[0])
	require.Equal(t, "show.s01e02.mp4", msgs[1].Filename)
}

func TestMessageFile(t *testing.T) {
	var deleted bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/botTESTTOKEN/forwardMessage":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "-2002", r.PostForm.Get("chat_id"))
			require.Equal(t, "-1001", r.PostForm.Get("from_chat_id"))
			require.Equal(t, "100", r.PostForm.Get("message_id"))
			fmt.Fprint(w, `{"ok": true, "result": {"message_id": 7, "chat": {"id": -2002}, "video": {"file_id": "FID1", "file_unique_id": "UID1", "file_size": 2000}}}`)
		case "/botTESTTOKEN/deleteMessage":
			require.NoError(t, r.ParseForm())
			require.Equal(t, "7", r.PostForm.Get("message_id"))
			deleted = true
			fmt.Fprint(w, `{"ok": true, "result": true}`)
		default:
			t.Errorf("unexpected path %v", r.URL.Path)
		}
	}))
	defer srv.Close()

	msg, err := newTestClient(srv.URL).MessageFile(context.Background(), -1001, 100, -2002)
	require.NoError(t, err)
	require.True(t, deleted)
	require.EqualValues(t, -1001, msg.ChatID)
	require.EqualValues(t, 100, msg.MessageID)
	require.Equal(t, "FID1", msg.FileID)
	require.Equal(t, "UID1", msg.FileUniqueID)
}

func TestResolveURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTESTTOKEN/getFile", r.URL.Path)
		fmt.Fprint(w, `{"ok": true, "result": {"file_id": "FID1", "file_path": "videos/file_1.mkv"}}`)
	}))
	defer srv.Close()

	streamURL, err := newTestClient(srv.URL).ResolveURL(context.Background(), "FID1")
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/file/botTESTTOKEN/videos/file_1.mkv", streamURL)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok": false, "error_code": 401, "description": "Unauthorized"}`)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Validate(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, 401, apiErr.Code)
}
