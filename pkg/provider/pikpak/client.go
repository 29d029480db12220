// Package pikpak resolves streams through the PikPak drive API. Accounts
// authenticate with email and password through an OAuth2 password grant;
// magnets become offline-download tasks that materialize as drive files.
package pikpak

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

const (
	driveURL = "https://api-drive.mypikpak.com/drive/v1"
	tokenURL = "https://user.mypikpak.com/v1/auth/token"
	clientID = "YNxT9w7GMdWvEOKa"
)

type Client struct {
	http provider.HTTPClient
}

func NewClient(opts provider.Options) *Client {
	return &Client{http: provider.NewHTTPClient("pikpak", opts)}
}

func (c *Client) Name() string {
	return "pikpak"
}

// headers logs in with the password grant. PikPak has no long-lived API
// keys, so every resolution mints a fresh access token.
func (c *Client) headers(ctx context.Context, creds provider.Credentials) (map[string]string, error) {
	conf := &oauth2.Config{
		ClientID: clientID,
		Endpoint: oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	}
	token, err := conf.PasswordCredentialsToken(ctx, creds.Email, creds.Password)
	if err != nil {
		return nil, provider.NewError(provider.ClipInvalidCredentials, "couldn't sign in to PikPak: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token.AccessToken}, nil
}

func (c *Client) Validate(ctx context.Context, creds provider.Credentials) error {
	_, err := c.headers(ctx, creds)
	return err
}

// ProbeCache always reports a miss: PikPak has no public availability
// endpoint, downloads start on demand.
func (c *Client) ProbeCache(ctx context.Context, creds provider.Credentials, infoHashes []string) ([]string, error) {
	return nil, nil
}

func (c *Client) Resolve(ctx context.Context, creds provider.Credentials, asset provider.Asset) (string, error) {
	headers, err := c.headers(ctx, creds)
	if err != nil {
		return "", err
	}

	body := map[string]interface{}{
		"kind":        "drive#file",
		"upload_type": "UPLOAD_TYPE_URL",
		"url":         map[string]interface{}{"url": asset.MagnetURL},
		"folder_type": "DOWNLOAD",
	}
	resBytes, err := c.http.PostJSON(ctx, driveURL+"/files", headers, body)
	if err != nil {
		return "", err
	}
	taskID := gjson.GetBytes(resBytes, "task.id").String()
	if taskID == "" {
		return "", provider.NewError(provider.ClipTransferError, "PikPak didn't accept the magnet")
	}

	var folderID string
	err = c.http.Poll(ctx, func(ctx context.Context) (bool, error) {
		resBytes, err := c.http.Get(ctx, driveURL+"/tasks/"+taskID, headers)
		if err != nil {
			return false, err
		}
		switch phase := gjson.GetBytes(resBytes, "phase").String(); phase {
		case "PHASE_TYPE_COMPLETE":
			folderID = gjson.GetBytes(resBytes, "file_id").String()
			return true, nil
		case "PHASE_TYPE_ERROR":
			return false, provider.NewError(provider.ClipTransferError, "PikPak task failed: %v", gjson.GetBytes(resBytes, "message").String())
		default:
			return false, nil
		}
	})
	if err != nil {
		return "", err
	}

	files, fileIDs, err := c.listFiles(ctx, headers, folderID)
	if err != nil {
		return "", err
	}
	selected, err := provider.SelectFile(files, asset, nil)
	if err != nil {
		return "", err
	}

	resBytes, err = c.http.Get(ctx, fmt.Sprintf("%v/files/%v?usage=FETCH", driveURL, fileIDs[selected.Index]), headers)
	if err != nil {
		return "", err
	}
	streamURL := gjson.GetBytes(resBytes, "medias.0.link.url").String()
	if streamURL == "" {
		streamURL = gjson.GetBytes(resBytes, "web_content_link").String()
	}
	if streamURL == "" {
		return "", provider.NewError(provider.ClipTransferError, "PikPak didn't return a media link for %v", selected.Name)
	}
	return streamURL, nil
}

// listFiles flattens the task's target. A single-file task points straight
// at the file; a folder task is listed one level deep.
func (c *Client) listFiles(ctx context.Context, headers map[string]string, fileID string) ([]provider.File, []string, error) {
	resBytes, err := c.http.Get(ctx, driveURL+"/files/"+fileID, headers)
	if err != nil {
		return nil, nil, err
	}
	if gjson.GetBytes(resBytes, "kind").String() == "drive#file" && gjson.GetBytes(resBytes, "mime_type").String() != "application/pikpak-folder" {
		file := provider.File{
			Index: 0,
			Name:  gjson.GetBytes(resBytes, "name").String(),
			Size:  gjson.GetBytes(resBytes, "size").Int(),
		}
		return []provider.File{file}, []string{fileID}, nil
	}

	resBytes, err = c.http.Get(ctx, driveURL+"/files?parent_id="+fileID, headers)
	if err != nil {
		return nil, nil, err
	}
	var files []provider.File
	var ids []string
	for i, entry := range gjson.GetBytes(resBytes, "files").Array() {
		files = append(files, provider.File{
			Index: i,
			Name:  entry.Get("name").String(),
			Size:  entry.Get("size").Int(),
		})
		ids = append(ids, entry.Get("id").String())
	}
	return files, ids, nil
}

func (c *Client) ListDownloaded(ctx context.Context, creds provider.Credentials) ([]provider.DownloadItem, error) {
	headers, err := c.headers(ctx, creds)
	if err != nil {
		return nil, err
	}
	resBytes, err := c.http.Get(ctx, driveURL+"/files?filters={\"phase\":{\"eq\":\"PHASE_TYPE_COMPLETE\"}}", headers)
	if err != nil {
		return nil, err
	}
	var items []provider.DownloadItem
	for _, entry := range gjson.GetBytes(resBytes, "files").Array() {
		items = append(items, provider.DownloadItem{
			Name: entry.Get("name").String(),
			Size: entry.Get("size").Int(),
		})
	}
	return items, nil
}

func (c *Client) DeleteAll(ctx context.Context, creds provider.Credentials) error {
	headers, err := c.headers(ctx, creds)
	if err != nil {
		return err
	}
	resBytes, err := c.http.Get(ctx, driveURL+"/files", headers)
	if err != nil {
		return err
	}
	var ids []interface{}
	for _, entry := range gjson.GetBytes(resBytes, "files").Array() {
		ids = append(ids, entry.Get("id").String())
	}
	if len(ids) == 0 {
		return nil
	}
	_, err = c.http.PostJSON(ctx, driveURL+"/files:batchTrash", headers, map[string]interface{}{"ids": ids})
	return err
}
