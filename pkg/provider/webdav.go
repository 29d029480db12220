package provider

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// WebDAV is the minimal PROPFIND client the Usenet and qBittorrent adapters
// use to locate the final media file next to the download client.
type WebDAV struct {
	http     HTTPClient
	baseURL  string
	username string
	password string
}

func NewWebDAV(http HTTPClient, baseURL, username, password string) *WebDAV {
	return &WebDAV{
		http:     http,
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
	}
}

type multistatus struct {
	Responses []davResponse `xml:"response"`
}

type davResponse struct {
	Href  string    `xml:"href"`
	Props []davProp `xml:"propstat>prop"`
}

type davProp struct {
	DisplayName   string `xml:"displayname"`
	ContentLength string `xml:"getcontentlength"`
	ResourceType  struct {
		Collection *struct{} `xml:"collection"`
	} `xml:"resourcetype"`
}

// List walks the directory recursively and returns the files found. Depth
// is bounded to keep a single bad listing from fanning out forever.
func (w *WebDAV) List(ctx context.Context, dir string) ([]File, error) {
	return w.list(ctx, dir, 0)
}

func (w *WebDAV) list(ctx context.Context, dir string, depth int) ([]File, error) {
	if depth > 4 {
		return nil, nil
	}
	entries, err := w.propfind(ctx, dir)
	if err != nil {
		return nil, err
	}

	var files []File
	for _, entry := range entries {
		// The listing echoes the requested collection itself.
		if strings.TrimRight(entry.path, "/") == strings.TrimRight(dir, "/") {
			continue
		}
		if entry.isDir {
			nested, err := w.list(ctx, entry.path, depth+1)
			if err != nil {
				return nil, err
			}
			files = append(files, nested...)
			continue
		}
		files = append(files, File{Index: len(files), Name: entry.path, Size: entry.size})
	}
	return files, nil
}

type davEntry struct {
	path  string
	size  int64
	isDir bool
}

func (w *WebDAV) propfind(ctx context.Context, dir string) ([]davEntry, error) {
	reqURL := w.baseURL + "/" + strings.TrimLeft(dir, "/")
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", reqURL, strings.NewReader(
		`<?xml version="1.0"?><propfind xmlns="DAV:"><prop><displayname/><getcontentlength/><resourcetype/></prop></propfind>`))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml")
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resBody, err := w.http.do(req, nil)
	if err != nil {
		return nil, NewError(ClipWebDAVError, "couldn't list %v over WebDAV: %v", dir, err)
	}

	var ms multistatus
	if err = xml.Unmarshal(resBody, &ms); err != nil {
		return nil, NewError(ClipWebDAVError, "couldn't parse WebDAV listing of %v: %v", dir, err)
	}

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, err
	}
	var entries []davEntry
	for _, res := range ms.Responses {
		entry := davEntry{path: strings.TrimPrefix(unescape(res.Href), base.Path)}
		for _, prop := range res.Props {
			if prop.ResourceType.Collection != nil {
				entry.isDir = true
			}
			if prop.ContentLength != "" {
				entry.size, _ = strconv.ParseInt(prop.ContentLength, 10, 64)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FileURL returns the direct, credentialed URL of a listed file.
func (w *WebDAV) FileURL(filePath string) string {
	if w.username == "" {
		return w.baseURL + "/" + strings.TrimLeft(filePath, "/")
	}
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return w.baseURL + "/" + strings.TrimLeft(filePath, "/")
	}
	u.User = url.UserPassword(w.username, w.password)
	u.Path = path.Join(u.Path, filePath)
	return u.String()
}

// BasicAuthHeader is used by adapters that hand the player a proxied URL
// instead of embedding credentials.
func (w *WebDAV) BasicAuthHeader() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(w.username+":"+w.password))
}

func unescape(s string) string {
	unescaped, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return unescaped
}
