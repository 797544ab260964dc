// Package share implements the trace sharing HTTP contract.
//
// A shared trace is uploaded once and addressed by a short key afterwards:
//
//	POST   /upload         raw trace body, returns UploadResponse
//	GET    /f/{key}        raw trace body with the original file name
//	DELETE /delete/{key}   removes the trace
//
// Upload and delete carry the shared secret in HeaderAuthKey. Failures are
// non-2xx responses with an ErrorResponse body.
package share

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/validation"
	"golang.org/x/sync/singleflight"
)

var (
	log  = logging.Component("share")
	json = jsoniter.ConfigCompatibleWithStandardLibrary
)

// Header names of the share contract.
const (
	HeaderAuthKey          = "X-Custom-Auth-Key"
	HeaderFileName         = "X-Custom-Filename"
	HeaderOriginalFileName = "X-Original-Filename"
)

// Paths of the share contract.
const (
	UploadPath   = "/upload"
	DownloadPath = "/f/"
	DeletePath   = "/delete/"
)

// LinkParam is the query parameter of a share link.
const LinkParam = "trace"

// UploadResponse is returned by a successful upload.
type UploadResponse struct {
	ShortURL string `json:"shortUrl"`
	ShortKey string `json:"shortKey"`
	FileName string `json:"fileName"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Download is a fetched trace.
type Download struct {
	Key      string
	FileName string
	Data     []byte
}

// Config configures a Client.
type Config struct {
	// BaseURL is the share service root, e.g. "https://share.example.com".
	BaseURL string

	// AuthKey authorizes uploads and deletes.
	AuthKey string

	// Timeout bounds a single request. Ignored when HTTPClient is set.
	Timeout time.Duration

	HTTPClient *http.Client
}

// Client talks to a share service.
// It is safe for concurrent use; concurrent downloads of one key share a
// single request.
type Client struct {
	base    *url.URL
	authKey string
	http    *http.Client

	downloads singleflight.Group
}

// New creates a share client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.NewMissingField("share.url")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, errors.NewInvalidValue("share.url", cfg.BaseURL, "expected an http(s) URL")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = config.DefaultClientTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{
		base:    base,
		authKey: cfg.AuthKey,
		http:    hc,
	}, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.base
	u.Path = c.base.Path + path
	return u.String()
}

// Upload sends a trace and returns its share key.
func (c *Client) Upload(ctx context.Context, fileName string, body io.Reader) (*UploadResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(UploadPath), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(HeaderAuthKey, c.authKey)
	req.Header.Set(HeaderFileName, fileName)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Join(errors.ErrRemote, fmt.Errorf("upload: %w", err))
	}
	defer resp.Body.Close()

	if err := checkResponse("upload", resp); err != nil {
		return nil, err
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Join(errors.ErrRemote, fmt.Errorf("upload: decode response: %w", err))
	}
	if err := validation.ValidateShareKey(out.ShortKey); err != nil {
		return nil, errors.Join(errors.ErrRemote, fmt.Errorf("upload: %w", err))
	}

	log.Info("trace uploaded", "key", out.ShortKey, "file", out.FileName)
	return &out, nil
}

// Download fetches a shared trace. The file name comes from
// HeaderOriginalFileName, then Content-Disposition, then the default
// shared file name, and always ends in ".trace".
func (c *Client) Download(ctx context.Context, key string) (*Download, error) {
	if err := validation.ValidateShareKey(key); err != nil {
		return nil, err
	}

	v, err, shared := c.downloads.Do(key, func() (interface{}, error) {
		return c.download(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug("download shared", "key", key)
	}
	return v.(*Download), nil
}

func (c *Client) download(ctx context.Context, key string) (*Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(DownloadPath+url.PathEscape(key)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Join(errors.ErrRemote, fmt.Errorf("download: %w", err))
	}
	defer resp.Body.Close()

	if err := checkResponse("download", resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(errors.ErrRead, fmt.Errorf("download: %w", err))
	}

	return &Download{
		Key:      key,
		FileName: ResponseFileName(resp.Header),
		Data:     data,
	}, nil
}

// Delete removes a shared trace.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := validation.ValidateShareKey(key); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.endpoint(DeletePath+url.PathEscape(key)), nil)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderAuthKey, c.authKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Join(errors.ErrRemote, fmt.Errorf("delete: %w", err))
	}
	defer resp.Body.Close()

	if err := checkResponse("delete", resp); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)

	log.Info("trace deleted", "key", key)
	return nil
}

// checkResponse turns a non-2xx response into an error.
func checkResponse(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	details := resp.Status
	var body ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		switch {
		case body.Details != "":
			details = body.Details
		case body.Error != "":
			details = body.Error
		}
	}
	return errors.NewRemote(op, resp.StatusCode, details)
}

// =============================================================================
// File names and links
// =============================================================================

var (
	quotedFileName = regexp.MustCompile(`filename="([^"]*)"`)
	plainFileName  = regexp.MustCompile(`filename=([^;]*)`)
)

// ResponseFileName extracts the file name of a download response.
func ResponseFileName(h http.Header) string {
	name := h.Get(HeaderOriginalFileName)
	if name == "" {
		name = dispositionFileName(h.Get("Content-Disposition"))
	}
	if name == "" {
		return config.DefaultSharedFileName
	}
	return validation.EnsureTraceExtension(validation.SanitizeFileName(name))
}

func dispositionFileName(cd string) string {
	if cd == "" {
		return ""
	}
	m := quotedFileName.FindStringSubmatch(cd)
	if m == nil {
		m = plainFileName.FindStringSubmatch(cd)
	}
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return ""
	}

	name := strings.TrimSpace(m[1])
	if decoded, err := url.PathUnescape(name); err == nil {
		return decoded
	}
	return name
}

// ContentDisposition returns an attachment header value for name.
func ContentDisposition(name string) string {
	return fmt.Sprintf("attachment; filename=%q", url.PathEscape(name))
}

// Link returns the viewer URL for key: pageURL with its query replaced by
// "trace=<key>".
func Link(pageURL, key string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", errors.NewInvalidValue("page url", pageURL, err.Error())
	}
	u.RawQuery = url.Values{LinkParam: {key}}.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// KeyFromLink extracts the share key of a viewer URL. A bare key is
// returned unchanged.
func KeyFromLink(s string) (string, error) {
	key := s
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", errors.NewInvalidValue("share link", s, err.Error())
		}
		key = u.Query().Get(LinkParam)
		if key == "" {
			if i := strings.LastIndex(u.Path, DownloadPath); i >= 0 {
				key = u.Path[i+len(DownloadPath):]
			}
		}
	}
	if err := validation.ValidateShareKey(key); err != nil {
		return "", err
	}
	return key, nil
}
