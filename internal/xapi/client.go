// Package xapi is the HTTP client for the posting API: media upload and post
// creation.
package xapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dghubble/sling"
)

const (
	DefaultUploadTimeout = 60 * time.Second
	DefaultPostTimeout   = 30 * time.Second

	uploadPath = "2/media/upload"
	tweetsPath = "2/tweets"

	// maxBody caps how much of a response is kept.
	maxBody = 1 << 20
)

// ErrEmptyPost is returned when a post has neither text nor media.
var ErrEmptyPost = errors.New("post must include text or media")

// Credentials authorize one call.
type Credentials struct {
	AccessToken string
	BaseURL     string
}

// APIError is a failed call: a non-2xx status with its raw body, or a
// transport failure (StatusCode 0).
type APIError struct {
	Message    string
	StatusCode int
	Payload    []byte
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

type Config struct {
	UserAgent     string
	UploadTimeout time.Duration
	PostTimeout   time.Duration
	HTTPClient    *http.Client
}

type Client struct {
	http          *http.Client
	userAgent     string
	uploadTimeout time.Duration
	postTimeout   time.Duration
}

func New(cfg Config) *Client {
	c := &Client{
		http:          cfg.HTTPClient,
		userAgent:     cfg.UserAgent,
		uploadTimeout: cfg.UploadTimeout,
		postTimeout:   cfg.PostTimeout,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.userAgent == "" {
		c.userAgent = "xposter/0.1.0"
	}
	if c.uploadTimeout <= 0 {
		c.uploadTimeout = DefaultUploadTimeout
	}
	if c.postTimeout <= 0 {
		c.postTimeout = DefaultPostTimeout
	}
	return c
}

func (c *Client) base(cred Credentials) *sling.Sling {
	return sling.New().
		Base(strings.TrimRight(cred.BaseURL, "/")+"/").
		Set("Authorization", "Bearer "+cred.AccessToken).
		Set("User-Agent", c.userAgent)
}

// UploadMedia uploads one image and returns the raw response object.
func (c *Client) UploadMedia(ctx context.Context, cred Credentials, path, mediaType string) (json.RawMessage, error) {
	body, err := multipartImage(path, mediaType)
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("read %s: %v", filepath.Base(path), err)}
	}
	req, err := c.base(cred).Post(uploadPath).BodyProvider(body).Request()
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req, c.uploadTimeout)
}

type postBody struct {
	Text  string     `json:"text,omitempty"`
	Media *postMedia `json:"media,omitempty"`
}

type postMedia struct {
	MediaIDs []string `json:"media_ids"`
}

// CreatePost creates a post with text and the given media ids.
func (c *Client) CreatePost(ctx context.Context, cred Credentials, text string, mediaIDs []string) (json.RawMessage, error) {
	var p postBody
	if strings.TrimSpace(text) != "" {
		p.Text = text
	}
	if len(mediaIDs) > 0 {
		p.Media = &postMedia{MediaIDs: mediaIDs}
	}
	if p.Text == "" && p.Media == nil {
		return nil, ErrEmptyPost
	}
	req, err := c.base(cred).Post(tweetsPath).BodyJSON(p).Request()
	if err != nil {
		return nil, err
	}
	return c.do(ctx, req, c.postTimeout)
}

func (c *Client) do(ctx context.Context, req *http.Request, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &APIError{Message: fmt.Sprintf("%s %s timed out after %s", req.Method, req.URL.Path, timeout)}
		}
		return nil, &APIError{Message: err.Error()}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &APIError{Message: "read response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Message: fmt.Sprintf("API error %d", resp.StatusCode), StatusCode: resp.StatusCode, Payload: b}
	}
	if !json.Valid(b) {
		return nil, &APIError{Message: "response is not JSON", StatusCode: resp.StatusCode, Payload: b}
	}
	return json.RawMessage(b), nil
}

// multipartBody is a sling.BodyProvider for an encoded multipart form.
type multipartBody struct {
	buf         []byte
	contentType string
}

func (m multipartBody) ContentType() string      { return m.contentType }
func (m multipartBody) Body() (io.Reader, error) { return bytes.NewReader(m.buf), nil }

func multipartImage(path, mediaType string) (multipartBody, error) {
	f, err := os.Open(path)
	if err != nil {
		return multipartBody{}, err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, filepath.Base(path)))
	h.Set("Content-Type", mediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return multipartBody{}, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return multipartBody{}, err
	}
	_ = mw.WriteField("media_category", "tweet_image")
	_ = mw.WriteField("media_type", mediaType)
	if err := mw.Close(); err != nil {
		return multipartBody{}, err
	}
	return multipartBody{buf: buf.Bytes(), contentType: mw.FormDataContentType()}, nil
}
