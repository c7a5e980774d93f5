package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUploadMedia(t *testing.T) {
	t.Parallel()

	img := filepath.Join(t.TempDir(), "01.png")
	if err := os.WriteFile(img, []byte("\x89PNG fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/media/upload" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("User-Agent = %q", got)
		}
		f, hdr, err := r.FormFile("media")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		if string(b) != "\x89PNG fake" || hdr.Filename != "01.png" || hdr.Header.Get("Content-Type") != "image/png" {
			t.Errorf("bad part: %q %q %q", b, hdr.Filename, hdr.Header.Get("Content-Type"))
		}
		if r.FormValue("media_category") != "tweet_image" || r.FormValue("media_type") != "image/png" {
			t.Errorf("bad fields: %v", r.MultipartForm.Value)
		}
		_, _ = w.Write([]byte(`{"data":{"id":"m1"}}`))
	}))
	defer srv.Close()

	c := New(Config{UserAgent: "test-agent"})
	raw, err := c.UploadMedia(context.Background(), Credentials{AccessToken: "tok", BaseURL: srv.URL + "/"}, img, "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"data":{"id":"m1"}}` {
		t.Fatalf("raw = %s", raw)
	}
}

func TestCreatePost(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2/tweets" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"t1","text":"hi"}}`))
	}))
	defer srv.Close()

	c := New(Config{})
	cred := Credentials{AccessToken: "tok", BaseURL: srv.URL}
	raw, err := c.CreatePost(context.Background(), cred, "hi", []string{"m1", "m2"})
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"data":{"id":"t1","text":"hi"}}` {
		t.Fatalf("raw = %s", raw)
	}
	media, _ := got["media"].(map[string]any)
	ids, _ := media["media_ids"].([]any)
	if got["text"] != "hi" || len(ids) != 2 {
		t.Fatalf("body = %v", got)
	}

	if _, err := c.CreatePost(context.Background(), cred, "  ", nil); !errors.Is(err, ErrEmptyPost) {
		t.Fatalf("empty post err = %v", err)
	}
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"title":"Forbidden"}`))
	}))
	defer srv.Close()
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	c := New(Config{PostTimeout: 50 * time.Millisecond})

	_, err := c.CreatePost(context.Background(), Credentials{AccessToken: "t", BaseURL: srv.URL}, "hi", nil)
	var ae *APIError
	if !errors.As(err, &ae) || ae.StatusCode != http.StatusForbidden || string(ae.Payload) != `{"title":"Forbidden"}` {
		t.Fatalf("err = %#v", err)
	}

	_, err = c.CreatePost(context.Background(), Credentials{AccessToken: "t", BaseURL: slow.URL}, "hi", nil)
	if !errors.As(err, &ae) || ae.StatusCode != 0 {
		t.Fatalf("timeout err = %#v", err)
	}
}

func TestUploadMissingFile(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	_, err := c.UploadMedia(context.Background(), Credentials{BaseURL: "http://127.0.0.1:1"}, filepath.Join(t.TempDir(), "nope.png"), "image/png")
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v", err)
	}
}
