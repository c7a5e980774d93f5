// Package publisher runs one job end to end against the posting API.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"xposter/internal/auth"
	"xposter/internal/job"
	"xposter/internal/queue"
	"xposter/internal/xapi"
	logx "xposter/pkg/logx"
)

// Kind classifies a publish outcome.
type Kind int

const (
	// Sent: the post was created.
	Sent Kind = iota
	// Failed: the job is finished and goes to failed/.
	Failed
	// Deferred: no attempt was possible (auth, shutdown); the job stays queued.
	Deferred
)

func (k Kind) String() string {
	switch k {
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	case Deferred:
		return "deferred"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the result of one Publish call.
type Outcome struct {
	Kind    Kind
	Uploads []json.RawMessage
	Tweet   json.RawMessage
	Err     error
}

// Result converts a terminal outcome into its result record.
func (o Outcome) Result(jobID string) queue.Result {
	if o.Kind == Sent {
		return queue.Success(jobID, o.Uploads, o.Tweet)
	}
	info := queue.ErrorInfo{Message: "unknown error"}
	if o.Err != nil {
		info.Message = o.Err.Error()
	}
	var ae *xapi.APIError
	if errors.As(o.Err, &ae) {
		info.StatusCode = ae.StatusCode
		info.Payload = queue.RawPayload(ae.Payload)
	}
	return queue.Failure(jobID, info, nil)
}

// Tokens hands out valid access tokens.
type Tokens interface {
	EnsureValidToken(ctx context.Context) (auth.Token, error)
}

// API is the posting capability.
type API interface {
	UploadMedia(ctx context.Context, cred xapi.Credentials, path, mediaType string) (json.RawMessage, error)
	CreatePost(ctx context.Context, cred xapi.Credentials, text string, mediaIDs []string) (json.RawMessage, error)
}

type Config struct {
	// MinInterval spaces consecutive posts. Zero disables spacing.
	MinInterval time.Duration
}

type Publisher struct {
	tokens  Tokens
	api     API
	limiter *rate.Limiter
	log     logx.Logger
}

func New(tokens Tokens, api API, cfg Config, log logx.Logger) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Publisher{tokens: tokens, api: api, log: log.With(logx.String("comp", "publisher"))}
	if cfg.MinInterval > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return p
}

// Publish uploads the job's images in order, then creates the post.
// A missing media id on any upload fails the whole job before posting.
func (p *Publisher) Publish(ctx context.Context, j *job.Job) Outcome {
	log := p.log.With(logx.String("ref", j.Ref))

	if strings.TrimSpace(j.Text) == "" && len(j.Images) == 0 {
		return Outcome{Kind: Failed, Err: xapi.ErrEmptyPost}
	}

	tok, err := p.tokens.EnsureValidToken(ctx)
	if err != nil {
		log.Warn("publish.auth_failed", logx.Err(err))
		return Outcome{Kind: Deferred, Err: err}
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return Outcome{Kind: Deferred, Err: err}
		}
	}
	cred := xapi.Credentials{AccessToken: tok.AccessToken, BaseURL: tok.BaseURL}

	var (
		uploads  []json.RawMessage
		mediaIDs []string
	)
	for _, img := range j.Images {
		mt := job.MediaType(img)
		if mt == "" {
			return Outcome{Kind: Failed, Err: fmt.Errorf("cannot determine media type for %s", filepath.Base(img))}
		}
		raw, err := p.api.UploadMedia(ctx, cred, img, mt)
		if err != nil {
			return p.failed(ctx, log, "publish.upload_failed", err)
		}
		id, ok := MediaID(raw)
		if !ok {
			return Outcome{Kind: Failed, Err: &xapi.APIError{Message: "upload response missing media_id", Payload: raw}}
		}
		log.Debug("publish.uploaded", logx.String("image", filepath.Base(img)), logx.String("media_id", id))
		uploads = append(uploads, raw)
		mediaIDs = append(mediaIDs, id)
	}

	tweet, err := p.api.CreatePost(ctx, cred, j.Text, mediaIDs)
	if err != nil {
		return p.failed(ctx, log, "publish.post_failed", err)
	}
	log.Info("publish.sent", logx.Int("media", len(mediaIDs)))
	return Outcome{Kind: Sent, Uploads: uploads, Tweet: tweet}
}

// failed maps an API error to Failed, or Deferred when the caller is
// shutting down.
func (p *Publisher) failed(ctx context.Context, log logx.Logger, event string, err error) Outcome {
	if ctx.Err() != nil {
		log.Info("publish.interrupted", logx.Err(err))
		return Outcome{Kind: Deferred, Err: ctx.Err()}
	}
	log.Warn(event, logx.Err(err))
	return Outcome{Kind: Failed, Err: err}
}

// MediaID extracts the uploaded media id from media_id, media_id_string or
// data.id, in that order. Ids may be JSON strings or numbers.
func MediaID(raw json.RawMessage) (string, bool) {
	var body struct {
		MediaID       json.RawMessage `json:"media_id"`
		MediaIDString json.RawMessage `json:"media_id_string"`
		Data          struct {
			ID json.RawMessage `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}
	for _, v := range []json.RawMessage{body.MediaID, body.MediaIDString, body.Data.ID} {
		if id := scalar(v); id != "" {
			return id, true
		}
	}
	return "", false
}

func scalar(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil && n.String() != "0" {
		return n.String()
	}
	return ""
}
