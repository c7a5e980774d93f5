// Package job defines queued posts and the descriptor layouts that produce them.
//
// A Job is built by a Layout from one queue entry and is immutable once
// returned. Parsing, shape validation and asset checks fail with ParseError,
// ValidationError and AssetError respectively.
package job

import (
	"path"
	"time"
)

const (
	MaxTextLength = 280
	MaxImages     = 4
	MaxImageBytes = 5 * 1024 * 1024
)

// Slots accepted as the first label in the folder layout.
var Slots = []string{"morning", "day", "night"}

// Job is one validated post awaiting publication.
type Job struct {
	// Ref is the slash path of the backing artifact relative to queue/.
	Ref string
	ID  string

	Layout string

	// PublishAt is nil when the job should go out immediately.
	PublishAt *time.Time

	Text   string
	Labels []string
	Slot   string

	// Images are absolute paths in upload order.
	Images []string

	// Extra holds refs of queue files that travel with the job on finalize
	// (auto-discovered flat layout images).
	Extra []string
}

// Name is the base name of the job's artifact.
func (j *Job) Name() string { return path.Base(j.Ref) }

// When returns the publish time, or now for immediate jobs.
func (j *Job) When(now time.Time) time.Time {
	if j.PublishAt == nil {
		return now
	}
	return *j.PublishAt
}

// Due reports whether the job may be published at now.
func (j *Job) Due(now time.Time) bool {
	return j.PublishAt == nil || !j.PublishAt.After(now)
}

// Artifacts lists every queue ref owned by the job, primary first.
func (j *Job) Artifacts() []string {
	out := make([]string, 0, 1+len(j.Extra))
	out = append(out, j.Ref)
	return append(out, j.Extra...)
}
