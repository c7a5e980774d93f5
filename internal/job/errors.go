package job

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingDescriptor marks a post folder that has no post.json yet.
// Such entries are reported but left in the queue.
var ErrMissingDescriptor = errors.New("missing post.json")

// ParseError is a descriptor that could not be read or decoded.
type ParseError struct {
	Ref string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Ref, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError collects every text, label, image-count and publish_at
// violation of a decoded descriptor.
type ValidationError struct {
	Ref      string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid job: %s", e.Ref, strings.Join(e.Problems, "; "))
}

// AssetError collects per-image failures (missing, oversized, wrong type).
type AssetError struct {
	Ref      string
	Problems []string
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("%s: invalid media: %s", e.Ref, strings.Join(e.Problems, "; "))
}

// Problems returns the individual messages carried by a job error, or the
// error text itself for anything else.
func Problems(err error) []string {
	if err == nil {
		return nil
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return append([]string(nil), ve.Problems...)
	}
	var ae *AssetError
	if errors.As(err, &ae) {
		return append([]string(nil), ae.Problems...)
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		return []string{pe.Err.Error()}
	}
	return []string{err.Error()}
}
