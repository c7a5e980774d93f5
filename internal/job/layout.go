package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	LayoutFolder = "folder"
	LayoutFlat   = "flat"
)

// Layout is a queue descriptor strategy.
type Layout interface {
	Name() string
	// Discover lists candidate refs under the queue root in lexicographic order.
	Discover(root string) ([]string, error)
	// Parse decodes, validates and asset-checks the entry at ref.
	Parse(root, ref string) (*Job, error)
	// Relevant reports whether a change to the named file can alter the job set.
	Relevant(name string) bool
}

// Options configure descriptor parsing.
type Options struct {
	Location      *time.Location
	DefaultTimes  map[string]string
	VerifyContent bool
	Now           func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.Local
}

// NewLayout returns the layout registered under name.
func NewLayout(name string, opts Options) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LayoutFolder, "":
		return &folderLayout{opts: opts}, nil
	case LayoutFlat:
		return &flatLayout{opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown queue layout %q", name)
	}
}

// LeaveInQueue reports whether a scan error describes an entry that should
// stay where it is (still being written, or not a job at all) rather than
// being moved to failed.
func LeaveInQueue(err error) bool {
	return errors.Is(err, ErrMissingDescriptor) || errors.Is(err, ErrNotDateFolder)
}

func hidden(name string) bool { return strings.HasPrefix(name, ".") }

func isResultFile(name string) bool {
	return strings.HasSuffix(name, ".result.json") || strings.HasSuffix(name, ".error.txt")
}

// decodeStrict decodes one JSON object, rejecting unknown fields and trailing data.
func decodeStrict(b []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("trailing data after descriptor")
	}
	return nil
}

// numberedImages lists files in dir whose name matches re, sorted.
// Descriptor and result files never count as images.
func numberedImages(dir string, re *regexp.Regexp) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || hidden(n) || strings.EqualFold(filepath.Ext(n), ".json") || isResultFile(n) {
			continue
		}
		if re.MatchString(n) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func toSlash(root, abs string) string {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

func refDir(root, ref string) string {
	return filepath.Join(root, filepath.FromSlash(path.Clean(ref)))
}
