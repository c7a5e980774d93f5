package job

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DescriptorName is the per-post descriptor in the folder layout.
const DescriptorName = "post.json"

// ErrNotDateFolder marks a top-level queue folder whose name is not a date.
var ErrNotDateFolder = errors.New("not a YYYY-MM-DD date folder")

const fallbackSlotTime = "12:00"

var reFolderImage = regexp.MustCompile(`^\d{2}\.[^.]+$`)

type folderDescriptor struct {
	ID        string   `json:"id,omitempty"`
	Text      string   `json:"text"`
	PublishAt string   `json:"publish_at,omitempty"`
	Labels    []string `json:"labels"`
}

// folderLayout reads queue/<YYYY-MM-DD>/<post>/post.json plus numbered images
// 01..04 in the post folder. At least one image is required and the first
// label names the slot.
type folderLayout struct {
	opts Options
}

func (l *folderLayout) Name() string { return LayoutFolder }

func (l *folderLayout) Relevant(name string) bool {
	base := filepath.Base(name)
	if hidden(base) || isResultFile(base) {
		return false
	}
	return base == DescriptorName || MediaType(base) != ""
}

func (l *folderLayout) Discover(root string) ([]string, error) {
	days, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var refs []string
	for _, d := range days {
		if !d.IsDir() || hidden(d.Name()) {
			continue
		}
		if _, err := time.Parse(dateLayout, d.Name()); err != nil {
			refs = append(refs, d.Name())
			continue
		}
		posts, err := os.ReadDir(filepath.Join(root, d.Name()))
		if err != nil {
			return nil, err
		}
		for _, p := range posts {
			if p.IsDir() && !hidden(p.Name()) {
				refs = append(refs, d.Name()+"/"+p.Name())
			}
		}
	}
	return refs, nil
}

func (l *folderLayout) Parse(root, ref string) (*Job, error) {
	dateStr, _, ok := strings.Cut(ref, "/")
	loc := l.opts.location()
	day, err := time.ParseInLocation(dateLayout, dateStr, loc)
	if !ok || err != nil {
		return nil, &ParseError{Ref: ref, Err: ErrNotDateFolder}
	}

	dir := refDir(root, ref)
	b, err := os.ReadFile(filepath.Join(dir, DescriptorName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ParseError{Ref: ref, Err: ErrMissingDescriptor}
		}
		return nil, &ParseError{Ref: ref, Err: err}
	}
	var d folderDescriptor
	if err := decodeStrict(b, &d); err != nil {
		return nil, &ParseError{Ref: ref, Err: fmt.Errorf("decode %s: %w", DescriptorName, err)}
	}

	names, err := numberedImages(dir, reFolderImage)
	if err != nil {
		return nil, &ParseError{Ref: ref, Err: err}
	}

	j := &Job{
		Ref:    ref,
		ID:     strings.TrimSpace(d.ID),
		Layout: LayoutFolder,
		Text:   d.Text,
		Labels: d.Labels,
	}
	if j.ID == "" {
		j.ID = path.Base(ref)
	}
	for _, n := range names {
		j.Images = append(j.Images, filepath.Join(dir, n))
	}

	var problems []string
	switch {
	case len(d.Labels) == 0:
		problems = append(problems, "labels array is empty, first label must be slot ("+strings.Join(Slots, "/")+")")
	case !validSlot(d.Labels[0]):
		problems = append(problems, fmt.Sprintf("first label must be one of %s, got %q", strings.Join(Slots, "/"), d.Labels[0]))
	default:
		j.Slot = d.Labels[0]
	}

	raw := strings.TrimSpace(d.PublishAt)
	if raw == "" && j.Slot != "" {
		raw = l.slotTime(j.Slot)
	}
	if raw != "" {
		t, err := ParsePublishAt(raw, day, loc)
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			j.PublishAt = &t
		}
	}

	problems = append(problems, shape{text: d.Text, labels: d.Labels, images: len(names), minImages: 1}.problems()...)
	if len(problems) > 0 {
		return nil, &ValidationError{Ref: ref, Problems: problems}
	}
	if assets := CheckImages(j.Images, l.opts.VerifyContent, filepath.Base); len(assets) > 0 {
		return nil, &AssetError{Ref: ref, Problems: assets}
	}
	return j, nil
}

func (l *folderLayout) slotTime(slot string) string {
	if v := strings.TrimSpace(l.opts.DefaultTimes[slot]); v != "" {
		return v
	}
	return fallbackSlotTime
}
