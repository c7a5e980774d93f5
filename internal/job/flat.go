package job

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// flatDescriptor is one queue/*.json file.
type flatDescriptor struct {
	ID         string   `json:"id,omitempty"`
	Text       string   `json:"text"`
	PublishAt  string   `json:"publish_at,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	ImagePaths []string `json:"image_paths,omitempty"`
}

// flatLayout reads one JSON file per job directly under queue/. Images are
// listed in image_paths or discovered as <stem>.NN.<ext> next to the file.
// Text-only jobs are allowed.
type flatLayout struct {
	opts Options
}

func (l *flatLayout) Name() string { return LayoutFlat }

func (l *flatLayout) Relevant(name string) bool {
	base := filepath.Base(name)
	if hidden(base) || isResultFile(base) {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json") || MediaType(base) != ""
}

func (l *flatLayout) Discover(root string) ([]string, error) {
	ents, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var refs []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || hidden(n) || isResultFile(n) || !strings.EqualFold(filepath.Ext(n), ".json") {
			continue
		}
		refs = append(refs, n)
	}
	return refs, nil
}

func (l *flatLayout) Parse(root, ref string) (*Job, error) {
	file := refDir(root, ref)
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, &ParseError{Ref: ref, Err: err}
	}
	var d flatDescriptor
	if err := decodeStrict(b, &d); err != nil {
		return nil, &ParseError{Ref: ref, Err: fmt.Errorf("decode: %w", err)}
	}

	dir := filepath.Dir(file)
	stem := strings.TrimSuffix(path.Base(ref), path.Ext(ref))

	j := &Job{
		Ref:    ref,
		ID:     strings.TrimSpace(d.ID),
		Layout: LayoutFlat,
		Text:   d.Text,
		Labels: d.Labels,
	}
	if j.ID == "" {
		j.ID = stem
	}
	if len(d.Labels) > 0 {
		j.Slot = d.Labels[0]
	}

	var problems []string
	if d.ImagePaths != nil {
		for _, p := range d.ImagePaths {
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, filepath.FromSlash(p))
			}
			j.Images = append(j.Images, filepath.Clean(p))
		}
	} else {
		re := regexp.MustCompile(`^` + regexp.QuoteMeta(stem) + `\.\d{2}\.[^.]+$`)
		names, err := numberedImages(dir, re)
		if err != nil {
			return nil, &ParseError{Ref: ref, Err: err}
		}
		for _, n := range names {
			abs := filepath.Join(dir, n)
			j.Images = append(j.Images, abs)
			j.Extra = append(j.Extra, toSlash(root, abs))
		}
	}

	if strings.TrimSpace(d.PublishAt) != "" {
		t, err := ParseFlatPublishAt(d.PublishAt, l.opts.now(), l.opts.location())
		if err != nil {
			problems = append(problems, err.Error())
		} else {
			j.PublishAt = &t
		}
	}
	problems = append(problems, shape{text: d.Text, labels: d.Labels, images: len(j.Images)}.problems()...)
	if len(problems) > 0 {
		return nil, &ValidationError{Ref: ref, Problems: problems}
	}

	if assets := CheckImages(j.Images, l.opts.VerifyContent, func(p string) string { return toSlash(dir, p) }); len(assets) > 0 {
		return nil, &AssetError{Ref: ref, Problems: assets}
	}
	return j, nil
}
