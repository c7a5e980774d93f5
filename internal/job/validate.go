package job

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	_ "golang.org/x/image/webp"
)

// mediaTypes is the upload allow-list keyed by lowercase extension.
var mediaTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// decodedFormats maps a media type to the image.DecodeConfig format name.
var decodedFormats = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

// MediaType returns the upload media type for path, or "" when the
// extension is not allowed.
func MediaType(path string) string {
	return mediaTypes[strings.ToLower(filepath.Ext(path))]
}

// shape carries the decoded fields every layout validates the same way.
type shape struct {
	text      string
	labels    []string
	images    int
	minImages int
}

func (s shape) problems() []string {
	var out []string
	if n := utf8.RuneCountInString(s.text); n > MaxTextLength {
		out = append(out, fmt.Sprintf("text exceeds %d characters (got %d)", MaxTextLength, n))
	}
	for i, l := range s.labels {
		if strings.TrimSpace(l) == "" {
			out = append(out, fmt.Sprintf("labels[%d] is empty", i))
		}
	}
	if s.images > MaxImages {
		out = append(out, fmt.Sprintf("more than %d images found (got %d)", MaxImages, s.images))
	}
	if s.images < s.minImages {
		out = append(out, fmt.Sprintf("at least %d image(s) required (got %d)", s.minImages, s.images))
	}
	return out
}

func validSlot(label string) bool { return slices.Contains(Slots, label) }

// CheckImages verifies every image and collects all failures.
// display maps an absolute path back to the name shown in messages.
func CheckImages(paths []string, verifyContent bool, display func(string) string) []string {
	if display == nil {
		display = filepath.Base
	}
	var out []string
	for _, p := range paths {
		if err := checkImage(p, verifyContent); err != nil {
			out = append(out, display(p)+": "+err.Error())
		}
	}
	return out
}

func checkImage(path string, verifyContent bool) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file not found")
		}
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("not a file")
	}
	if fi.Size() > MaxImageBytes {
		return fmt.Errorf("file size %d exceeds %d bytes", fi.Size(), MaxImageBytes)
	}
	mt := MediaType(path)
	if mt == "" {
		return fmt.Errorf("unsupported media type %q", filepath.Ext(path))
	}
	if !verifyContent {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return fmt.Errorf("unreadable %s image: %v", mt, err)
	}
	if want := decodedFormats[mt]; format != want {
		return fmt.Errorf("content is %s but extension says %s", format, want)
	}
	return nil
}
