// Package form models the upload form and its client-side guards. The guards
// are advisory: the server re-validates everything.
package form

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

const (
	MaxVideoSize     int64 = 500 * 1024 * 1024
	MaxScriptSize    int64 = 10 * 1024 * 1024
	MaxScriptTextLen       = 10000
)

// Multipart field names of POST /api/upload.
const (
	FieldVideo      = "video"
	FieldScript     = "script"
	FieldScriptText = "script_text"
)

var (
	ErrVideoRequired     = errors.New("please select a video file")
	ErrVideoTooLarge     = errors.New("video file is too large")
	ErrVideoType         = errors.New("unsupported video file type")
	ErrScriptTooLarge    = errors.New("script file is too large")
	ErrScriptType        = errors.New("unsupported script file type")
	ErrScriptTextTooLong = errors.New("script is too long")
	ErrScriptConflict    = errors.New("provide either script text or a script file, not both")
)

var (
	videoExtensions  = []string{".mp4", ".mov", ".avi", ".mkv"}
	scriptExtensions = []string{".txt", ".md", ".pdf", ".docx"}
)

// Limits are the guard thresholds; zero fields fall back to the defaults.
type Limits struct {
	MaxVideoSize  int64
	MaxScriptSize int64
	MaxScriptText int
}

func (l Limits) withDefaults() Limits {
	if l.MaxVideoSize <= 0 {
		l.MaxVideoSize = MaxVideoSize
	}
	if l.MaxScriptSize <= 0 {
		l.MaxScriptSize = MaxScriptSize
	}
	if l.MaxScriptText <= 0 {
		l.MaxScriptText = MaxScriptTextLen
	}
	return l
}

// Form is one upload submission: a video plus at most one of script text or a
// script file.
type Form struct {
	VideoPath  string
	ScriptPath string
	ScriptText string
}

// HasScriptText reports whether non-blank script text was given.
func (f Form) HasScriptText() bool {
	return strings.TrimSpace(f.ScriptText) != ""
}

// Validate checks the form against the limits without touching the network.
func (f Form) Validate(limits Limits) error {
	limits = limits.withDefaults()

	if f.VideoPath == "" {
		return ErrVideoRequired
	}
	if err := checkFile(f.VideoPath, limits.MaxVideoSize, videoExtensions, "video/", ErrVideoTooLarge, ErrVideoType); err != nil {
		return err
	}

	if f.HasScriptText() && f.ScriptPath != "" {
		return ErrScriptConflict
	}
	if n := utf8.RuneCountInString(f.ScriptText); n > limits.MaxScriptText {
		return fmt.Errorf("%w: maximum length is %d characters, got %d", ErrScriptTextTooLong, limits.MaxScriptText, n)
	}
	if f.ScriptPath != "" {
		if err := checkFile(f.ScriptPath, limits.MaxScriptSize, scriptExtensions, "", ErrScriptTooLarge, ErrScriptType); err != nil {
			return err
		}
	}
	return nil
}

func checkFile(path string, maxSize int64, exts []string, mimePrefix string, errSize, errType error) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", errType, path)
	}
	if info.Size() > maxSize {
		return fmt.Errorf("%w: maximum size is %s", errSize, humanize.IBytes(uint64(maxSize)))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !contains(exts, ext) {
		return fmt.Errorf("%w: %q (accepted: %s)", errType, ext, strings.Join(exts, ", "))
	}

	if mimePrefix == "" || info.Size() == 0 {
		return nil
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", path, err)
	}
	// Containers sniffed as a generic octet stream are left for the server.
	if mt.Is("application/octet-stream") {
		return nil
	}
	if !strings.HasPrefix(mt.String(), mimePrefix) {
		return fmt.Errorf("%w: detected %s", errType, mt.String())
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// VideoAllowed reports whether name has an accepted video extension.
func VideoAllowed(name string) bool {
	return contains(videoExtensions, strings.ToLower(filepath.Ext(name)))
}

// ScriptAllowed reports whether name has an accepted script extension.
func ScriptAllowed(name string) bool {
	return contains(scriptExtensions, strings.ToLower(filepath.Ext(name)))
}
