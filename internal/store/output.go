package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tira-io/tirad/internal/model"
)

// Moderator notices that replace or frame redacted output.
const (
	NoticeHidden  = "Note: The output can only be viewed by task moderators."
	NoticePartial = "Note: The complete output can only be viewed by task moderators."

	partialLead = "[...] "
)

// Hidden replaces runtime and size figures of confidential runs.
const Hidden = "hidden"

const (
	gnuTimeElapsedSuffix = "elapsed"
	bashTimeReal         = "real"
	runtimeLayout        = "%02d:%02d:%02d"
)

// Runtime is the parsed contents of runtime.txt.
type Runtime struct {
	Display string
	Details string
}

// Size is the parsed contents of size.txt. Lines, Files and Directories
// are empty for the short two-field form.
type Size struct {
	Bytes       string
	Human       string
	Lines       string
	Files       string
	Directories string
}

// ReadOutput returns the tail of one of the run's output files (stdout,
// stderr, file list). With redact set the tail is limited to redactBytes
// and framed by moderator notices; otherwise Config.OutputTailBytes
// applies. ok is false when the file does not exist.
func (s *RunStore) ReadOutput(key model.RunKey, name string, redact bool, redactBytes int64) (text string, ok bool, err error) {
	dir, err := s.runDir(key)
	if err != nil {
		return "", false, err
	}
	path := filepath.Join(dir, name)
	limit := s.cfg.OutputTailBytes
	if redact {
		limit = redactBytes
	}

	tail, full, err := readTail(path, limit)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if redact {
		tail = RedactOutput(tail, full)
	}
	return tail, true, nil
}

// ReadRuntime parses runtime.txt of the run. ok is false when the file
// does not exist.
func (s *RunStore) ReadRuntime(key model.RunKey) (Runtime, bool, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return Runtime{}, false, err
	}
	text, err := s.readText(filepath.Join(dir, FileRuntime))
	if errors.Is(err, model.ErrNotFound) {
		return Runtime{}, false, nil
	}
	if err != nil {
		return Runtime{}, false, err
	}
	return Runtime{Display: ParseRuntime(text), Details: text}, true, nil
}

// ReadSize parses size.txt of the run. ok is false when the file does not
// exist or has an unexpected number of fields.
func (s *RunStore) ReadSize(key model.RunKey) (Size, bool, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return Size{}, false, err
	}
	text, err := s.readText(filepath.Join(dir, FileSize))
	if errors.Is(err, model.ErrNotFound) {
		return Size{}, false, nil
	}
	if err != nil {
		return Size{}, false, err
	}
	size, ok := ParseSize(text)
	return size, ok, nil
}

// RedactOutput frames a truncated tail with moderator notices. An empty
// tail is replaced by the hidden notice; a complete one is returned as is.
func RedactOutput(tail string, fullSize int64) string {
	switch {
	case tail == "":
		return NoticeHidden
	case fullSize > int64(len(tail)):
		return partialLead + tail + "\n\n" + NoticePartial
	default:
		return tail
	}
}

// ParseRuntime extracts "HH:MM:SS" from GNU time output
// ("... 0:01.23elapsed ...") or from bash time output ("real 1m02.003s").
// Unrecognised input yields "".
func ParseRuntime(details string) string {
	fields := strings.Fields(details)
	for i, f := range fields {
		switch {
		case f == bashTimeReal:
			if i+1 < len(fields) {
				return parseBashReal(fields[i+1])
			}
			return ""
		case strings.HasSuffix(f, gnuTimeElapsedSuffix):
			return parseGNUElapsed(f)
		}
	}
	return ""
}

// parseGNUElapsed pads "M:SS.ssElapsed" or "H:MM:SSelapsed" to HH:MM:SS.
func parseGNUElapsed(f string) string {
	if strings.IndexByte(f, ':') == 1 {
		f = "0" + f
	}
	if strings.Count(f, ":") == 1 {
		f = "00:" + f
	}
	end := strings.IndexByte(f, '.')
	if end < 0 {
		end = strings.IndexByte(f, 'e')
	}
	return f[:end]
}

// parseBashReal converts "NmSS.sss" to HH:MM:SS.
func parseBashReal(f string) string {
	if dot := strings.IndexByte(f, '.'); dot >= 0 {
		f = f[:dot]
	}
	m, s, ok := strings.Cut(f, "m")
	if !ok {
		return ""
	}
	minutes, err := strconv.Atoi(m)
	if err != nil {
		return ""
	}
	seconds, err := strconv.Atoi(strings.TrimSuffix(s, "s"))
	if err != nil {
		return ""
	}
	return fmt.Sprintf(runtimeLayout, minutes/60, minutes%60, seconds)
}

// ParseSize splits size.txt into its two or five fields.
func ParseSize(text string) (Size, bool) {
	fields := strings.Split(text, "\n")
	for len(fields) > 0 && fields[len(fields)-1] == "" {
		fields = fields[:len(fields)-1]
	}
	switch len(fields) {
	case 2:
		return Size{Bytes: fields[0], Human: fields[1]}, true
	case 5:
		return Size{
			Bytes:       fields[0],
			Human:       fields[1],
			Lines:       fields[2],
			Files:       fields[3],
			Directories: fields[4],
		}, true
	default:
		return Size{}, false
	}
}

// readTail returns at most maxBytes from the end of path together with the
// file's full size.
func readTail(path string, maxBytes int64) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if maxBytes <= 0 {
		return "", size, nil
	}
	if size > maxBytes {
		if _, err := f.Seek(size-maxBytes, io.SeekStart); err != nil {
			return "", size, fmt.Errorf("seek %s: %w", path, err)
		}
	}
	b, err := io.ReadAll(io.LimitReader(f, maxBytes))
	if err != nil {
		return "", size, fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), size, nil
}
