package transfer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Prompter asks the user for a replacement name when a target path would
// collide with something already in the destination. An empty answer
// declines, which aborts the transfer.
type Prompter interface {
	ReplacementName(conflict string) (string, error)
}

// ioPrompter reads replacement names from an interactive stream.
type ioPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewIOPrompter returns a Prompter that writes its question to out and
// reads one line from in.
func NewIOPrompter(in io.Reader, out io.Writer) Prompter {
	return &ioPrompter{in: bufio.NewReader(in), out: out}
}

func (p *ioPrompter) ReplacementName(conflict string) (string, error) {
	fmt.Fprintf(p.out, "%q already exists. New name (empty cancels): ", conflict)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// SanitizeName reduces a sender-supplied file name to safe relative path
// components. Both slash styles count as separators; empty, "." and ".."
// components are dropped, which also strips any absolute prefix. The name
// is rejected when nothing remains.
func SanitizeName(name string) ([]string, error) {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == '/' || r == '\\'
	})
	comps := fields[:0]
	for _, f := range fields {
		if f == "." || f == ".." {
			continue
		}
		comps = append(comps, f)
	}
	if len(comps) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return comps, nil
}

// Sink writes incoming files below a destination directory. Its guarantee
// is that no byte ever lands outside the canonical destination root: every
// sender-supplied name passes sanitization, conflict resolution and a
// containment check before the first byte is written, and the per-file
// size cap is enforced both up front and while streaming.
type Sink struct {
	root     string
	prompter Prompter

	// renames maps an offered top-level directory to the name chosen at
	// its first conflict, so every file of that directory lands in the
	// same place without re-prompting.
	renames map[string]string

	// maxBytes is the per-file cap, lowered in tests.
	maxBytes int64
}

// NewSink creates the destination directory if needed and resolves it to
// its canonical path.
func NewSink(dest string, prompter Prompter) (*Sink, error) {
	abs, err := filepath.Abs(dest)
	if err != nil {
		return nil, fmt.Errorf("transfer: resolve destination: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("transfer: create destination: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("transfer: canonicalize destination: %w", err)
	}
	return &Sink{
		root:     canon,
		prompter: prompter,
		renames:  make(map[string]string),
		maxBytes: maxFileSize,
	}, nil
}

// Root returns the canonical destination directory.
func (s *Sink) Root() string { return s.root }

// Resolve derives the on-disk target path for a sender-supplied name,
// prompting on conflicts. The returned path is absolute and contained in
// the destination root.
func (s *Sink) Resolve(name string) (string, error) {
	comps, err := SanitizeName(name)
	if err != nil {
		return "", err
	}

	if len(comps) == 1 {
		comps, err = s.resolveFileConflict(comps)
	} else {
		comps, err = s.resolveDirConflict(comps)
	}
	if err != nil {
		return "", err
	}

	target := filepath.Join(s.root, filepath.Join(comps...))
	if target != s.root && !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, name)
	}
	return target, nil
}

// resolveFileConflict handles a single-component name colliding with an
// existing file: the user picks a replacement that must sanitize cleanly
// and must not exist yet.
func (s *Sink) resolveFileConflict(comps []string) ([]string, error) {
	name := comps[0]
	if !s.exists(name) {
		return comps, nil
	}
	for {
		answer, err := s.prompt(name)
		if err != nil {
			return nil, err
		}
		replacement, err := SanitizeName(answer)
		if err != nil {
			continue
		}
		if s.exists(filepath.Join(replacement...)) {
			continue
		}
		return replacement, nil
	}
}

// resolveDirConflict handles a nested name whose top-level directory
// already exists. The chosen replacement must be a plain single component
// and is recorded so later files of the same directory follow it silently.
func (s *Sink) resolveDirConflict(comps []string) ([]string, error) {
	orig := comps[0]
	if chosen, ok := s.renames[orig]; ok {
		comps[0] = chosen
		return comps, nil
	}
	if !s.exists(orig) {
		return comps, nil
	}
	for {
		answer, err := s.prompt(orig)
		if err != nil {
			return nil, err
		}
		if strings.ContainsAny(answer, `/\`) || answer == "." || answer == ".." {
			continue
		}
		if s.exists(answer) {
			continue
		}
		s.renames[orig] = answer
		comps[0] = answer
		return comps, nil
	}
}

func (s *Sink) prompt(conflict string) (string, error) {
	if s.prompter == nil {
		return "", fmt.Errorf("%w: %q exists and no prompt is available", ErrDeclined, conflict)
	}
	answer, err := s.prompter.ReplacementName(conflict)
	if err != nil {
		return "", fmt.Errorf("transfer: conflict prompt: %w", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("%w: kept existing %q", ErrDeclined, conflict)
	}
	return answer, nil
}

func (s *Sink) exists(rel string) bool {
	_, err := os.Lstat(filepath.Join(s.root, rel))
	return err == nil
}

// Store resolves the target path and streams body into it. The declared
// size is checked up front and the actual byte count while copying; on
// overflow or any write error the partial file is removed. It returns the
// written path and byte count.
func (s *Sink) Store(name string, size uint64, body io.Reader) (string, int64, error) {
	target, err := s.Resolve(name)
	if err != nil {
		return "", 0, err
	}
	if size > uint64(s.maxBytes) {
		return "", 0, fmt.Errorf("%w: %s declares %d bytes", ErrFileTooLarge, name, size)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", 0, fmt.Errorf("transfer: create directories: %w", err)
	}
	f, err := os.Create(target)
	if err != nil {
		return "", 0, fmt.Errorf("transfer: create file: %w", err)
	}

	written, err := copyCapped(f, body, s.maxBytes)
	if err != nil {
		f.Close()
		os.Remove(target)
		return "", 0, err
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return "", 0, fmt.Errorf("transfer: close file: %w", err)
	}
	return target, written, nil
}

// copyCapped copies src to dst, failing once the running total passes the
// cap.
func copyCapped(dst io.Writer, src io.Reader, limit int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return written, fmt.Errorf("transfer: write: %w", werr)
			}
			written += int64(n)
			if written > limit {
				return written, fmt.Errorf("%w: stream passed %d bytes", ErrFileTooLarge, limit)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("transfer: read: %w", rerr)
		}
	}
}
