package transfer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// scriptedPrompter answers conflict prompts from a fixed list and records
// what it was asked.
type scriptedPrompter struct {
	answers []string
	asked   []string
}

func (p *scriptedPrompter) ReplacementName(conflict string) (string, error) {
	p.asked = append(p.asked, conflict)
	if len(p.answers) == 0 {
		return "", io.ErrUnexpectedEOF
	}
	a := p.answers[0]
	p.answers = p.answers[1:]
	return a, nil
}

func newTestSink(t *testing.T, prompter Prompter) *Sink {
	t.Helper()
	s, err := NewSink(t.TempDir(), prompter)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	return s
}

func mustStore(t *testing.T, s *Sink, name, content string) string {
	t.Helper()
	path, n, err := s.Store(name, uint64(len(content)), strings.NewReader(content))
	if err != nil {
		t.Fatalf("Store(%q): %v", name, err)
	}
	if n != int64(len(content)) {
		t.Fatalf("Store(%q) wrote %d bytes, want %d", name, n, len(content))
	}
	return path
}

// --- Name sanitization ---

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"doc.pdf", []string{"doc.pdf"}},
		{"photos/a.jpg", []string{"photos", "a.jpg"}},
		{`photos\b.png`, []string{"photos", "b.png"}},
		{"../../etc/passwd", []string{"etc", "passwd"}},
		{"/etc/passwd", []string{"etc", "passwd"}},
		{`..\..\windows\system32`, []string{"windows", "system32"}},
		{"a/./b", []string{"a", "b"}},
		{"a//b", []string{"a", "b"}},
		{"mixed\\sep/dirs", []string{"mixed", "sep", "dirs"}},
	}
	for _, tt := range tests {
		got, err := SanitizeName(tt.name)
		if err != nil {
			t.Errorf("SanitizeName(%q): %v", tt.name, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SanitizeName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSanitizeName_Rejected(t *testing.T) {
	for _, name := range []string{"", ".", "..", "///", `\\`, "./..", "../.."} {
		if _, err := SanitizeName(name); !errors.Is(err, ErrUnsafeName) {
			t.Errorf("SanitizeName(%q) = %v, want ErrUnsafeName", name, err)
		}
	}
}

// --- Plain stores ---

func TestSink_StoreFile(t *testing.T) {
	s := newTestSink(t, nil)
	path := mustStore(t, s, "doc.pdf", "pdf bytes")

	if filepath.Dir(path) != s.Root() {
		t.Errorf("file stored at %q, want directly under %q", path, s.Root())
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "pdf bytes" {
		t.Errorf("content = %q, want %q", got, "pdf bytes")
	}
}

func TestSink_StoreNested(t *testing.T) {
	s := newTestSink(t, nil)
	path := mustStore(t, s, "photos/nested/b.png", "png")

	want := filepath.Join(s.Root(), "photos", "nested", "b.png")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("stored file missing: %v", err)
	}
}

func TestSink_StoreTraversalName(t *testing.T) {
	s := newTestSink(t, nil)
	path := mustStore(t, s, "../../escape.txt", "contained")

	if !strings.HasPrefix(path, s.Root()+string(filepath.Separator)) {
		t.Fatalf("path %q escaped root %q", path, s.Root())
	}
	if filepath.Base(path) != "escape.txt" {
		t.Errorf("base = %q, want escape.txt", filepath.Base(path))
	}
}

// --- File conflicts ---

func TestSink_FileConflictPrompts(t *testing.T) {
	p := &scriptedPrompter{answers: []string{"doc-2.pdf"}}
	s := newTestSink(t, p)
	mustStore(t, s, "doc.pdf", "first")

	path := mustStore(t, s, "doc.pdf", "second")
	if filepath.Base(path) != "doc-2.pdf" {
		t.Errorf("replacement path = %q, want doc-2.pdf", path)
	}
	if !reflect.DeepEqual(p.asked, []string{"doc.pdf"}) {
		t.Errorf("prompted for %v, want [doc.pdf]", p.asked)
	}

	// Original file untouched.
	got, _ := os.ReadFile(filepath.Join(s.Root(), "doc.pdf"))
	if string(got) != "first" {
		t.Errorf("original overwritten: %q", got)
	}
}

func TestSink_FileConflictDeclinedAborts(t *testing.T) {
	p := &scriptedPrompter{answers: []string{""}}
	s := newTestSink(t, p)
	mustStore(t, s, "doc.pdf", "first")

	_, _, err := s.Store("doc.pdf", 6, strings.NewReader("second"))
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("Store = %v, want ErrDeclined", err)
	}
}

func TestSink_FileConflictRetriesBadAnswers(t *testing.T) {
	p := &scriptedPrompter{answers: []string{"..", "doc.pdf", "fresh.txt"}}
	s := newTestSink(t, p)
	mustStore(t, s, "doc.pdf", "first")

	// ".." does not sanitize, "doc.pdf" still exists, "fresh.txt" works.
	path := mustStore(t, s, "doc.pdf", "second")
	if filepath.Base(path) != "fresh.txt" {
		t.Errorf("replacement = %q, want fresh.txt", path)
	}
	if len(p.asked) != 3 {
		t.Errorf("prompt count = %d, want 3", len(p.asked))
	}
}

func TestSink_NoPrompterDeclines(t *testing.T) {
	s := newTestSink(t, nil)
	mustStore(t, s, "doc.pdf", "first")

	_, _, err := s.Store("doc.pdf", 6, strings.NewReader("second"))
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("Store without prompter = %v, want ErrDeclined", err)
	}
}

// --- Directory conflicts ---

func TestSink_DirConflictRenameIsReused(t *testing.T) {
	p := &scriptedPrompter{answers: []string{"photos-2"}}
	s := newTestSink(t, p)
	if err := os.Mkdir(filepath.Join(s.Root(), "photos"), 0o755); err != nil {
		t.Fatal(err)
	}

	first := mustStore(t, s, "photos/a.jpg", "a")
	second := mustStore(t, s, "photos/nested/b.png", "b")

	if want := filepath.Join(s.Root(), "photos-2", "a.jpg"); first != want {
		t.Errorf("first = %q, want %q", first, want)
	}
	if want := filepath.Join(s.Root(), "photos-2", "nested", "b.png"); second != want {
		t.Errorf("second = %q, want %q", second, want)
	}
	if !reflect.DeepEqual(p.asked, []string{"photos"}) {
		t.Errorf("prompted for %v, want exactly one prompt for photos", p.asked)
	}
}

func TestSink_DirConflictRejectsUnsafeAnswers(t *testing.T) {
	p := &scriptedPrompter{answers: []string{"a/b", "..", "photos", "backup"}}
	s := newTestSink(t, p)
	if err := os.Mkdir(filepath.Join(s.Root(), "photos"), 0o755); err != nil {
		t.Fatal(err)
	}

	// "a/b" has a separator, ".." is not a plain name, "photos" exists.
	path := mustStore(t, s, "photos/a.jpg", "a")
	if want := filepath.Join(s.Root(), "backup", "a.jpg"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	if len(p.asked) != 4 {
		t.Errorf("prompt count = %d, want 4", len(p.asked))
	}
}

func TestSink_DirConflictDeclinedAborts(t *testing.T) {
	p := &scriptedPrompter{answers: []string{""}}
	s := newTestSink(t, p)
	if err := os.Mkdir(filepath.Join(s.Root(), "photos"), 0o755); err != nil {
		t.Fatal(err)
	}

	_, _, err := s.Store("photos/a.jpg", 1, strings.NewReader("a"))
	if !errors.Is(err, ErrDeclined) {
		t.Fatalf("Store = %v, want ErrDeclined", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "photos", "a.jpg")); !os.IsNotExist(err) {
		t.Error("file written despite declined prompt")
	}
}

// --- Size caps ---

func TestSink_DeclaredSizeOverCap(t *testing.T) {
	s := newTestSink(t, nil)
	s.maxBytes = 100

	_, _, err := s.Store("big.bin", 101, strings.NewReader("irrelevant"))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Store = %v, want ErrFileTooLarge", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "big.bin")); !os.IsNotExist(err) {
		t.Error("file created despite declared size over the cap")
	}
}

func TestSink_MidStreamOverCapDeletesPartial(t *testing.T) {
	s := newTestSink(t, nil)
	s.maxBytes = 100

	// Declared size lies below the cap; the stream does not.
	body := strings.NewReader(strings.Repeat("x", 200))
	_, _, err := s.Store("liar.bin", 50, body)
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("Store = %v, want ErrFileTooLarge", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "liar.bin")); !os.IsNotExist(err) {
		t.Error("partial file left behind after overflow")
	}
}

func TestSink_ReadErrorDeletesPartial(t *testing.T) {
	s := newTestSink(t, nil)

	body := io.MultiReader(strings.NewReader("partial"), failingReader{})
	_, _, err := s.Store("broken.bin", 100, body)
	if err == nil {
		t.Fatal("Store succeeded on a failing reader")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "broken.bin")); !os.IsNotExist(err) {
		t.Error("partial file left behind after read error")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("stream cut") }

// --- Root canonicalization ---

func TestSink_SymlinkedRootResolved(t *testing.T) {
	base := t.TempDir()
	real := filepath.Join(base, "real")
	if err := os.Mkdir(real, 0o755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(base, "link")
	if err := os.Symlink(real, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	s, err := NewSink(link, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	canonReal, err := filepath.EvalSymlinks(real)
	if err != nil {
		t.Fatal(err)
	}
	if s.Root() != canonReal {
		t.Errorf("Root = %q, want canonical %q", s.Root(), canonReal)
	}

	path := mustStore(t, s, "f.txt", "x")
	if filepath.Dir(path) != canonReal {
		t.Errorf("stored at %q, want inside %q", path, canonReal)
	}
}
