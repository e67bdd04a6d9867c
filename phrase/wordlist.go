package phrase

import (
	"bufio"
	_ "embed"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WordListDirEnv names the environment variable that points at a directory
// containing replacement word lists (adjectives.txt and nouns.txt, one word
// per line, '#' starts a comment). When unset, or when either file is
// missing or yields no usable words, the compiled-in lists are used.
const WordListDirEnv = "LOCALSEND_WORDLIST_DIR"

//go:embed adjectives.txt
var embeddedAdjectives string

//go:embed nouns.txt
var embeddedNouns string

var (
	wordListOnce sync.Once
	adjectives   []string
	nouns        []string
)

// loadWordLists resolves the adjective and noun lists exactly once per
// process. The lists are immutable after loading.
func loadWordLists() ([]string, []string) {
	wordListOnce.Do(func() {
		adjectives, nouns = resolveWordLists(os.Getenv(WordListDirEnv))
	})
	return adjectives, nouns
}

// resolveWordLists builds the final lists: embedded defaults, individually
// overridden by adjectives.txt / nouns.txt found under dir. An unreadable
// or empty override file leaves the embedded list in place.
func resolveWordLists(dir string) (adj, noun []string) {
	adj = parseWordList(embeddedAdjectives)
	noun = parseWordList(embeddedNouns)
	if dir == "" {
		return adj, noun
	}
	if ext := readWordFile(filepath.Join(dir, "adjectives.txt")); len(ext) > 0 {
		adj = ext
	}
	if ext := readWordFile(filepath.Join(dir, "nouns.txt")); len(ext) > 0 {
		noun = ext
	}
	return adj, noun
}

// readWordFile reads one external word list. Any failure returns nil so the
// caller falls back to the embedded list.
func readWordFile(path string) []string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return parseWordList(string(data))
}

// parseWordList extracts usable words from raw list content: one word per
// line, lowercased, '#' comments and blank lines skipped, words containing
// non-ASCII-letter characters dropped.
func parseWordList(raw string) []string {
	var words []string
	sc := bufio.NewScanner(strings.NewReader(raw))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		word := strings.ToLower(line)
		if !asciiLetters(word) {
			continue
		}
		words = append(words, word)
	}
	return words
}

func asciiLetters(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return len(s) > 0
}
