package session

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// SymbolTable maps acoustic-model label IDs to their word-piece strings
// and back, loaded from the --dict_path file: one "<piece> <id>" pair per
// line, the WeNet units.txt convention.
type SymbolTable struct {
	idToWord map[int]string
	wordToID map[string]int

	bpe *tokenizer.Tokenizer
}

// LoadSymbolTable reads a dict file at path.
func LoadSymbolTable(path string) (*SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open dict %q: %w", path, err)
	}
	defer f.Close()

	t := &SymbolTable{idToWord: map[int]string{}, wordToID: map[string]int{}}
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return nil, fmt.Errorf("session: dict %q line %d: expected \"<piece> <id>\", got %q", path, line, scanner.Text())
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("session: dict %q line %d: bad id %q: %w", path, line, fields[1], err)
		}
		t.idToWord[id] = fields[0]
		t.wordToID[fields[0]] = id
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: read dict %q: %w", path, err)
	}
	return t, nil
}

// Word returns the piece for id, or "" if id is unknown.
func (t *SymbolTable) Word(id int) string {
	return t.idToWord[id]
}

// ID returns the id for piece and whether it was found.
func (t *SymbolTable) ID(piece string) (int, bool) {
	id, ok := t.wordToID[piece]
	return id, ok
}

// wordBoundary is the WeNet BPE convention marking the start of a new word
// within a word-piece sequence.
const wordBoundary = "▁"

// Sentence joins a sequence of word pieces into a display string: a
// boundary marker starts a new word (rendered as a preceding space); any
// other piece is a sub-word continuation appended directly.
func (t *SymbolTable) Sentence(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		piece := t.Word(id)
		if strings.HasPrefix(piece, wordBoundary) {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strings.TrimPrefix(piece, wordBoundary))
		} else {
			b.WriteString(piece)
		}
	}
	return strings.TrimSpace(b.String())
}

// LoadBPETokenizer attaches a HuggingFace tokenizer.json-format subword
// tokenizer to t, used by TokenizePhrase to split context-biasing words
// that have no whole-word entry in the dict into the model's own subword
// pieces, the same way the acoustic model's training vocabulary would.
// Optional: TokenizePhrase works dict-only without it, just less able to
// bias on out-of-vocabulary words.
func (t *SymbolTable) LoadBPETokenizer(path string) error {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return fmt.Errorf("session: load bpe tokenizer %q: %w", path, err)
	}
	t.bpe = tk
	return nil
}

// TokenizePhrase splits a whitespace-separated context-biasing phrase
// (spec.md §4.3/§6 context_path) into the acoustic model's label IDs,
// matching each word against the dict's word-boundary-marked pieces. A
// word with no whole-word entry falls back to the attached BPE tokenizer
// (if any), splitting it into subword pieces and looking each up in turn.
// Returns false if any word still can't be fully resolved.
func (t *SymbolTable) TokenizePhrase(phrase string) ([]int, bool) {
	words := strings.Fields(phrase)
	ids := make([]int, 0, len(words))
	for _, w := range words {
		wordIDs, ok := t.tokenizeWord(w)
		if !ok {
			return nil, false
		}
		ids = append(ids, wordIDs...)
	}
	return ids, true
}

// tokenizeWord resolves one phrase word to one or more label IDs: a direct
// whole-word dict lookup first, then a BPE fallback split.
func (t *SymbolTable) tokenizeWord(w string) ([]int, bool) {
	if id, ok := t.ID(wordBoundary + w); ok {
		return []int{id}, true
	}
	if id, ok := t.ID(w); ok {
		return []int{id}, true
	}
	if t.bpe == nil {
		return nil, false
	}

	encoding, err := t.bpe.EncodeSingle(w, false)
	if err != nil {
		return nil, false
	}
	pieces := encoding.GetTokens()
	ids := make([]int, 0, len(pieces))
	for _, piece := range pieces {
		id, ok := t.ID(piece)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
