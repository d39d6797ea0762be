package session

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/wenet-go/wenet-go/pkg/contextgraph"
)

// LoadContextPhrases reads one contextual-biasing phrase per line from
// path (spec.md §6's --context_path), tokenizes each against table, and
// builds a contextgraph.Graph with the given per-phrase score. Lines that
// don't tokenize against the dict are skipped, not fatal, since a
// hot-word list curated by an operator may legitimately contain entries
// the current model's vocabulary doesn't cover.
func LoadContextPhrases(path string, table *SymbolTable, score float64) (*contextgraph.Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("session: open context list %q: %w", path, err)
	}
	defer f.Close()

	var specs []contextgraph.PhraseSpec
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		phrase := strings.TrimSpace(scanner.Text())
		if phrase == "" {
			continue
		}
		ids, ok := table.TokenizePhrase(phrase)
		if !ok || len(ids) == 0 {
			continue
		}
		specs = append(specs, contextgraph.PhraseSpec{Tokens: ids, Score: score})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: read context list %q: %w", path, err)
	}

	return contextgraph.Build(specs, score), nil
}
