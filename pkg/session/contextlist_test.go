package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/matryer/is"
)

func writeTempFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadContextPhrases_BuildsGraphFromTokenizableLines(t *testing.T) {
	is := is.New(t)
	dictPath := writeTempFile(t, "units.txt", "<blank> 0\n▁HELLO 1\n▁WORLD 2\n")
	table, err := LoadSymbolTable(dictPath)
	is.NoErr(err)

	contextPath := writeTempFile(t, "context.txt", "HELLO WORLD\n")
	graph, err := LoadContextPhrases(contextPath, table, 3.0)
	is.NoErr(err)
	is.True(!graph.Empty())
}

func TestLoadContextPhrases_SkipsUntokenizableLines(t *testing.T) {
	is := is.New(t)
	dictPath := writeTempFile(t, "units.txt", "<blank> 0\n▁HELLO 1\n")
	table, err := LoadSymbolTable(dictPath)
	is.NoErr(err)

	// "NOWHERE" has no dict entry, so its line is skipped, not fatal; the
	// graph still compiles from whatever phrases do tokenize.
	contextPath := writeTempFile(t, "context.txt", "NOWHERE\nHELLO\n")
	graph, err := LoadContextPhrases(contextPath, table, 3.0)
	is.NoErr(err)
	is.True(!graph.Empty())
}

func TestLoadContextPhrases_EmptyFileYieldsEmptyGraph(t *testing.T) {
	is := is.New(t)
	dictPath := writeTempFile(t, "units.txt", "<blank> 0\n")
	table, err := LoadSymbolTable(dictPath)
	is.NoErr(err)

	contextPath := writeTempFile(t, "context.txt", "")
	graph, err := LoadContextPhrases(contextPath, table, 3.0)
	is.NoErr(err)
	is.True(graph.Empty())
}
