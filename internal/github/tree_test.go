// internal/github/tree_test.go
package github

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateFileTree(t *testing.T) {
	paths := []string{
		"main.go",
		"internal/api/handler.go",
		"internal/api/respond.go",
		"internal/config/config.go",
		"README.md",
	}

	got := GenerateFileTree(paths)

	want := strings.Join([]string{
		".",
		"├── internal",
		"│   ├── api",
		"│   │   ├── handler.go",
		"│   │   └── respond.go",
		"│   └── config",
		"│       └── config.go",
		"├── README.md",
		"└── main.go",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestGenerateFileTree_Empty(t *testing.T) {
	assert.Equal(t, ".", GenerateFileTree(nil))
}

func TestGenerateFileTree_Deterministic(t *testing.T) {
	paths := []string{"b/x.go", "a/y.go", "c.go"}
	first := GenerateFileTree(paths)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, GenerateFileTree(paths))
	}
}

func TestGenerateMermaidDiagram(t *testing.T) {
	paths := []string{
		"main.go",
		"internal/api/handler.go",
		"internal/config/config.go",
		"docs/guide.md",
	}

	got := GenerateMermaidDiagram(paths)

	assert.True(t, strings.HasPrefix(got, "graph TD"))
	assert.Contains(t, got, `root["/ (1 files)"]`)
	assert.Contains(t, got, `d_docs["docs (1 files)"]`)
	assert.Contains(t, got, `d_internal_api["api (1 files)"]`)
	assert.Contains(t, got, "root --> d_internal")
	assert.Contains(t, got, "d_internal --> d_internal_api")
	assert.Contains(t, got, "root --> d_docs")
}

func TestGenerateMermaidDiagram_TruncatesDirectories(t *testing.T) {
	var paths []string
	for i := 0; i < 40; i++ {
		paths = append(paths, fmt.Sprintf("pkg%02d/file.go", i))
	}

	got := GenerateMermaidDiagram(paths)

	// Sorted truncation keeps parents ahead of children, so every edge target
	// still has a node line.
	edges := 0
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "-->") {
			edges++
		}
	}
	assert.Equal(t, maxDiagramDirs, edges)
	assert.Contains(t, got, "d_pkg00")
	assert.NotContains(t, got, "d_pkg25")
}
