// internal/github/tree.go
package github

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// maxDiagramDirs caps how many directories the mermaid diagram renders so the
// output stays readable for large repositories.
const maxDiagramDirs = 20

type treeNode struct {
	name     string
	children map[string]*treeNode
	isFile   bool
}

func buildTree(paths []string) *treeNode {
	root := &treeNode{children: map[string]*treeNode{}}
	for _, p := range paths {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		node := root
		for i, part := range parts {
			if part == "" {
				continue
			}
			child, ok := node.children[part]
			if !ok {
				child = &treeNode{name: part, children: map[string]*treeNode{}}
				node.children[part] = child
			}
			if i == len(parts)-1 {
				child.isFile = true
			}
			node = child
		}
	}
	return root
}

// sortedChildren returns directories first, then files, each alphabetical, so
// the rendering is deterministic for a given path set.
func sortedChildren(n *treeNode) []*treeNode {
	out := make([]*treeNode, 0, len(n.children))
	for _, c := range n.children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].isFile != out[j].isFile {
			return !out[i].isFile
		}
		return out[i].name < out[j].name
	})
	return out
}

// GenerateFileTree renders an ASCII tree of the given file paths.
func GenerateFileTree(paths []string) string {
	var b strings.Builder
	b.WriteString(".\n")
	renderTree(&b, buildTree(paths), "")
	return strings.TrimRight(b.String(), "\n")
}

func renderTree(b *strings.Builder, node *treeNode, prefix string) {
	children := sortedChildren(node)
	for i, child := range children {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(children)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		b.WriteString(prefix + connector + child.name + "\n")
		if !child.isFile {
			renderTree(b, child, childPrefix)
		}
	}
}

// GenerateMermaidDiagram renders a directory-dependency diagram from the file
// paths: root → top-level dirs → nested dirs, annotated with file counts.
// At most maxDiagramDirs directories are drawn.
func GenerateMermaidDiagram(paths []string) string {
	fileCounts := map[string]int{}
	var dirs []string
	seen := map[string]bool{}

	for _, p := range paths {
		dir := path.Dir(strings.Trim(p, "/"))
		if dir == "." {
			fileCounts["."]++
			continue
		}
		fileCounts[dir]++
		// Register the directory and every ancestor.
		for d := dir; d != "." && d != "/"; d = path.Dir(d) {
			if !seen[d] {
				seen[d] = true
				dirs = append(dirs, d)
			}
		}
	}
	sort.Strings(dirs)
	if len(dirs) > maxDiagramDirs {
		dirs = dirs[:maxDiagramDirs]
	}

	var b strings.Builder
	b.WriteString("graph TD\n")
	b.WriteString(fmt.Sprintf("    root[\"/ (%d files)\"]\n", fileCounts["."]))
	for _, d := range dirs {
		b.WriteString(fmt.Sprintf("    %s[\"%s (%d files)\"]\n", mermaidID(d), path.Base(d), fileCounts[d]))
	}
	for _, d := range dirs {
		parent := path.Dir(d)
		from := "root"
		if parent != "." {
			from = mermaidID(parent)
		}
		b.WriteString(fmt.Sprintf("    %s --> %s\n", from, mermaidID(d)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// mermaidID turns a path into a node identifier mermaid accepts.
func mermaidID(dir string) string {
	id := strings.NewReplacer("/", "_", ".", "_", "-", "_", " ", "_").Replace(dir)
	return "d_" + id
}
