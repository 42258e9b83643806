package filetree

import (
	"bytes"
	"sort"
	"strings"
)

// FromPaths renders slash separated relative paths as an indented tree
// rooted at root. Directories are listed before files at each level.
func FromPaths(root string, paths []string, maxDepth int) string {
	fileTree := make(map[string]interface{})

	for _, p := range paths {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		parts := strings.Split(p, "/")
		if maxDepth >= 0 && len(parts) > maxDepth+1 {
			parts = parts[:maxDepth+1]
			// keep the truncated node as a directory
			parts[len(parts)-1] += "/"
		}

		// Traverse/build the tree
		current := fileTree
		for i, part := range parts {
			isLast := i == len(parts)-1
			if isLast && !strings.HasSuffix(part, "/") {
				if _, exists := current[part]; !exists {
					current[part] = nil
				}
				continue
			}
			name := strings.TrimSuffix(part, "/")
			sub, ok := current[name].(map[string]interface{})
			if !ok {
				sub = make(map[string]interface{})
				current[name] = sub
			}
			current = sub
		}
	}

	var buffer bytes.Buffer
	buffer.WriteString(root + "/\n")
	formatTree(fileTree, &buffer, "")
	return buffer.String()
}

// formatTree recursively writes the tree with box-drawing connectors.
func formatTree(tree map[string]interface{}, buffer *bytes.Buffer, indent string) {
	entryNames := getSortedKeys(tree)

	for i, entryName := range entryNames {
		last := i == len(entryNames)-1
		connector, childIndent := "├── ", "│   "
		if last {
			connector, childIndent = "└── ", "    "
		}
		buffer.WriteString(indent + connector + entryName)

		if subdirectory, isDirectory := tree[entryName].(map[string]interface{}); isDirectory {
			buffer.WriteString("/\n")
			formatTree(subdirectory, buffer, indent+childIndent)
			continue
		}
		buffer.WriteString("\n")
	}
}

// getSortedKeys returns directories first, then files, each sorted by name.
func getSortedKeys(tree map[string]interface{}) []string {
	var keys []string
	for k := range tree {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		_, di := tree[keys[i]].(map[string]interface{})
		_, dj := tree[keys[j]].(map[string]interface{})
		if di != dj {
			return di
		}
		return keys[i] < keys[j]
	})
	return keys
}
