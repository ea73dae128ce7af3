// Package filetree implements the virtual file tree exchanged between the
// chat clients, the AI relay, and the sandbox runtime. A tree maps names to
// nodes, where each node is either a file or a directory of child nodes.
package filetree

import (
	"encoding/json"
	"strings"
)

// FileContent holds the contents of a file node.
type FileContent struct {
	Contents string `json:"contents"`
}

// Node is a single entry in a file tree: a file (File set) or a
// directory (Children set). Exactly one of the two fields is populated.
type Node struct {
	File     *FileContent `json:"file,omitempty"`
	Children Tree         `json:"children,omitempty"`
}

// Tree maps entry names to nodes. Names are unique within a tree and paths
// are "/"-joined names from the root.
type Tree map[string]*Node

// NewFile creates a file node with the given contents.
func NewFile(contents string) *Node {
	return &Node{File: &FileContent{Contents: contents}}
}

// NewDir creates a directory node with the given children.
// A nil children map is normalized to an empty one.
func NewDir(children Tree) *Node {
	if children == nil {
		children = Tree{}
	}
	return &Node{Children: children}
}

// IsFile reports whether the node is a file.
func (n *Node) IsFile() bool {
	return n != nil && n.File != nil
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n != nil && n.File == nil
}

// MountImage is the flattened form of a tree: full path -> file contents.
// It is what gets mounted into a sandbox runtime.
type MountImage map[string]string

// Normalize flattens a tree into a MountImage, prefixing every path with
// basePath (empty for the root). Directories contribute no entries of
// their own; empty directories are therefore absent from the image.
func Normalize(tree Tree, basePath string) MountImage {
	image := MountImage{}
	normalizeInto(tree, basePath, image)
	return image
}

func normalizeInto(tree Tree, basePath string, image MountImage) {
	for name, node := range tree {
		if node == nil {
			continue
		}
		path := name
		if basePath != "" {
			path = basePath + "/" + name
		}
		if node.IsFile() {
			image[path] = node.File.Contents
			continue
		}
		normalizeInto(node.Children, path, image)
	}
}

// Merge returns a new tree with incoming's top-level entries laid over
// existing's. The merge is deliberately shallow: an incoming directory
// with the same name replaces the existing one wholesale rather than
// being merged recursively.
func Merge(existing, incoming Tree) Tree {
	merged := make(Tree, len(existing)+len(incoming))
	for name, node := range existing {
		merged[name] = node
	}
	for name, node := range incoming {
		merged[name] = node
	}
	return merged
}

// Delete removes the entry at path (segments joined by "/") from the tree,
// mutating it in place. Missing or non-directory intermediate segments make
// the call a no-op. Parent directories emptied by the removal are retained.
func Delete(tree Tree, path string) {
	segments := strings.Split(path, "/")
	current := tree
	for _, segment := range segments[:len(segments)-1] {
		node, ok := current[segment]
		if !ok || !node.IsDir() {
			return
		}
		current = node.Children
	}
	delete(current, segments[len(segments)-1])
}

// Parse decodes a tree from its JSON wire form.
func Parse(data []byte) (Tree, error) {
	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}
