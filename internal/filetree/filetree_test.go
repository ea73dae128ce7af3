package filetree

import (
	"reflect"
	"testing"
)

func sampleTree() Tree {
	return Tree{
		"app.js":       NewFile("console.log('hi')"),
		"package.json": NewFile("{}"),
		"routes": NewDir(Tree{
			"user.routes.js": NewFile("module.exports = router"),
			"api": NewDir(Tree{
				"v1.js": NewFile("// v1"),
			}),
		}),
		"empty": NewDir(nil),
	}
}

func TestNormalize(t *testing.T) {
	image := Normalize(sampleTree(), "")

	want := MountImage{
		"app.js":                "console.log('hi')",
		"package.json":          "{}",
		"routes/user.routes.js": "module.exports = router",
		"routes/api/v1.js":      "// v1",
	}
	if !reflect.DeepEqual(image, want) {
		t.Errorf("Normalize = %v, want %v", image, want)
	}
}

func TestNormalizeBasePath(t *testing.T) {
	image := Normalize(Tree{"a.txt": NewFile("x")}, "proj")
	if got := image["proj/a.txt"]; got != "x" {
		t.Errorf("Expected proj/a.txt = %q, got %q", "x", got)
	}
}

// Every file placed in a tree must appear in the normalized image at its
// "/"-joined path, and nothing else may appear.
func TestNormalizeCompleteness(t *testing.T) {
	tree := sampleTree()
	image := Normalize(tree, "")

	if len(image) != 4 {
		t.Errorf("Expected 4 entries, got %d: %v", len(image), image)
	}
	for path := range image {
		if path == "" {
			t.Error("Image contains empty path")
		}
	}
	// Empty directories contribute nothing.
	for path := range image {
		if path == "empty" {
			t.Error("Empty directory leaked into image")
		}
	}
}

func TestMergeShallow(t *testing.T) {
	existing := Tree{
		"app.js": NewFile("old"),
		"routes": NewDir(Tree{
			"a.js": NewFile("a"),
			"b.js": NewFile("b"),
		}),
	}
	incoming := Tree{
		"app.js": NewFile("new"),
		"routes": NewDir(Tree{
			"c.js": NewFile("c"),
		}),
	}

	merged := Merge(existing, incoming)

	if merged["app.js"].File.Contents != "new" {
		t.Errorf("Expected incoming file to win, got %q", merged["app.js"].File.Contents)
	}
	// Shallow merge: the incoming directory replaces the existing one
	// entirely, it is not merged recursively.
	routes := merged["routes"].Children
	if len(routes) != 1 || routes["c.js"] == nil {
		t.Errorf("Expected routes replaced wholesale, got %v", routes)
	}
	// Entries absent from incoming survive.
	if existing["routes"].Children["a.js"] == nil {
		t.Error("Merge must not mutate existing tree")
	}
}

func TestMergeKeepsUntouchedEntries(t *testing.T) {
	merged := Merge(Tree{"keep.js": NewFile("k")}, Tree{"add.js": NewFile("a")})
	if len(merged) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(merged))
	}
	if merged["keep.js"].File.Contents != "k" {
		t.Error("Existing entry lost in merge")
	}
}

func TestMergeIntoEmptyThenNormalize(t *testing.T) {
	merged := Merge(Tree{}, Tree{"a.txt": NewFile("x")})
	image := Normalize(merged, "")
	if len(image) != 1 || image["a.txt"] != "x" {
		t.Errorf("Expected single-entry image, got %v", image)
	}
}

func TestDelete(t *testing.T) {
	tree := sampleTree()

	Delete(tree, "routes/api/v1.js")

	api := tree["routes"].Children["api"]
	if api == nil {
		t.Fatal("Emptied parent directory must be retained")
	}
	if len(api.Children) != 0 {
		t.Errorf("Expected api emptied, got %v", api.Children)
	}
}

func TestDeleteTopLevel(t *testing.T) {
	tree := sampleTree()
	Delete(tree, "app.js")
	if tree["app.js"] != nil {
		t.Error("Top-level file not deleted")
	}
}

func TestDeleteMissingPathIsNoOp(t *testing.T) {
	tree := sampleTree()
	before := Normalize(tree, "")

	Delete(tree, "no/such/path.js")
	Delete(tree, "app.js/not-a-dir.js")

	after := Normalize(tree, "")
	if !reflect.DeepEqual(before, after) {
		t.Errorf("Tree changed by no-op delete: %v != %v", before, after)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`{
		"app.js": {"file": {"contents": "x"}},
		"src": {"children": {"main.js": {"file": {"contents": "y"}}}}
	}`)

	tree, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !tree["app.js"].IsFile() || tree["app.js"].File.Contents != "x" {
		t.Errorf("Unexpected file node: %+v", tree["app.js"])
	}
	if !tree["src"].IsDir() {
		t.Errorf("Expected src to be a directory")
	}
	if tree["src"].Children["main.js"].File.Contents != "y" {
		t.Error("Nested file not parsed")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed input")
	}
}

func TestParseNull(t *testing.T) {
	tree, err := Parse([]byte(`null`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(tree) != 0 {
		t.Errorf("Expected empty tree, got %v", tree)
	}
}
