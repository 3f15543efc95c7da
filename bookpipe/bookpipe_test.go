package bookpipe

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>The Test Book</dc:title>
    <dc:creator>Jane Author</dc:creator>
    <dc:language>en</dc:language>
    <dc:date>1965-08-01</dc:date>
  </metadata>
  <manifest>
    <item id="cover" href="cover.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch2" href="chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="cover"/>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
  <guide>
    <reference type="cover" href="cover.xhtml"/>
  </guide>
</package>`

const testCoverXHTML = `<html><head><title>Cover</title></head>
<body><p>The Test Book by Jane Author</p></body></html>`

const testChapter1 = `<html><head><title>Chapter One</title></head>
<body><h1>Chapter One</h1>
<p>It was a dark and stormy night. The rain fell in torrents.</p>
<h2>A Section</h2>
<p>Except at occasional intervals, when it was checked by a violent gust of wind.</p>
</body></html>`

const testChapter2 = `<html><head><title>Chapter Two</title></head>
<body><h1>Chapter Two</h1>
<p>The wind swept up the streets and rattled along the housetops.</p>
</body></html>`

// writeTestEPUB builds a minimal valid EPUB zip and returns its path.
func writeTestEPUB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "test.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	files := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/cover.xhtml":      testCoverXHTML,
		"OEBPS/chapter1.xhtml":   testChapter1,
		"OEBPS/chapter2.xhtml":   testChapter2,
		"OEBPS/style.css":        "body { margin: 0 }",
	}
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

// writeTestEPUBDir writes the same EPUB structure pre-extracted to disk.
func writeTestEPUBDir(t *testing.T, dir string) string {
	t.Helper()
	root := filepath.Join(dir, "extracted")
	files := map[string]string{
		"META-INF/container.xml": testContainerXML,
		"OEBPS/content.opf":      testOPF,
		"OEBPS/cover.xhtml":      testCoverXHTML,
		"OEBPS/chapter1.xhtml":   testChapter1,
		"OEBPS/chapter2.xhtml":   testChapter2,
	}
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return root
}

func TestSniff(t *testing.T) {
	dir := t.TempDir()
	pipe := New(Config{})

	epub := writeTestEPUB(t, dir)
	v, err := pipe.Sniff(epub)
	if err != nil {
		t.Fatalf("Sniff epub: %v", err)
	}
	if v != VariantEPUB {
		t.Errorf("variant = %q, want %q", v, VariantEPUB)
	}

	extracted := writeTestEPUBDir(t, dir)
	if v, err = pipe.Sniff(extracted); err != nil || v != VariantEPUBDir {
		t.Errorf("Sniff extracted = %q, %v; want %q", v, err, VariantEPUBDir)
	}

	htmlDir := filepath.Join(dir, "html")
	os.MkdirAll(htmlDir, 0o755)
	os.WriteFile(filepath.Join(htmlDir, "ch1.html"), []byte("<p>x</p>"), 0o644)
	if v, err = pipe.Sniff(htmlDir); err != nil || v != VariantSplitHTML {
		t.Errorf("Sniff html dir = %q, %v; want %q", v, err, VariantSplitHTML)
	}

	textDir := filepath.Join(dir, "text")
	os.MkdirAll(textDir, 0o755)
	os.WriteFile(filepath.Join(textDir, "ch1.txt"), []byte("x"), 0o644)
	if v, err = pipe.Sniff(textDir); err != nil || v != VariantTextDir {
		t.Errorf("Sniff text dir = %q, %v; want %q", v, err, VariantTextDir)
	}

	bogus := filepath.Join(dir, "bogus.bin")
	os.WriteFile(bogus, []byte("not a container"), 0o644)
	if _, err = pipe.Sniff(bogus); err == nil {
		t.Error("Sniff accepted a non-container file")
	}
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Errorf("error type = %T, want *FormatError", err)
	}
}

func TestNormalizeEPUB(t *testing.T) {
	pipe := New(Config{})
	path := writeTestEPUB(t, t.TempDir())

	book, err := pipe.Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if book.Title != "The Test Book" {
		t.Errorf("Title = %q", book.Title)
	}
	if book.Author != "Jane Author" {
		t.Errorf("Author = %q", book.Author)
	}
	if book.Language != "en" {
		t.Errorf("Language = %q", book.Language)
	}
	if book.Year != 1965 {
		t.Errorf("Year = %d", book.Year)
	}
	if book.WordCount == 0 {
		t.Error("WordCount = 0")
	}

	// Spine order and heading structure must survive.
	var headings []string
	for _, n := range book.Nodes {
		if n.Kind == KindHeading && n.Level == 1 {
			headings = append(headings, n.Title)
		}
	}
	if len(headings) != 3 {
		t.Fatalf("level-1 headings = %v, want 3", headings)
	}
	if headings[1] != "Chapter One" || headings[2] != "Chapter Two" {
		t.Errorf("chapter headings = %v", headings)
	}

	// Ordinals are dense and in reading order.
	for i, n := range book.Nodes {
		if n.Ordinal != i {
			t.Fatalf("node %d has ordinal %d", i, n.Ordinal)
		}
	}

	// Transition from guide-declared cover to body text is a hard break.
	sawBoundary := false
	for _, n := range book.Nodes {
		if n.Boundary {
			sawBoundary = true
		}
	}
	if !sawBoundary {
		t.Error("no boundary between front matter and body")
	}
}

func TestNormalizeEPUBDirMatchesZip(t *testing.T) {
	pipe := New(Config{})
	dir := t.TempDir()

	fromZip, err := pipe.Normalize(context.Background(), writeTestEPUB(t, dir))
	if err != nil {
		t.Fatalf("Normalize zip: %v", err)
	}
	fromDir, err := pipe.Normalize(context.Background(), writeTestEPUBDir(t, dir))
	if err != nil {
		t.Fatalf("Normalize dir: %v", err)
	}

	if fromDir.Variant != VariantEPUBDir {
		t.Errorf("Variant = %q", fromDir.Variant)
	}
	if fromDir.Title != fromZip.Title || fromDir.WordCount != fromZip.WordCount {
		t.Errorf("extracted tree diverges from zip: %q/%d vs %q/%d",
			fromDir.Title, fromDir.WordCount, fromZip.Title, fromZip.WordCount)
	}
	if len(fromDir.Nodes) != len(fromZip.Nodes) {
		t.Errorf("node count %d vs %d", len(fromDir.Nodes), len(fromZip.Nodes))
	}
}

func TestNormalizeSplitHTML(t *testing.T) {
	pipe := New(Config{})
	dir := t.TempDir()

	// Deliberately out of lexicographic order to exercise natural sorting.
	os.WriteFile(filepath.Join(dir, "chapter_10.html"),
		[]byte(`<html><body><h1>Ten</h1><p>Last chapter text.</p></body></html>`), 0o644)
	os.WriteFile(filepath.Join(dir, "chapter_2.html"),
		[]byte(`<html><body><h1>Two</h1><p>Second chapter text.</p></body></html>`), 0o644)
	os.WriteFile(filepath.Join(dir, "chapter_1.html"),
		[]byte(`<html><head><title>One</title></head><body><h1>One</h1><p>First chapter text.</p></body></html>`), 0o644)

	book, err := pipe.Normalize(context.Background(), dir)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if book.Variant != VariantSplitHTML {
		t.Errorf("Variant = %q", book.Variant)
	}

	var order []string
	for _, n := range book.Nodes {
		if n.Kind == KindHeading {
			order = append(order, n.Title)
		}
	}
	want := []string{"One", "Two", "Ten"}
	if len(order) != len(want) {
		t.Fatalf("headings = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("chapter order = %v, want %v", order, want)
			break
		}
	}
}

func TestNormalizeTextDir(t *testing.T) {
	pipe := New(Config{})
	dir := t.TempDir()

	os.WriteFile(filepath.Join(dir, "01_intro.txt"), []byte(
		"Introduction\n\nThe first paragraph of the introduction.\n\nThe second paragraph,\nwrapped across lines.\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "02_body.md"), []byte(
		"# The Body\n\nMarkdown chapter text here.\n\n## Detail\n\nMore text.\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "metadata.yaml"), []byte(
		"title: Overridden Title\nauthor: Known Author\nyear: 2001\n"), 0o644)

	book, err := pipe.Normalize(context.Background(), dir)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if book.Title != "Overridden Title" {
		t.Errorf("Title = %q, metadata.yaml override not applied", book.Title)
	}
	if book.Author != "Known Author" {
		t.Errorf("Author = %q", book.Author)
	}
	if book.Year != 2001 {
		t.Errorf("Year = %d", book.Year)
	}

	// Wrapped lines within a paragraph collapse to one node.
	joined := false
	for _, n := range book.Nodes {
		if strings.Contains(n.Text, "The second paragraph, wrapped across lines.") {
			joined = true
		}
	}
	if !joined {
		t.Error("wrapped paragraph lines were not joined")
	}
}

func TestNormalizeCorruptZip(t *testing.T) {
	pipe := New(Config{})
	dir := t.TempDir()

	path := filepath.Join(dir, "broken.epub")
	os.WriteFile(path, []byte("PK\x03\x04 truncated garbage"), 0o644)

	_, err := pipe.Normalize(context.Background(), path)
	if err == nil {
		t.Fatal("expected error for corrupt zip")
	}
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *FormatError", err)
	}
	if fe.Path != path {
		t.Errorf("FormatError.Path = %q, want %q", fe.Path, path)
	}
}

func TestNormalizeMissingSpineDoc(t *testing.T) {
	pipe := New(Config{})
	dir := t.TempDir()

	root := filepath.Join(dir, "bad")
	os.MkdirAll(filepath.Join(root, "META-INF"), 0o755)
	os.MkdirAll(filepath.Join(root, "OEBPS"), 0o755)
	os.WriteFile(filepath.Join(root, "META-INF", "container.xml"), []byte(testContainerXML), 0o644)
	os.WriteFile(filepath.Join(root, "OEBPS", "content.opf"), []byte(testOPF), 0o644)
	// chapter files deliberately absent

	_, err := pipe.Normalize(context.Background(), root)
	var fe *FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *FormatError", err)
	}
}

func TestMarkdownToNodes(t *testing.T) {
	md := "# Title\n\nFirst para line one\nline two.\n\n## Section\n\nSecond para."
	nodes := markdownToNodes(md)

	if len(nodes) != 4 {
		t.Fatalf("got %d nodes: %+v", len(nodes), nodes)
	}
	if nodes[0].Kind != KindHeading || nodes[0].Level != 1 || nodes[0].Title != "Title" {
		t.Errorf("node 0 = %+v", nodes[0])
	}
	if nodes[1].Text != "First para line one line two." {
		t.Errorf("node 1 text = %q", nodes[1].Text)
	}
	if nodes[2].Level != 2 {
		t.Errorf("node 2 level = %d", nodes[2].Level)
	}
}

func TestNaturalSort(t *testing.T) {
	names := []string{"ch10.html", "ch2.html", "ch1.html", "appendix.html"}
	naturalSort(names)
	want := []string{"appendix.html", "ch1.html", "ch2.html", "ch10.html"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("sorted = %v, want %v", names, want)
		}
	}
}

func TestHTMLToNodesStripsScript(t *testing.T) {
	pipe := New(Config{})
	data := []byte(`<html><body><h1>T</h1><script>alert("x")</script><p>Visible text.</p></body></html>`)
	nodes, _ := pipe.htmlToNodes(data)
	for _, n := range nodes {
		if strings.Contains(n.Text, "alert") {
			t.Fatalf("script content leaked into node: %q", n.Text)
		}
	}
}
