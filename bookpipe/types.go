package bookpipe

// Variant identifies a packaging convention for a source document.
type Variant string

const (
	// VariantEPUB is a single-file zip container with an OPF package document.
	VariantEPUB Variant = "epub"
	// VariantEPUBDir is a pre-extracted EPUB directory tree
	// (META-INF/container.xml present on disk).
	VariantEPUBDir Variant = "epub-dir"
	// VariantSplitHTML is a directory of per-chapter HTML files.
	VariantSplitHTML Variant = "split-html"
	// VariantTextDir is a directory of per-chapter plain-text or markdown files.
	VariantTextDir Variant = "text-dir"
)

// NodeKind classifies a canonical tree node.
type NodeKind string

const (
	KindHeading   NodeKind = "heading"
	KindParagraph NodeKind = "paragraph"
)

// Node is one structural unit of the canonical tree, in reading order.
// Level is the heading depth (1 = chapter, 2 = section) and 0 for paragraphs.
// Boundary marks a hard structural break immediately before this node
// (front matter to body and back); downstream chunking must not carry
// overlap text across it.
type Node struct {
	Kind     NodeKind `json:"kind"`
	Level    int      `json:"level"`
	Title    string   `json:"title,omitempty"`
	Text     string   `json:"text"`
	Ordinal  int      `json:"ordinal"`
	Boundary bool     `json:"boundary,omitempty"`
}

// Book is the canonical result of normalizing a source document.
type Book struct {
	Path      string  `json:"path"`
	Variant   Variant `json:"variant"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	Language  string  `json:"language,omitempty"`
	Year      int     `json:"year,omitempty"`
	Nodes     []Node  `json:"nodes"`
	WordCount int     `json:"word_count"`
}

// SupportedVariants returns all packaging variants the pipeline handles.
func SupportedVariants() []string {
	return []string{string(VariantEPUB), string(VariantEPUBDir), string(VariantSplitHTML), string(VariantTextDir)}
}
