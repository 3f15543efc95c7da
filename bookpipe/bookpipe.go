// Package bookpipe normalizes heterogeneous e-book archives into one
// canonical logical tree of chapters, sections and paragraphs.
//
// Supported packaging variants:
//   - epub       — single-file zip container (META-INF/container.xml → OPF → spine)
//   - epub-dir   — the same structure pre-extracted to a directory tree
//   - split-html — a directory of per-chapter HTML files
//   - text-dir   — a directory of per-chapter .txt/.md files
//
// The variant is auto-detected from the bytes on disk; callers never supply
// a format hint. Normalization is a pure transform over file bytes: no side
// effects, and structural corruption yields a *FormatError naming the
// offending file.
//
// Usage:
//
//	pipe := bookpipe.New(bookpipe.Config{})
//	book, err := pipe.Normalize(ctx, "/library/dune.epub")
package bookpipe

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Pipeline is the format normalization engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Sniff detects the packaging variant of the source at path without parsing
// its full content.
func (p *Pipeline) Sniff(path string) (Variant, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", formatErr(path, "stat source", err)
	}

	if !info.IsDir() {
		if info.Size() > p.cfg.MaxFileSize {
			return "", formatErr(path, "file too large", nil)
		}
		if isZipFile(path) {
			return VariantEPUB, nil
		}
		return "", formatErr(path, "not a recognized container (expected zip/epub or directory)", nil)
	}

	// Directory: a pre-extracted EPUB tree carries META-INF/container.xml.
	if _, err := os.Stat(filepath.Join(path, "META-INF", "container.xml")); err == nil {
		return VariantEPUBDir, nil
	}

	var htmlFiles, textFiles int
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", formatErr(path, "read directory", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".html", ".htm", ".xhtml":
			htmlFiles++
		case ".txt", ".md", ".markdown":
			textFiles++
		}
	}
	if htmlFiles > 0 {
		return VariantSplitHTML, nil
	}
	if textFiles > 0 {
		return VariantTextDir, nil
	}
	return "", formatErr(path, "directory contains no chapter files", nil)
}

// Normalize parses the source at path and returns its canonical tree.
func (p *Pipeline) Normalize(ctx context.Context, path string) (*Book, error) {
	variant, err := p.Sniff(path)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("normalizing source", "path", path, "variant", variant)

	var book *Book
	switch variant {
	case VariantEPUB:
		book, err = p.normalizeEPUBFile(ctx, path)
	case VariantEPUBDir:
		book, err = p.normalizeEPUB(ctx, path, os.DirFS(path), VariantEPUBDir)
	case VariantSplitHTML:
		book, err = p.normalizeSplitHTML(ctx, path)
	case VariantTextDir:
		book, err = p.normalizeTextDir(ctx, path)
	default:
		return nil, formatErr(path, "no parser for variant "+string(variant), nil)
	}
	if err != nil {
		return nil, err
	}

	finalizeNodes(book)
	return book, nil
}

// finalizeNodes assigns ordinals and computes the book word count.
func finalizeNodes(b *Book) {
	words := 0
	for i := range b.Nodes {
		b.Nodes[i].Ordinal = i
		words += len(strings.Fields(b.Nodes[i].Text))
	}
	b.WordCount = words
}

// isZipFile reports whether the file starts with the zip local-header magic.
func isZipFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := f.Read(magic); err != nil {
		return false
	}
	return magic[0] == 'P' && magic[1] == 'K' && (magic[2] == 3 || magic[2] == 5 || magic[2] == 7)
}

// readMetadataOverride merges an optional metadata.yaml found in dir into b.
func readMetadataOverride(dir string, b *Book) {
	meta, err := loadMetadataFile(filepath.Join(dir, "metadata.yaml"))
	if err != nil {
		return
	}
	if meta.Title != "" {
		b.Title = meta.Title
	}
	if meta.Author != "" {
		b.Author = meta.Author
	}
	if meta.Language != "" {
		b.Language = meta.Language
	}
	if meta.Year != 0 {
		b.Year = meta.Year
	}
}

// sortedChapterFiles lists regular files in dir with one of the given
// extensions, in natural (numeric-aware) order so chapter_2 sorts before
// chapter_10.
func sortedChapterFiles(dir string, exts map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if exts[strings.ToLower(filepath.Ext(e.Name()))] {
			names = append(names, e.Name())
		}
	}
	naturalSort(names)
	return names, nil
}

// naturalSort orders strings treating digit runs as numbers.
func naturalSort(names []string) {
	less := func(a, b string) bool {
		for a != "" && b != "" {
			da, na := leadingInt(a)
			db, nb := leadingInt(b)
			if na != "" && nb != "" {
				if da != db {
					return da < db
				}
				a, b = na, nb
				continue
			}
			if a[0] != b[0] {
				return a[0] < b[0]
			}
			a, b = a[1:], b[1:]
		}
		return len(a) < len(b)
	}
	// Insertion sort keeps this dependency-free and stable; chapter lists
	// are small.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && less(names[j], names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}

func leadingInt(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, ""
	}
	n := 0
	for _, c := range s[:i] {
		n = n*10 + int(c-'0')
	}
	return n, s[i:]
}
