package bookpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var textExts = map[string]bool{".txt": true, ".md": true, ".markdown": true}

// bookMetadata is the optional metadata.yaml carried by directory-tree
// sources that have no embedded metadata of their own.
type bookMetadata struct {
	Title    string `yaml:"title"`
	Author   string `yaml:"author"`
	Language string `yaml:"language"`
	Year     int    `yaml:"year"`
}

func loadMetadataFile(path string) (*bookMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m bookMetadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &m, nil
}

// normalizeTextDir handles a pre-extracted directory tree of .txt/.md
// chapter files, one chapter per file, in natural order.
func (p *Pipeline) normalizeTextDir(ctx context.Context, dir string) (*Book, error) {
	names, err := sortedChapterFiles(dir, textExts)
	if err != nil {
		return nil, formatErr(dir, "list chapter files", err)
	}
	if len(names) == 0 {
		return nil, formatErr(dir, "no text chapter files", nil)
	}

	book := &Book{
		Path:    dir,
		Variant: VariantTextDir,
		Author:  "Unknown",
	}

	chapterCount := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		full := filepath.Join(dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, formatErr(full, "read chapter file", err)
		}
		if int64(len(data)) > p.cfg.MaxFileSize {
			return nil, formatErr(full, fmt.Sprintf("chapter file too large (%d bytes)", len(data)), nil)
		}

		var nodes []Node
		var docTitle string
		switch strings.ToLower(filepath.Ext(name)) {
		case ".md", ".markdown":
			nodes = markdownToNodes(string(data))
			docTitle = firstHeadingTitle(nodes)
		default:
			nodes, docTitle = plainTextToNodes(string(data))
		}
		if len(nodes) == 0 {
			p.logger.Debug("skipping empty chapter file", "path", full)
			continue
		}
		ensureChapterHeading(&nodes, docTitle, &chapterCount)

		book.Nodes = append(book.Nodes, nodes...)
	}

	if len(book.Nodes) == 0 {
		return nil, formatErr(dir, "no readable chapter content", nil)
	}
	book.Title = firstHeadingTitle(book.Nodes)
	readMetadataOverride(dir, book)
	return book, nil
}

// plainTextToNodes splits plain text into paragraphs at blank lines.
// The first line is treated as the chapter title.
func plainTextToNodes(text string) ([]Node, string) {
	var nodes []Node
	var title string
	var current strings.Builder

	flush := func() {
		t := normalizeWhitespace(current.String())
		if t != "" {
			nodes = append(nodes, Node{Kind: KindParagraph, Text: t})
		}
		current.Reset()
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i == 0 && trimmed != "" {
			title = trimmed
			if len(title) > 200 {
				title = title[:200]
			}
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(trimmed)
	}
	flush()

	if title != "" {
		heading := Node{Kind: KindHeading, Level: 1, Title: title, Text: title}
		nodes = append([]Node{heading}, nodes...)
	}
	return nodes, title
}
