package bookpipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

var htmlExts = map[string]bool{".html": true, ".htm": true, ".xhtml": true}

// normalizeSplitHTML handles a directory of per-chapter HTML files.
// Files are taken in natural order; each file becomes one chapter.
func (p *Pipeline) normalizeSplitHTML(ctx context.Context, dir string) (*Book, error) {
	names, err := sortedChapterFiles(dir, htmlExts)
	if err != nil {
		return nil, formatErr(dir, "list chapter files", err)
	}
	if len(names) == 0 {
		return nil, formatErr(dir, "no HTML chapter files", nil)
	}

	book := &Book{
		Path:    dir,
		Variant: VariantSplitHTML,
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

		nodes, docTitle := p.htmlToNodes(data)
		if len(nodes) == 0 {
			p.logger.Debug("skipping empty chapter file", "path", full)
			continue
		}
		ensureChapterHeading(&nodes, docTitle, &chapterCount)

		if book.Title == "" && docTitle != "" {
			book.Title = docTitle
		}
		book.Nodes = append(book.Nodes, nodes...)
	}

	if len(book.Nodes) == 0 {
		return nil, formatErr(dir, "no readable chapter content", nil)
	}
	if book.Title == "" {
		book.Title = firstHeadingTitle(book.Nodes)
	}
	readMetadataOverride(dir, book)
	return book, nil
}
