package bookpipe

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// container.xml points at the OPF package document.
type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// opfPackage is the subset of the OPF package document we consume.
type opfPackage struct {
	Metadata struct {
		Titles    []string `xml:"title"`
		Creators  []string `xml:"creator"`
		Languages []string `xml:"language"`
		Dates     []string `xml:"date"`
	} `xml:"metadata"`
	Manifest struct {
		Items []struct {
			ID         string `xml:"id,attr"`
			Href       string `xml:"href,attr"`
			MediaType  string `xml:"media-type,attr"`
			Properties string `xml:"properties,attr"`
		} `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []struct {
			IDRef  string `xml:"idref,attr"`
			Linear string `xml:"linear,attr"`
		} `xml:"itemref"`
	} `xml:"spine"`
	Guide struct {
		References []struct {
			Type string `xml:"type,attr"`
			Href string `xml:"href,attr"`
		} `xml:"reference"`
	} `xml:"guide"`
}

// guide reference types that mark a spine document as front or back matter
// rather than body text.
var auxiliaryGuideTypes = map[string]bool{
	"cover":            true,
	"title-page":       true,
	"toc":              true,
	"copyright-page":   true,
	"colophon":         true,
	"acknowledgements": true,
	"dedication":       true,
	"epigraph":         true,
	"index":            true,
}

var auxiliaryNameHints = []string{"cover", "titlepage", "title_page", "toc", "nav", "copyright", "colophon", "dedication", "frontmatter"}

func (p *Pipeline) normalizeEPUBFile(ctx context.Context, path string) (*Book, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, formatErr(path, "open zip container", err)
	}
	defer r.Close()
	return p.normalizeEPUB(ctx, path, &r.Reader, VariantEPUB)
}

// normalizeEPUB walks an EPUB structure through fs.FS, which serves both the
// packaged (zip) and pre-extracted (directory) variants with one parser.
func (p *Pipeline) normalizeEPUB(ctx context.Context, srcPath string, fsys fs.FS, variant Variant) (*Book, error) {
	opfPath, err := epubRootfile(fsys)
	if err != nil {
		return nil, formatErr(srcPath, "locate package document", err)
	}

	opfData, err := fs.ReadFile(fsys, opfPath)
	if err != nil {
		return nil, formatErr(srcPath+"!"+opfPath, "read package document", err)
	}

	var pkg opfPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, formatErr(srcPath+"!"+opfPath, "parse package document", err)
	}
	if len(pkg.Spine.ItemRefs) == 0 {
		return nil, formatErr(srcPath+"!"+opfPath, "package document has an empty spine", nil)
	}

	opfDir := path.Dir(opfPath)
	hrefByID := make(map[string]string, len(pkg.Manifest.Items))
	mediaByID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		hrefByID[item.ID] = item.Href
		mediaByID[item.ID] = item.MediaType
	}

	auxHrefs := make(map[string]bool)
	for _, ref := range pkg.Guide.References {
		if auxiliaryGuideTypes[ref.Type] {
			auxHrefs[stripFragment(ref.Href)] = true
		}
	}

	book := &Book{
		Path:     srcPath,
		Variant:  variant,
		Title:    first(pkg.Metadata.Titles),
		Author:   first(pkg.Metadata.Creators),
		Language: first(pkg.Metadata.Languages),
		Year:     yearFrom(first(pkg.Metadata.Dates)),
	}

	prevAux := false
	chapterCount := 0
	for _, ref := range pkg.Spine.ItemRefs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		href, ok := hrefByID[ref.IDRef]
		if !ok {
			return nil, formatErr(srcPath+"!"+opfPath, fmt.Sprintf("spine idref %q missing from manifest", ref.IDRef), nil)
		}
		if mt := mediaByID[ref.IDRef]; mt != "" && !strings.Contains(mt, "html") {
			continue // images, fonts, css referenced from the spine by broken producers
		}

		docPath := path.Clean(path.Join(opfDir, href))
		data, err := fs.ReadFile(fsys, docPath)
		if err != nil {
			return nil, formatErr(srcPath+"!"+docPath, "read spine document", err)
		}

		nodes, docTitle := p.htmlToNodes(data)
		if len(nodes) == 0 {
			continue
		}

		aux := auxHrefs[href] || hasAuxiliaryName(href)
		ensureChapterHeading(&nodes, docTitle, &chapterCount)

		// A transition between front/back matter and body text is a hard
		// structural boundary: overlap must not bridge it.
		if len(book.Nodes) > 0 && aux != prevAux {
			nodes[0].Boundary = true
		}
		prevAux = aux

		book.Nodes = append(book.Nodes, nodes...)
	}

	if len(book.Nodes) == 0 {
		return nil, formatErr(srcPath, "no readable spine content", nil)
	}
	if book.Title == "" {
		book.Title = firstHeadingTitle(book.Nodes)
	}
	if book.Author == "" {
		book.Author = "Unknown"
	}
	return book, nil
}

// epubRootfile parses META-INF/container.xml and returns the OPF path.
func epubRootfile(fsys fs.FS) (string, error) {
	data, err := fs.ReadFile(fsys, "META-INF/container.xml")
	if err != nil {
		return "", fmt.Errorf("read META-INF/container.xml: %w", err)
	}
	var c epubContainer
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("parse container.xml: %w", err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("container.xml declares no rootfile")
	}
	return path.Clean(c.Rootfiles[0].FullPath), nil
}

// ensureChapterHeading guarantees every spine document starts with a level-1
// heading so the chunker can see chapter boundaries. Documents that open
// directly with body text get a synthesized heading.
func ensureChapterHeading(nodes *[]Node, docTitle string, chapterCount *int) {
	ns := *nodes
	if len(ns) > 0 && ns[0].Kind == KindHeading {
		ns[0].Level = 1
		*chapterCount++
		return
	}
	*chapterCount++
	title := docTitle
	if title == "" {
		title = fmt.Sprintf("Chapter %d", *chapterCount)
	}
	heading := Node{Kind: KindHeading, Level: 1, Title: title, Text: title}
	*nodes = append([]Node{heading}, ns...)
}

func hasAuxiliaryName(href string) bool {
	base := strings.ToLower(path.Base(stripFragment(href)))
	for _, hint := range auxiliaryNameHints {
		if strings.Contains(base, hint) {
			return true
		}
	}
	return false
}

func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}
	return href
}

func first(ss []string) string {
	for _, s := range ss {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

// yearFrom extracts a 4-digit year from a dc:date value like "1965" or
// "1965-08-01T00:00:00Z".
func yearFrom(date string) int {
	for i := 0; i+4 <= len(date); i++ {
		if isDigit(date[i]) && isDigit(date[i+1]) && isDigit(date[i+2]) && isDigit(date[i+3]) {
			y := int(date[i]-'0')*1000 + int(date[i+1]-'0')*100 + int(date[i+2]-'0')*10 + int(date[i+3]-'0')
			if y >= 1000 {
				return y
			}
		}
	}
	return 0
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func firstHeadingTitle(nodes []Node) string {
	for _, n := range nodes {
		if n.Kind == KindHeading && n.Title != "" {
			return n.Title
		}
	}
	return ""
}
