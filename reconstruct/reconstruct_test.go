package reconstruct

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hazyhaar/liber/bookpipe"
	"github.com/hazyhaar/liber/chunker"
	"github.com/hazyhaar/liber/dbopen"
	"github.com/hazyhaar/liber/store"
	_ "modernc.org/sqlite"
)

// ingestSynthetic runs a synthetic book through the real chunker and
// persists it, returning the store, book ID and the original word stream.
func ingestSynthetic(t *testing.T, chapters, paras, paraWords int) (*store.Store, store.UUID, []string) {
	t.Helper()

	book := &bookpipe.Book{Title: "Synthetic", Author: "Test Author"}
	w := 0
	for c := 1; c <= chapters; c++ {
		title := fmt.Sprintf("Chapter %d", c)
		book.Nodes = append(book.Nodes, bookpipe.Node{
			Kind: bookpipe.KindHeading, Level: 1, Title: title, Text: title,
		})
		for p := 0; p < paras; p++ {
			words := make([]string, paraWords)
			for i := range words {
				words[i] = fmt.Sprintf("word%d.", w)
				w++
			}
			book.Nodes = append(book.Nodes, bookpipe.Node{
				Kind: bookpipe.KindParagraph, Text: strings.Join(words, " "),
			})
		}
	}

	chunks, err := chunker.Split(book, chunker.Config{})
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	records := make([]store.ChunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = store.ChunkRecord{
			SequenceIndex: c.SequenceIndex,
			ChapterNumber: c.ChapterNumber,
			SectionNumber: c.SectionNumber,
			ChunkType:     string(c.Type),
			ChapterTitle:  c.ChapterTitle,
			Content:       c.Content,
			OverlapPrev:   c.OverlapPrev,
			WordCount:     c.WordCount,
			CharCount:     c.CharCount,
		}
	}

	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	res, err := s.Ingest(context.Background(), store.BookRecord{
		Title: book.Title, Author: book.Author, SourcePath: "/lib/synthetic",
		Variant: "text-dir", ContentHash: "synthetic-hash",
	}, records)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	var original []string
	for _, n := range book.Nodes {
		original = append(original, strings.Fields(n.Text)...)
	}
	return s, res.BookID, original
}

func TestBuildFullInvertsChunking(t *testing.T) {
	s, bookID, original := ingestSynthetic(t, 3, 10, 300)
	b := New(s)

	res, err := b.Build(context.Background(), bookID, FormatFull)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", res.Warnings)
	}

	rebuilt := strings.Fields(res.Content)
	if len(rebuilt) != len(original) {
		t.Fatalf("rebuilt %d words, original %d", len(rebuilt), len(original))
	}
	for i := range original {
		if rebuilt[i] != original[i] {
			t.Fatalf("word %d: %q != %q", i, rebuilt[i], original[i])
		}
	}
	if res.Chapters != 3 {
		t.Errorf("chapters = %d", res.Chapters)
	}
	if res.ChunksProcessed == 0 {
		t.Error("chunks processed = 0")
	}
}

func TestBuildFullMismatchFallsBack(t *testing.T) {
	s, bookID, original := ingestSynthetic(t, 2, 5, 300)

	// Corrupt one chunk's overlap region directly in the database.
	_, err := s.DB.Exec(`
		UPDATE chunks SET content = 'corrupted ' || content
		WHERE book_id = ? AND sequence_index = 1`, bookID)
	if err != nil {
		t.Fatal(err)
	}

	res, err := New(s).Build(context.Background(), bookID, FormatFull)
	if err != nil {
		t.Fatalf("build must not fail on mismatch: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Fatal("no warning for overlap mismatch")
	}
	if !strings.Contains(res.Warnings[0], "overlap mismatch") {
		t.Errorf("warning = %q", res.Warnings[0])
	}
	// Naive concat keeps every word, so the result is longer than the
	// original, never shorter.
	if len(strings.Fields(res.Content)) <= len(original) {
		t.Error("fallback did not emit chunk verbatim")
	}
}

func TestBuildFullRendersGapAsBreak(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	res, err := s.Ingest(context.Background(), store.BookRecord{
		Title: "Gappy", Author: "A", SourcePath: "/g", Variant: "epub", ContentHash: "g1",
	}, []store.ChunkRecord{
		{SequenceIndex: 0, ChapterNumber: 0, ChunkType: "chapter", ChapterTitle: "Front Matter",
			Content: "Front Matter dedication text", WordCount: 4},
		{SequenceIndex: 1, ChapterNumber: 1, ChunkType: "chapter", ChapterTitle: "Chapter 1",
			Content: "Chapter 1 body text", OverlapPrev: 0, WordCount: 4},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := New(s).Build(context.Background(), res.BookID, FormatFull)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Content, "\n\n") {
		t.Error("structural gap not rendered as a break")
	}
}

func TestBuildOutline(t *testing.T) {
	s, bookID, _ := ingestSynthetic(t, 3, 2, 100)

	res, err := New(s).Build(context.Background(), bookID, FormatOutline)
	if err != nil {
		t.Fatal(err)
	}
	for c := 1; c <= 3; c++ {
		if !strings.Contains(res.Content, fmt.Sprintf("%d. Chapter %d", c, c)) {
			t.Errorf("outline missing chapter %d:\n%s", c, res.Content)
		}
	}
	if !strings.Contains(res.Content, "words)") {
		t.Error("outline missing word counts")
	}
}

func TestBuildSummaryShortens(t *testing.T) {
	s, bookID, original := ingestSynthetic(t, 2, 8, 300)

	res, err := New(s).Build(context.Background(), bookID, FormatSummary)
	if err != nil {
		t.Fatal(err)
	}
	if res.WordCount == 0 {
		t.Fatal("empty summary")
	}
	if res.WordCount >= len(original) {
		t.Errorf("summary (%d words) not shorter than original (%d)", res.WordCount, len(original))
	}
}

func TestBuildQuotes(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	res, err := s.Ingest(context.Background(), store.BookRecord{
		Title: "Q", Author: "A", SourcePath: "/q", Variant: "epub", ContentHash: "q1",
	}, []store.ChunkRecord{
		{SequenceIndex: 0, ChapterNumber: 1, ChunkType: "chapter", ChapterTitle: "One",
			Content: `The duke said "fear is the mind-killer, the little death" and turned away.`, WordCount: 13},
		{SequenceIndex: 1, ChapterNumber: 2, ChunkType: "chapter", ChapterTitle: "Two",
			Content: "No dialogue here. Only the long slow crawl of the harvester across the open sand told them anything.", WordCount: 18, OverlapPrev: 0},
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := New(s).Build(context.Background(), res.BookID, FormatQuotes)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.Content, "fear is the mind-killer") {
		t.Errorf("quoted passage missing:\n%s", out.Content)
	}
	if !strings.Contains(out.Content, "ch. 2") {
		t.Errorf("quiet chapter got no salient sentence:\n%s", out.Content)
	}
}

func TestParseFormat(t *testing.T) {
	for _, s := range []string{"full", "summary", "outline", "quotes"} {
		if _, err := ParseFormat(s); err != nil {
			t.Errorf("ParseFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestBuildUnknownBook(t *testing.T) {
	s := store.NewStore(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
	if _, err := New(s).Build(context.Background(), store.NewUUID(), FormatFull); err == nil {
		t.Error("unknown book did not error")
	}
}
