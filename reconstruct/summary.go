package reconstruct

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/hazyhaar/liber/store"
)

var (
	sentencePattern = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+)`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// buildSummary extracts the highest-signal sentences per chapter, scored by
// normalized token frequency and re-emitted in document order.
func buildSummary(chunks []*store.ChunkRecord) *Result {
	// Work on deduplicated text so overlap regions do not double-count
	// token frequencies.
	full := buildFull(chunks)

	sentences := sentencePattern.FindAllString(full.Content, -1)
	if len(sentences) == 0 {
		return &Result{Content: strings.TrimSpace(full.Content), Warnings: full.Warnings}
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range tokens(sent) {
			if stopwords[tok] {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := tokens(sent)
		s := 0.0
		for _, tok := range toks {
			s += freq[tok]
		}
		// Length normalization so long sentences don't win by volume.
		if len(toks) > 0 {
			s /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, s}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	// Roughly one sentence per 150 words of text, bounded.
	keep := len(strings.Fields(full.Content)) / 150
	if keep < 3 {
		keep = 3
	}
	if keep > 40 {
		keep = 40
	}
	if keep > len(scores) {
		keep = len(scores)
	}

	selected := make([]int, keep)
	for i := 0; i < keep; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)

	var out []string
	for _, idx := range selected {
		out = append(out, strings.TrimSpace(sentences[idx]))
	}
	return &Result{Content: strings.Join(out, " "), Warnings: full.Warnings}
}

// buildQuotes collects quotation-delimited passages and, when a chapter has
// none, its single most salient short sentence.
func buildQuotes(chunks []*store.ChunkRecord) *Result {
	res := &Result{}
	var sb strings.Builder
	seen := map[string]bool{}

	emit := func(chapter int, title, quote string) {
		quote = strings.TrimSpace(quote)
		if quote == "" || seen[quote] {
			return
		}
		seen[quote] = true
		fmt.Fprintf(&sb, "ch. %d (%s): %s\n", chapter, title, quote)
	}

	for _, c := range chunks {
		for _, q := range extractQuoted(c.Content) {
			if len(q) >= 20 && len(q) <= 400 {
				emit(c.ChapterNumber, c.ChapterTitle, q)
			}
		}
	}

	// Chapters without dialogue still contribute one strong sentence.
	covered := map[int]bool{}
	for _, c := range chunks {
		if strings.Contains(sb.String(), fmt.Sprintf("ch. %d ", c.ChapterNumber)) {
			covered[c.ChapterNumber] = true
		}
	}
	for _, c := range chunks {
		if covered[c.ChapterNumber] {
			continue
		}
		covered[c.ChapterNumber] = true
		if s := bestShortSentence(c.Content); s != "" {
			emit(c.ChapterNumber, c.ChapterTitle, s)
		}
	}

	res.Content = sb.String()
	return res
}

// extractQuoted returns "..." and “...” delimited passages.
func extractQuoted(text string) []string {
	var out []string

	// ASCII double quotes toggle open/close.
	start := -1
	for i, r := range text {
		if r != '"' {
			continue
		}
		if start < 0 {
			start = i + 1
		} else {
			out = append(out, text[start:i])
			start = -1
		}
	}

	// Typographic quotes have distinct open and close runes.
	start = -1
	for i, r := range text {
		switch r {
		case '“':
			start = i + len("“")
		case '”':
			if start >= 0 {
				out = append(out, text[start:i])
				start = -1
			}
		}
	}
	return out
}

// bestShortSentence picks the highest-frequency-scored sentence under 200
// characters.
func bestShortSentence(text string) string {
	sentences := sentencePattern.FindAllString(text, -1)
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range tokens(sent) {
			if !stopwords[tok] {
				freq[tok]++
			}
		}
	}
	best, bestScore := "", 0.0
	for _, sent := range sentences {
		trimmed := strings.TrimSpace(sent)
		if len(trimmed) < 20 || len(trimmed) > 200 {
			continue
		}
		s := 0.0
		toks := tokens(sent)
		for _, tok := range toks {
			s += freq[tok]
		}
		if len(toks) > 0 {
			s /= math.Sqrt(float64(len(toks)))
		}
		if s > bestScore {
			best, bestScore = trimmed, s
		}
	}
	return best
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

var stopwords = func() map[string]bool {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for",
		"to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was",
		"were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after",
		"out", "off", "own", "same", "too", "very", "can", "will", "just",
		"he", "she", "his", "her", "they", "them", "their", "had", "has",
		"have", "not", "no", "said",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()
