package ingest

import (
	"strings"

	"github.com/hazyhaar/liber/bookpipe"
)

// genreLexicons maps genres to marker vocabulary. Classification is a plain
// lexicon vote over a sample of the text; it only annotates when one genre
// clearly dominates, otherwise the book stays unclassified.
var genreLexicons = map[string][]string{
	"science-fiction": {
		"planet", "spaceship", "starship", "galaxy", "alien", "robot",
		"android", "laser", "orbit", "colony", "terraform", "hyperspace",
		"cyborg", "interstellar", "asteroid", "mutant",
	},
	"fantasy": {
		"wizard", "dragon", "sword", "kingdom", "magic", "sorcerer", "elf",
		"dwarf", "quest", "prophecy", "spell", "castle", "throne", "realm",
		"enchanted", "witch",
	},
	"mystery": {
		"detective", "murder", "clue", "suspect", "alibi", "inspector",
		"witness", "corpse", "investigation", "motive", "crime", "victim",
		"evidence", "confession",
	},
	"romance": {
		"love", "heart", "kiss", "passion", "embrace", "wedding", "bride",
		"darling", "tender", "longing", "desire", "sweetheart",
	},
	"history": {
		"emperor", "empire", "treaty", "revolution", "regiment", "dynasty",
		"parliament", "colonial", "reign", "monarchy", "battlefield",
		"campaign", "armistice",
	},
}

// classifySampleWords caps how much text the classifier reads.
const classifySampleWords = 20000

// minGenreVotes and minGenreShare gate annotation: too few markers or no
// clear winner leaves the genre empty.
const (
	minGenreVotes = 10
	minGenreShare = 0.45
)

// ClassifyGenre votes genre lexicons over a sample of the book text.
// Returns ("", 0) when no genre is confident enough.
func ClassifyGenre(book *bookpipe.Book) (string, float64) {
	votes := map[string]int{}
	total := 0
	sampled := 0

	marker := map[string]string{}
	for genre, words := range genreLexicons {
		for _, w := range words {
			marker[w] = genre
		}
	}

	for _, n := range book.Nodes {
		if sampled >= classifySampleWords {
			break
		}
		for _, w := range strings.Fields(n.Text) {
			sampled++
			if sampled > classifySampleWords {
				break
			}
			w = strings.Trim(strings.ToLower(w), ".,;:!?\"'()[]“”’—-")
			if g, ok := marker[w]; ok {
				votes[g]++
				total++
			}
		}
	}

	if total < minGenreVotes {
		return "", 0
	}

	best, bestVotes := "", 0
	for g, v := range votes {
		if v > bestVotes || (v == bestVotes && g < best) {
			best, bestVotes = g, v
		}
	}
	share := float64(bestVotes) / float64(total)
	if share < minGenreShare {
		return "", 0
	}
	return best, share
}
