package scraper

import (
	"sort"
	"strings"
	"sync"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/parser"
)

// Skip reasons, counted per validator.
const (
	SkipAdultContent    = "Adult content"
	SkipTitleMismatch   = "Title mismatch"
	SkipYearMismatch    = "Year mismatch"
	SkipSeriesOnMovie   = "Series naming on movie"
	SkipMissingSeason   = "Missing season"
	SkipSeasonMismatch  = "Season mismatch"
	SkipEpisodeMismatch = "Episode mismatch"
	SkipIncomplete      = "Incomplete record"
)

var adultKeywords = []string{
	"xxx", "porn", "erotic", "18+", "milf", "hentai", "brazzers",
	"playboy", "penthouse", "onlyfans", "nsfw",
}

// Validator applies the shared release checks and annotates accepted records
// with the parsed quality attributes. Safe for concurrent use.
type Validator struct {
	// Threshold is the minimum title-similarity percentage, 70-85 depending
	// on how much the scraper's results can be trusted.
	Threshold int

	mu          sync.Mutex
	skipReasons map[string]int
}

func NewValidator(threshold int) *Validator {
	if threshold == 0 {
		threshold = 85
	}
	return &Validator{Threshold: threshold, skipReasons: map[string]int{}}
}

func (v *Validator) skip(reason string) bool {
	v.mu.Lock()
	v.skipReasons[reason]++
	v.mu.Unlock()
	return false
}

// SkipReasons returns a copy of the rejection counters.
func (v *Validator) SkipReasons() map[string]int {
	v.mu.Lock()
	defer v.mu.Unlock()
	reasons := make(map[string]int, len(v.skipReasons))
	for reason, count := range v.skipReasons {
		reasons[reason] = count
	}
	return reasons
}

// Validate checks one record against the query's media and fills the
// stream's quality attributes from the parsed release name. Returns false
// when the record must be dropped.
func (v *Validator) Validate(rec *catalog.Record, q Query) bool {
	if rec.Stream.Name == "" || NaturalKey(rec) == "" {
		return v.skip(SkipIncomplete)
	}
	if IsAdultTitle(rec.Stream.Name) {
		return v.skip(SkipAdultContent)
	}

	meta := parser.Parse(rec.Stream.Name)
	if MaxSimilarity(meta.Title, q.Media.Title, q.Media.AkaTitles) < v.Threshold {
		return v.skip(SkipTitleMismatch)
	}

	if q.IsSeries() {
		if len(meta.Seasons) == 0 {
			return v.skip(SkipMissingSeason)
		}
		if q.Season > 0 && !containsInt(meta.Seasons, q.Season) {
			return v.skip(SkipSeasonMismatch)
		}
		// A parsed season without episode numbers is a season pack.
		if len(meta.Episodes) == 0 {
			meta.IsComplete = true
		} else if q.Episode > 0 && !containsInt(meta.Episodes, q.Episode) {
			return v.skip(SkipEpisodeMismatch)
		}
	} else {
		if len(meta.Seasons) > 0 || len(meta.Episodes) > 0 {
			return v.skip(SkipSeriesOnMovie)
		}
		if meta.Year != q.Media.Year {
			return v.skip(SkipYearMismatch)
		}
	}

	annotate(&rec.Stream, meta)
	return true
}

func annotate(s *catalog.Stream, meta parser.Metadata) {
	s.Resolution = meta.Resolution
	s.Quality = meta.Quality
	s.Codec = meta.Codec
	s.BitDepth = meta.BitDepth
	s.Languages = meta.Languages
	s.AudioFormats = meta.AudioFormats
	s.Channels = meta.Channels
	s.HDRFormats = meta.HDRFormats
	s.IsProper = meta.IsProper
	s.IsRepack = meta.IsRepack
	s.IsExtended = meta.IsExtended
	s.IsDubbed = meta.IsDubbed
	s.IsSubbed = meta.IsSubbed
	s.IsComplete = meta.IsComplete
	s.IsRemastered = meta.IsRemastered
	s.IsUpscaled = meta.IsUpscaled
}

// IsAdultTitle reports whether the release name contains a blacklisted
// keyword.
func IsAdultTitle(name string) bool {
	lower := strings.ToLower(name)
	for _, keyword := range adultKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// MaxSimilarity returns the best token-set similarity (0-100) between the
// parsed title and the canonical title plus all aka titles.
func MaxSimilarity(parsed, title string, akaTitles []string) int {
	best := Similarity(parsed, title)
	for _, aka := range akaTitles {
		if s := Similarity(parsed, aka); s > best {
			best = s
		}
	}
	return best
}

// Similarity is a token-set ratio: the token sets' intersection size over
// the smaller set's size, in percent. Order-insensitive, so "The Matrix"
// matches "Matrix, The".
func Similarity(a, b string) int {
	tokensA := titleTokens(a)
	tokensB := titleTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}
	if len(tokensB) < len(tokensA) {
		tokensA, tokensB = tokensB, tokensA
	}
	set := make(map[string]bool, len(tokensB))
	for _, token := range tokensB {
		set[token] = true
	}
	matched := 0
	for _, token := range tokensA {
		if set[token] {
			matched++
		}
	}
	return matched * 100 / len(tokensA)
}

var titleCleaner = strings.NewReplacer(
	".", " ", "_", " ", "-", " ", ":", " ", ",", " ", "'", "",
	"(", " ", ")", " ", "[", " ", "]", " ", "&", "and",
)

func titleTokens(title string) []string {
	fields := strings.Fields(titleCleaner.Replace(strings.ToLower(title)))
	sort.Strings(fields)
	// Dedup keeps repeated words from inflating the ratio.
	tokens := fields[:0]
	for i, field := range fields {
		if i == 0 || field != fields[i-1] {
			tokens = append(tokens, field)
		}
	}
	return tokens
}

func containsInt(values []int, want int) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
