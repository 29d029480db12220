// Package parser extracts structured metadata from torrent, NZB and media
// file names. It is deliberately permissive: unknown tokens are ignored and
// every field is optional.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// Metadata is the structured form of a release name.
type Metadata struct {
	Title string
	Year  int

	Seasons  []int
	Episodes []int

	Resolution string
	Quality    string
	Codec      string
	BitDepth   int

	AudioFormats []string
	Channels     []string
	HDRFormats   []string
	Languages    []string

	IsProper     bool
	IsRepack     bool
	IsExtended   bool
	IsDubbed     bool
	IsSubbed     bool
	IsComplete   bool
	IsRemastered bool
	IsUpscaled   bool
}

var (
	yearRegex       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	resolutionRegex = regexp.MustCompile(`(?i)\b(2160p|1440p|1080p|720p|576p|480p|4k|uhd)\b`)
	qualityRegex    = regexp.MustCompile(`(?i)\b(blu[\s.-]?ray|bdrip|brrip|web[\s.-]?dl|webrip|hdtv|dvdrip|dvdscr|hdrip|cam|telesync|ts|tc|screener|remux)\b`)
	codecRegex      = regexp.MustCompile(`(?i)\b(x264|x265|h[\s.-]?264|h[\s.-]?265|hevc|avc|av1|xvid|divx|vp9)\b`)
	bitDepthRegex   = regexp.MustCompile(`(?i)\b(8|10|12)[\s.-]?bit\b`)
	audioRegex      = regexp.MustCompile(`(?i)\b(atmos|truehd|dts[\s.-]?(?:hd|x)?|ddp?|e?ac3|aac|flac|opus|mp3)\b`)
	channelsRegex   = regexp.MustCompile(`\b([257])\.([01])\b`)
	hdrRegex        = regexp.MustCompile(`(?i)\b(dolby[\s.-]?vision|dovi|dv|hdr10\+?|hdr|hlg|sdr)\b`)

	seasonRangeRegex = regexp.MustCompile(`(?i)\bs(?:easons?)?[\s.-]*(\d{1,2})[\s.-]*(?:-|to|thru)[\s.-]*s?(\d{1,2})\b`)
	seasonEpRegex    = regexp.MustCompile(`(?i)\bs(\d{1,2})[\s.-]*e(\d{1,3})(?:[\s.-]*e(\d{1,3}))?\b`)
	seasonOnlyRegex  = regexp.MustCompile(`(?i)\bs(?:eason)?[\s.-]*(\d{1,2})\b`)
	xFormatRegex     = regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`)

	completeRegex = regexp.MustCompile(`(?i)\b(complete|full[\s.-]?series|all[\s.-]?seasons?|collection|batch)\b`)

	languageTokens = map[string]string{
		"english": "en", "eng": "en",
		"french": "fr", "vostfr": "fr", "fre": "fr",
		"german": "de", "ger": "de",
		"spanish": "es", "castellano": "es", "latino": "es",
		"italian": "it", "ita": "it",
		"hindi": "hi", "tamil": "ta", "telugu": "te", "malayalam": "ml", "kannada": "kn",
		"japanese": "ja", "jpn": "ja",
		"korean": "ko", "kor": "ko",
		"russian": "ru", "rus": "ru",
		"portuguese": "pt", "dublado": "pt",
		"multi": "multi", "dual": "multi",
	}

	separatorReplacer = strings.NewReplacer(".", " ", "_", " ", "[", " ", "]", " ", "(", " ", ")", " ", "{", " ", "}", " ")
)

// Parse extracts metadata from the release name. The title is everything
// before the first recognized token.
func Parse(name string) Metadata {
	m := Metadata{}
	normalized := separatorReplacer.Replace(name)

	titleEnd := len(normalized)
	markTitle := func(loc []int) {
		if loc != nil && loc[0] < titleEnd {
			titleEnd = loc[0]
		}
	}

	if loc := resolutionRegex.FindStringIndex(normalized); loc != nil {
		m.Resolution = normalizeResolution(normalized[loc[0]:loc[1]])
		markTitle(loc)
	}
	if loc := qualityRegex.FindStringIndex(normalized); loc != nil {
		m.Quality = strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(normalized[loc[0]:loc[1]], " ", ""), "-", ""))
		markTitle(loc)
	}
	if loc := codecRegex.FindStringIndex(normalized); loc != nil {
		m.Codec = strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(normalized[loc[0]:loc[1]], " ", ""), "-", ""))
		markTitle(loc)
	}
	if match := bitDepthRegex.FindStringSubmatch(normalized); match != nil {
		m.BitDepth, _ = strconv.Atoi(match[1])
	}
	for _, match := range audioRegex.FindAllString(normalized, -1) {
		m.AudioFormats = appendUnique(m.AudioFormats, strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(match, " ", ""), "-", "")))
	}
	// Channel layouts keep their dots, so they match against the raw name.
	for _, match := range channelsRegex.FindAllString(name, -1) {
		m.Channels = appendUnique(m.Channels, match)
	}
	for _, match := range hdrRegex.FindAllString(normalized, -1) {
		m.HDRFormats = appendUnique(m.HDRFormats, normalizeHDR(match))
	}

	m.parseSeasonsEpisodes(normalized, markTitle)

	// The year must come after the season parse: "1923 S01" is a title.
	if match := yearRegex.FindAllStringSubmatchIndex(normalized, -1); match != nil {
		// Prefer the last year in the name; earlier ones tend to be part of
		// the title.
		last := match[len(match)-1]
		if last[0] < titleEnd || len(match) == 1 {
			m.Year, _ = strconv.Atoi(normalized[last[2]:last[3]])
			if len(match) == 1 {
				markTitle(last)
			}
		} else {
			m.Year, _ = strconv.Atoi(normalized[last[2]:last[3]])
		}
	}

	lower := strings.ToLower(normalized)
	m.IsProper = containsWord(lower, "proper")
	m.IsRepack = containsWord(lower, "repack") || containsWord(lower, "rerip")
	m.IsExtended = containsWord(lower, "extended") || containsWord(lower, "uncut")
	m.IsDubbed = containsWord(lower, "dubbed") || containsWord(lower, "dub")
	m.IsSubbed = containsWord(lower, "subbed") || containsWord(lower, "subs") || containsWord(lower, "esub") || containsWord(lower, "esubs")
	m.IsRemastered = containsWord(lower, "remastered") || containsWord(lower, "restored")
	m.IsUpscaled = containsWord(lower, "upscaled") || containsWord(lower, "ai-upscaled")
	if completeRegex.MatchString(normalized) {
		m.IsComplete = true
	}

	for token, lang := range languageTokens {
		if containsWord(lower, token) {
			m.Languages = appendUnique(m.Languages, lang)
		}
	}

	title := strings.TrimSpace(normalized[:titleEnd])
	title = strings.Trim(title, "-– ")
	m.Title = strings.Join(strings.Fields(title), " ")

	return m
}

func (m *Metadata) parseSeasonsEpisodes(normalized string, markTitle func([]int)) {
	if match := seasonRangeRegex.FindStringSubmatchIndex(normalized); match != nil {
		from, _ := strconv.Atoi(normalized[match[2]:match[3]])
		to, _ := strconv.Atoi(normalized[match[4]:match[5]])
		for s := from; s <= to && s-from < 50; s++ {
			m.Seasons = append(m.Seasons, s)
		}
		markTitle(match[:2])
		return
	}
	if match := seasonEpRegex.FindStringSubmatchIndex(normalized); match != nil {
		season, _ := strconv.Atoi(normalized[match[2]:match[3]])
		episode, _ := strconv.Atoi(normalized[match[4]:match[5]])
		m.Seasons = []int{season}
		m.Episodes = []int{episode}
		if match[6] != -1 {
			episodeTo, _ := strconv.Atoi(normalized[match[6]:match[7]])
			for e := episode + 1; e <= episodeTo && e-episode < 100; e++ {
				m.Episodes = append(m.Episodes, e)
			}
		}
		markTitle(match[:2])
		return
	}
	if match := xFormatRegex.FindStringSubmatchIndex(normalized); match != nil {
		season, _ := strconv.Atoi(normalized[match[2]:match[3]])
		episode, _ := strconv.Atoi(normalized[match[4]:match[5]])
		m.Seasons = []int{season}
		m.Episodes = []int{episode}
		markTitle(match[:2])
		return
	}
	if match := seasonOnlyRegex.FindStringSubmatchIndex(normalized); match != nil {
		season, _ := strconv.Atoi(normalized[match[2]:match[3]])
		m.Seasons = []int{season}
		markTitle(match[:2])
	}
}

func normalizeResolution(s string) string {
	s = strings.ToLower(s)
	if s == "4k" || s == "uhd" {
		return "2160p"
	}
	return s
}

func normalizeHDR(s string) string {
	switch strings.ToLower(strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), ".", "")) {
	case "dolbyvision", "dovi", "dv":
		return "DV"
	case "hdr10+":
		return "HDR10+"
	case "hdr10":
		return "HDR10"
	case "hlg":
		return "HLG"
	case "sdr":
		return "SDR"
	default:
		return "HDR"
	}
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

func containsWord(haystack, word string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], word)
		if i == -1 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlnum(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
