package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// The fallback patterns run over file names whose episode metadata is
// missing, most specific first. Patterns without a season group use the
// caller's default season.
type episodePattern struct {
	re            *regexp.Regexp
	hasSeason     bool
	defaultSeason bool
}

var episodePatterns = []episodePattern{
	{re: regexp.MustCompile(`(?i)\bs(\d{1,2})[\s._-]*e(\d{1,3})`), hasSeason: true},
	{re: regexp.MustCompile(`(?i)\b(\d{1,2})x(\d{2,3})\b`), hasSeason: true},
	{re: regexp.MustCompile(`(?i)season[\s._-]*(\d{1,2})[\s._-]*episode[\s._-]*(\d{1,3})`), hasSeason: true},
	{re: regexp.MustCompile(`(?i)series[\s._-]*(\d{1,2})[\s._-]*ep[\s._-]*(\d{1,3})`), hasSeason: true},
	{re: regexp.MustCompile(`(?i)[\[(]s?(\d{1,2})[xe](\d{2,3})[\])]`), hasSeason: true},
	{re: regexp.MustCompile(`\b(\d{1,2})\.(\d{2})\b`), hasSeason: true},
	{re: regexp.MustCompile(`(?i)(?:-[\s._]*|_e)(\d{2,3})\b`), defaultSeason: true},
	{re: regexp.MustCompile(`(?i)episode[\s._-]*(\d{1,3})`), defaultSeason: true},
	{re: regexp.MustCompile(`\b0(\d{2,3})\b`), defaultSeason: true},
}

var (
	videoExtRegex = regexp.MustCompile(`(?i)\.(mkv|mp4|avi|m4v|mov|wmv|flv|webm|mpg|mpeg|ts|m2ts)$`)
	dateRegex     = regexp.MustCompile(`\b(\d{4})[\s._-](\d{2})[\s._-](\d{2})\b`)
	hexRunRegex   = regexp.MustCompile(`[0-9a-fA-F]{8,}`)
)

// ParseSeasonEpisode runs the fallback pattern table over a file name.
// defaultSeason fills in for episode-only patterns (0 means season 1).
// Matches that look like fragments of a hex hash are rejected.
func ParseSeasonEpisode(filename string, defaultSeason int) (season, episode int, ok bool) {
	if defaultSeason == 0 {
		defaultSeason = 1
	}
	name := videoExtRegex.ReplaceAllString(baseName(filename), "")

	hexRuns := hexRunRegex.FindAllStringIndex(name, -1)

	for _, pattern := range episodePatterns {
		match := pattern.re.FindStringSubmatchIndex(name)
		if match == nil {
			continue
		}
		if insideHexRun(match[0], match[1], hexRuns) || hexNeighbors(name, match[0], match[1]) {
			continue
		}
		if pattern.hasSeason {
			season, _ = strconv.Atoi(name[match[2]:match[3]])
			episode, _ = strconv.Atoi(name[match[4]:match[5]])
		} else {
			season = defaultSeason
			episode, _ = strconv.Atoi(name[match[2]:match[3]])
		}
		if episode == 0 {
			continue
		}
		return season, episode, true
	}
	return 0, 0, false
}

// ExtractDate returns a YYYY-MM-DD style date embedded in the file name,
// used for daily shows whose files carry air dates instead of episode
// numbers.
func ExtractDate(filename string) (time.Time, bool) {
	match := dateRegex.FindStringSubmatch(baseName(filename))
	if match == nil {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(match[1])
	month, _ := strconv.Atoi(match[2])
	day, _ := strconv.Atoi(match[3])
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// IsVideoFile reports whether the file name has a playable video extension.
func IsVideoFile(filename string) bool {
	return videoExtRegex.MatchString(filename)
}

func baseName(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx != -1 {
		return path[idx+1:]
	}
	return path
}

func insideHexRun(start, end int, hexRuns [][]int) bool {
	for _, run := range hexRuns {
		if start >= run[0] && end <= run[1] {
			return true
		}
	}
	return false
}

// hexNeighbors rejects matches whose immediate neighbors are hex letters,
// a strong hint the digits are part of a hash.
func hexNeighbors(name string, start, end int) bool {
	isHexLetter := func(b byte) bool {
		return (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
	}
	if start > 0 && isHexLetter(name[start-1]) {
		return true
	}
	if end < len(name) && isHexLetter(name[end]) {
		return true
	}
	return false
}
