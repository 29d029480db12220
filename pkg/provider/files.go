package provider

import (
	"path"
	"strings"
	"time"

	"github.com/doingodswork/streamfusion/pkg/parser"
)

// File is a provider-reported entry inside a container.
type File struct {
	Index int
	Name  string
	Size  int64
}

// EpisodeByDate resolves an air date to (season, episode) through the
// series' episode calendar.
type EpisodeByDate func(date time.Time) (season, episode int, ok bool)

var skipFileTokens = []string{"sample", "trailer", "extras/", "featurette"}

// SelectFile picks the file to stream out of a provider-reported list,
// following the catalog metadata first and falling back to name parsing.
func SelectFile(files []File, asset Asset, episodeByDate EpisodeByDate) (File, error) {
	// 1. Exact basename match on the catalog filename.
	if asset.Filename != "" {
		want := path.Base(asset.Filename)
		for _, f := range files {
			if path.Base(f.Name) == want {
				return f, nil
			}
		}
	}

	// 2. Trusted file index.
	if asset.FileIndex != nil {
		for _, f := range files {
			if f.Index == *asset.FileIndex {
				return f, nil
			}
		}
	}

	videos := videoFiles(files)
	if len(videos) == 0 {
		if asset.TrustedFiles {
			return File{}, NewError(ClipNoMatchingFile, "container of %v has no video file despite trusted metadata", asset.Name)
		}
		return File{}, NewError(ClipNoVideoFileFound, "container of %v has no video file", asset.Name)
	}

	// 3. Series: parse each video name for the wanted episode. Air dates in
	// the name win over parsed numbers when the calendar knows them.
	if asset.Season > 0 || asset.Episode > 0 {
		for _, f := range videos {
			season, episode, ok := episodeOf(f.Name, asset.Season, episodeByDate)
			if ok && season == asset.Season && episode == asset.Episode {
				return f, nil
			}
		}
		return File{}, NewError(ClipEpisodeNotFound, "no file in %v matches S%02dE%02d", asset.Name, asset.Season, asset.Episode)
	}

	// 4. Movies: the largest video file.
	largest := videos[0]
	for _, f := range videos[1:] {
		if f.Size > largest.Size {
			largest = f
		}
	}
	return largest, nil
}

// ParseFiles turns a provider listing into catalog file metadata, parsing
// season/episode out of each video name. Used by the metadata back-fill.
func ParseFiles(files []File, defaultSeason int, episodeByDate EpisodeByDate) []ParsedFile {
	result := make([]ParsedFile, 0, len(files))
	for _, f := range videoFiles(files) {
		pf := ParsedFile{File: f}
		pf.Season, pf.Episode, pf.OK = episodeOf(f.Name, defaultSeason, episodeByDate)
		result = append(result, pf)
	}
	return result
}

// ParsedFile is a video file with its parsed episode assignment.
type ParsedFile struct {
	File
	Season  int
	Episode int
	OK      bool
}

func episodeOf(name string, defaultSeason int, episodeByDate EpisodeByDate) (int, int, bool) {
	if episodeByDate != nil {
		if date, ok := parser.ExtractDate(name); ok {
			if season, episode, ok := episodeByDate(date); ok {
				return season, episode, true
			}
		}
	}
	return parser.ParseSeasonEpisode(name, defaultSeason)
}

func videoFiles(files []File) []File {
	var videos []File
	for _, f := range files {
		if !parser.IsVideoFile(f.Name) {
			continue
		}
		lower := strings.ToLower(f.Name)
		skip := false
		for _, token := range skipFileTokens {
			if strings.Contains(lower, token) {
				skip = true
				break
			}
		}
		if !skip {
			videos = append(videos, f)
		}
	}
	return videos
}
