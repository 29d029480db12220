package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMovie(t *testing.T) {
	m := Parse("Example.Movie.2020.1080p.BluRay.x265.10bit.DDP.5.1.Atmos-GROUP")
	require.Equal(t, "Example Movie", m.Title)
	require.Equal(t, 2020, m.Year)
	require.Equal(t, "1080p", m.Resolution)
	require.Equal(t, "BLURAY", m.Quality)
	require.Equal(t, "x265", m.Codec)
	require.Equal(t, 10, m.BitDepth)
	require.Contains(t, m.AudioFormats, "ATMOS")
	require.Contains(t, m.Channels, "5.1")
	require.Empty(t, m.Seasons)
	require.Empty(t, m.Episodes)
}

func TestParseSeries(t *testing.T) {
	m := Parse("Example.Show.S02E05.720p.WEB-DL.x264")
	require.Equal(t, "Example Show", m.Title)
	require.Equal(t, []int{2}, m.Seasons)
	require.Equal(t, []int{5}, m.Episodes)
	require.Equal(t, "720p", m.Resolution)
	require.Equal(t, "WEBDL", m.Quality)
}

func TestParseSeasonRange(t *testing.T) {
	m := Parse("Example Show S01-S03 Complete 1080p")
	require.Equal(t, []int{1, 2, 3}, m.Seasons)
	require.True(t, m.IsComplete)
}

func TestParseEpisodeRange(t *testing.T) {
	m := Parse("Example.Show.S01E01-E03.1080p")
	require.Equal(t, []int{1}, m.Seasons)
	require.Equal(t, []int{1, 2, 3}, m.Episodes)
}

func TestParseXFormat(t *testing.T) {
	m := Parse("Example Show 2x04 HDTV")
	require.Equal(t, []int{2}, m.Seasons)
	require.Equal(t, []int{4}, m.Episodes)
}

func TestParseFlagsAndLanguages(t *testing.T) {
	m := Parse("Example.Movie.2019.PROPER.EXTENDED.REMASTERED.MULTI.1080p.WEBRip")
	require.True(t, m.IsProper)
	require.True(t, m.IsExtended)
	require.True(t, m.IsRemastered)
	require.Contains(t, m.Languages, "multi")
}

func TestParseHDR(t *testing.T) {
	m := Parse("Example.Movie.2022.2160p.WEB-DL.HDR10+.DV.x265")
	require.Equal(t, "2160p", m.Resolution)
	require.Contains(t, m.HDRFormats, "HDR10+")
	require.Contains(t, m.HDRFormats, "DV")
}

func TestParseSeasonEpisodeFallbacks(t *testing.T) {
	for _, tc := range []struct {
		name          string
		defaultSeason int
		season        int
		episode       int
		ok            bool
	}{
		{"Example.Show.S01E04.mkv", 0, 1, 4, true},
		{"example show 3x12.mp4", 0, 3, 12, true},
		{"Example Show Season 2 Episode 7.avi", 0, 2, 7, true},
		{"Example.Series.1.Ep.09.mkv", 0, 1, 9, true},
		{"Example Show [1x04].mkv", 0, 1, 4, true},
		{"Example Show 2.05.mkv", 0, 2, 5, true},
		{"Example Show - 12.mkv", 3, 3, 12, true},
		{"Example_Show_e07.mkv", 2, 2, 7, true},
		{"Example Show Episode 113.mkv", 0, 1, 113, true},
		{"Example Show 042.mkv", 5, 5, 42, true},
		// Hex fragments must never parse as episodes.
		{"b6e3a4021f9c5e12.mkv", 0, 0, 0, false},
		{"Example Movie 2020.mkv", 0, 0, 0, false},
	} {
		season, episode, ok := ParseSeasonEpisode(tc.name, tc.defaultSeason)
		require.Equal(t, tc.ok, ok, tc.name)
		if tc.ok {
			require.Equal(t, tc.season, season, tc.name)
			require.Equal(t, tc.episode, episode, tc.name)
		}
	}
}

func TestExtractDate(t *testing.T) {
	date, ok := ExtractDate("Daily.Show.2024.03.05.Guest.Name.720p.mkv")
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), date)

	_, ok = ExtractDate("Example.Show.S01E01.mkv")
	require.False(t, ok)
}

func TestIsVideoFile(t *testing.T) {
	require.True(t, IsVideoFile("a/b/movie.mkv"))
	require.True(t, IsVideoFile("movie.MP4"))
	require.False(t, IsVideoFile("movie.nfo"))
	require.False(t, IsVideoFile("movie.srt"))
}
