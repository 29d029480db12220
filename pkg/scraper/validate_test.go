package scraper

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/catalog"
)

func movieQuery() Query {
	return Query{Media: catalog.Media{
		ID: 1, Type: catalog.TypeMovie, Title: "Example Movie", Year: 2020,
		AkaTitles: []string{"Beispielfilm"},
	}}
}

func seriesQuery(season, episode int) Query {
	return Query{
		Media:  catalog.Media{ID: 2, Type: catalog.TypeSeries, Title: "Example Show"},
		Season: season, Episode: episode,
	}
}

func torrentRecord(name string) *catalog.Record {
	return &catalog.Record{
		Stream:  catalog.Stream{Name: name, Source: "test", Size: 1000},
		Torrent: &catalog.TorrentStream{InfoHash: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"},
	}
}

func TestValidateMovie(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Example.Movie.2020.1080p.BluRay.x264")
	require.True(t, v.Validate(rec, movieQuery()))
	require.Equal(t, "1080p", rec.Stream.Resolution)
	require.Equal(t, "x264", rec.Stream.Codec)
}

func TestValidateMovieAkaTitle(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Beispielfilm.2020.720p.WEB-DL")
	require.True(t, v.Validate(rec, movieQuery()))
}

func TestValidateAdultRejection(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Example.Movie.XXX.2020.1080p")
	require.False(t, v.Validate(rec, movieQuery()))
	require.Equal(t, 1, v.SkipReasons()[SkipAdultContent])
}

func TestValidateTitleMismatch(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Totally.Different.Film.2020.1080p")
	require.False(t, v.Validate(rec, movieQuery()))
	require.Equal(t, 1, v.SkipReasons()[SkipTitleMismatch])
}

func TestValidateYearMismatch(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Example.Movie.2019.1080p.BluRay")
	require.False(t, v.Validate(rec, movieQuery()))
	require.Equal(t, 1, v.SkipReasons()[SkipYearMismatch])
}

func TestValidateSeriesNamingOnMovie(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Example.Movie.S01E02.1080p")
	require.False(t, v.Validate(rec, movieQuery()))
	require.Equal(t, 1, v.SkipReasons()[SkipSeriesOnMovie])
}

func TestValidateSeriesEpisode(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Example.Show.S01E02.1080p.WEB-DL.x265")
	require.True(t, v.Validate(rec, seriesQuery(1, 2)))
	require.False(t, rec.Stream.IsComplete)
}

func TestValidateSeriesSeasonPack(t *testing.T) {
	v := NewValidator(85)
	rec := torrentRecord("Example.Show.S01.Complete.1080p.WEB-DL")
	require.True(t, v.Validate(rec, seriesQuery(1, 2)))
	require.True(t, rec.Stream.IsComplete)
}

func TestValidateSeriesMismatches(t *testing.T) {
	v := NewValidator(85)

	require.False(t, v.Validate(torrentRecord("Example.Show.1080p.WEB-DL"), seriesQuery(1, 2)))
	require.Equal(t, 1, v.SkipReasons()[SkipMissingSeason])

	require.False(t, v.Validate(torrentRecord("Example.Show.S03E02.1080p"), seriesQuery(1, 2)))
	require.Equal(t, 1, v.SkipReasons()[SkipSeasonMismatch])

	require.False(t, v.Validate(torrentRecord("Example.Show.S01E05.1080p"), seriesQuery(1, 2)))
	require.Equal(t, 1, v.SkipReasons()[SkipEpisodeMismatch])
}

func TestValidateIncompleteRecord(t *testing.T) {
	v := NewValidator(85)
	require.False(t, v.Validate(&catalog.Record{Stream: catalog.Stream{Name: "x"}}, movieQuery()))
	require.Equal(t, 1, v.SkipReasons()[SkipIncomplete])
}

func TestSimilarityWordOrder(t *testing.T) {
	require.Equal(t, 100, Similarity("The Example Movie", "Example Movie, The"))
	require.Less(t, Similarity("Some Other Film", "Example Movie"), 50)
}
