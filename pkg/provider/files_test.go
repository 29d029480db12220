package provider

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSelectFileByFilename(t *testing.T) {
	files := []File{
		{Index: 0, Name: "Example.Show.S01E01.mkv", Size: 100},
		{Index: 1, Name: "Example.Show.S01E02.mkv", Size: 100},
	}
	f, err := SelectFile(files, Asset{Filename: "some/path/Example.Show.S01E02.mkv"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.Index)
}

func TestSelectFileByIndex(t *testing.T) {
	idx := 2
	files := []File{
		{Index: 0, Name: "a.mkv"},
		{Index: 2, Name: "b.mkv"},
	}
	f, err := SelectFile(files, Asset{FileIndex: &idx}, nil)
	require.NoError(t, err)
	require.Equal(t, "b.mkv", f.Name)
}

func TestSelectFileSeriesFallbackParse(t *testing.T) {
	files := []File{
		{Index: 0, Name: "Example Show - 01.mkv", Size: 100},
		{Index: 1, Name: "Example Show - 02.mkv", Size: 100},
		{Index: 2, Name: "Example Show - 03.mkv", Size: 100},
		{Index: 3, Name: "readme.nfo", Size: 1},
	}
	f, err := SelectFile(files, Asset{Season: 1, Episode: 2}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, f.Index)
}

func TestSelectFileEpisodeNotFound(t *testing.T) {
	files := []File{{Index: 0, Name: "Example.Show.S01E01.mkv", Size: 100}}
	_, err := SelectFile(files, Asset{Name: "pack", Season: 1, Episode: 9}, nil)
	var provErr *Error
	require.True(t, errors.As(err, &provErr))
	require.Equal(t, ClipEpisodeNotFound, provErr.Clip)
}

func TestSelectFileNoVideo(t *testing.T) {
	files := []File{{Index: 0, Name: "readme.txt"}}

	_, err := SelectFile(files, Asset{Name: "x"}, nil)
	require.Equal(t, ClipNoVideoFileFound, ClipFor(err))

	_, err = SelectFile(files, Asset{Name: "x", TrustedFiles: true}, nil)
	require.Equal(t, ClipNoMatchingFile, ClipFor(err))
}

func TestSelectFileLargestVideo(t *testing.T) {
	files := []File{
		{Index: 0, Name: "movie-sample.mkv", Size: 5000},
		{Index: 1, Name: "movie.mkv", Size: 4000},
		{Index: 2, Name: "bonus.mkv", Size: 1000},
	}
	f, err := SelectFile(files, Asset{}, nil)
	require.NoError(t, err)
	require.Equal(t, "movie.mkv", f.Name, "sample files are never picked")
}

func TestSelectFileByAirDate(t *testing.T) {
	files := []File{
		{Index: 0, Name: "Daily.Show.2024.03.04.mkv", Size: 100},
		{Index: 1, Name: "Daily.Show.2024.03.05.mkv", Size: 100},
	}
	calendar := func(date time.Time) (int, int, bool) {
		if date.Equal(time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)) {
			return 29, 31, true
		}
		return 0, 0, false
	}
	f, err := SelectFile(files, Asset{Season: 29, Episode: 31}, calendar)
	require.NoError(t, err)
	require.Equal(t, 1, f.Index)
}

func TestClipFor(t *testing.T) {
	require.Equal(t, ClipTooManyRequests, ClipFor(NewError(ClipTooManyRequests, "slow down")))
	require.Equal(t, ClipAPIError, ClipFor(errors.New("unmapped")))
}

func TestParseFiles(t *testing.T) {
	files := []File{
		{Index: 0, Name: "Example.Show.S02E01.mkv", Size: 100},
		{Index: 1, Name: "Example.Show.S02E02.mkv", Size: 100},
		{Index: 2, Name: "cover.jpg", Size: 1},
	}
	parsed := ParseFiles(files, 2, nil)
	require.Len(t, parsed, 2)
	require.True(t, parsed[0].OK)
	require.Equal(t, 2, parsed[0].Season)
	require.Equal(t, 1, parsed[0].Episode)
}
