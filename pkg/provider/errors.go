package provider

import (
	"errors"
	"fmt"
)

// Failure clips. Every provider-side failure the player can observe maps to
// one of these pre-recorded assets; the playback coordinator redirects to
// assetURL/<clip>.
const (
	ClipInvalidToken            = "invalid_token.mp4"
	ClipInvalidCredentials      = "invalid_credentials.mp4"
	ClipNeedPremium             = "need_premium.mp4"
	ClipTooManyRequests         = "too_many_requests.mp4"
	ClipTransferError           = "transfer_error.mp4"
	ClipTorrentNotDownloaded    = "torrent_not_downloaded.mp4"
	ClipNoVideoFileFound        = "no_video_file_found.mp4"
	ClipNoMatchingFile          = "no_matching_file.mp4"
	ClipEpisodeNotFound         = "episode_not_found.mp4"
	ClipAPIError                = "api_error.mp4"
	ClipNotEnoughSpace          = "not_enough_space.mp4"
	ClipDailyDownloadLimit      = "daily_download_limit.mp4"
	ClipWebDAVError             = "webdav_error.mp4"
	ClipExceedRemoteTraffic     = "exceed_remote_traffic_limit.mp4"
	ClipServiceDown             = "debrid_service_down_error.mp4"
	ClipAllDebridAPIBlocked     = "alldebrid_api_blocked.mp4"
	ClipTorrentLimit            = "torrent_limit.mp4"
	ClipContentWarning          = "content_warning.mp4"
	ClipWatchlistDeleted        = "watchlist_deleted.mp4"
	ClipDownloadingInBackground = "downloading_in_background.mp4"
)

// Error is a well-defined provider failure tied to a clip. Providers return
// it for every condition the viewer should see explained in-player.
type Error struct {
	Clip string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (clip %v)", e.Msg, e.Clip)
}

// NewError builds a clip-tagged provider error.
func NewError(clip, format string, args ...interface{}) *Error {
	return &Error{Clip: clip, Msg: fmt.Sprintf(format, args...)}
}

// ClipFor maps any error to the clip the player should be redirected to.
// Unmapped errors surface as the generic API error clip.
func ClipFor(err error) string {
	var provErr *Error
	if errors.As(err, &provErr) {
		return provErr.Clip
	}
	return ClipAPIError
}

// clipForStatus maps common HTTP status codes of provider APIs to clips.
func clipForStatus(status int, service string) *Error {
	switch status {
	case 401, 403:
		return NewError(ClipInvalidToken, "%v rejected the API token (status %v)", service, status)
	case 402:
		return NewError(ClipNeedPremium, "%v requires a premium subscription", service)
	case 429:
		return NewError(ClipTooManyRequests, "%v rate limit hit", service)
	case 502, 503, 504:
		return NewError(ClipServiceDown, "%v is down (status %v)", service, status)
	default:
		return NewError(ClipAPIError, "%v returned status %v", service, status)
	}
}
