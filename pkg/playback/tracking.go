package playback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
	"github.com/doingodswork/streamfusion/pkg/provider"
)

const trackingTimeout = 30 * time.Second

// scheduleTracking records the playback off the request path. Failures are
// logged only.
func (c *Coordinator) scheduleTracking(req Request, row *catalog.StreamRow) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), trackingTimeout)
		defer cancel()

		service := ""
		if req.Provider != nil {
			service = req.Provider.Service
		}

		if req.UserData.IsAnonymous() {
			if err := c.store.IncrementPlaybackCount(ctx, row.ID); err != nil {
				c.logger.Error("Couldn't count playback", zap.Int64("streamID", row.ID), zap.Error(err))
			}
			return
		}

		userID := req.UserData.UserID
		if err := c.store.RecordPlayback(ctx, userID, row.ID, req.Season, req.Episode, service); err != nil {
			c.logger.Error("Couldn't record playback", zap.Int64("streamID", row.ID), zap.Error(err))
		}
		mediaID, err := c.store.PrimaryMediaForStream(ctx, row.ID)
		if err != nil {
			c.logger.Error("Couldn't resolve stream's media for tracking", zap.Int64("streamID", row.ID), zap.Error(err))
			return
		}
		if err = c.store.UpsertWatchHistory(ctx, userID, mediaID, req.Season, req.Episode, catalog.ActionWatched, service); err != nil {
			c.logger.Error("Couldn't update watch history", zap.Int64("mediaID", mediaID), zap.Error(err))
		}
		for _, s := range c.scrobblers {
			if err := s.Scrobble(ctx, userID, mediaID, req.Season, req.Episode); err != nil {
				c.logger.Warn("Scrobbler failed", zap.Error(err))
			}
		}
	}()
}

// scheduleAnnotation submits the container's file listing after a failed
// episode match. Shares the back-off guard with scheduleBackfill so one hash
// asks for annotation at most once per window.
func (c *Coordinator) scheduleAnnotation(row *catalog.StreamRow, resolver provider.Resolver, creds provider.Credentials, asset provider.Asset) {
	lister, ok := resolver.(FileLister)
	if !ok || row.InfoHash == "" || c.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), trackingTimeout)
		defer cancel()

		first, err := c.kvStore.Once(ctx, "annotation:"+row.InfoHash, annotationBackoff)
		if err != nil || !first {
			return
		}
		listing, err := lister.ListFiles(ctx, creds, asset)
		if err != nil || len(listing) == 0 {
			return
		}
		c.notifier.AnnotationNeeded(ctx, row.InfoHash, listing)
		c.logger.Info("Annotation needed after failed episode match", zap.String("infoHash", row.InfoHash))
	}()
}

// scheduleBackfill opportunistically persists the container's file listing
// when the adapter can report it, the stream's metadata is still sparse and
// no back-fill ran for this hash in the last three days.
func (c *Coordinator) scheduleBackfill(req Request, row *catalog.StreamRow, resolver provider.Resolver, creds provider.Credentials, asset provider.Asset) {
	lister, ok := resolver.(FileLister)
	if !ok || row.InfoHash == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), trackingTimeout)
		defer cancel()

		files, err := c.store.StreamFiles(ctx, row.ID)
		if err != nil || len(files) > 0 {
			return
		}
		first, err := c.kvStore.Once(ctx, "annotation:"+row.InfoHash, annotationBackoff)
		if err != nil || !first {
			return
		}

		listing, err := lister.ListFiles(ctx, creds, asset)
		if err != nil {
			c.logger.Debug("Couldn't list container files for back-fill", zap.Error(err))
			return
		}
		defaultSeason := req.Season
		parsed := provider.ParseFiles(listing, defaultSeason, nil)

		var discovered []catalog.StreamFile
		anyParsed := false
		for _, pf := range parsed {
			f := catalog.StreamFile{
				FileIndex: pf.Index,
				Filename:  pf.Name,
				Size:      pf.Size,
				FileType:  "video",
			}
			if pf.OK {
				f.Season, f.Episode = pf.Season, pf.Episode
				anyParsed = true
			}
			discovered = append(discovered, f)
		}
		if len(discovered) == 0 {
			return
		}

		if req.Season != 0 && len(discovered) > 1 && !anyParsed {
			// A multi-video series container nobody can parse needs a human.
			if c.notifier != nil {
				c.notifier.AnnotationNeeded(ctx, row.InfoHash, listing)
			}
			c.logger.Info("Annotation needed for series container", zap.String("infoHash", row.InfoHash))
			return
		}
		if err = c.store.BackfillStreamFiles(ctx, row.ID, discovered); err != nil {
			c.logger.Error("Couldn't back-fill stream files", zap.Int64("streamID", row.ID), zap.Error(err))
		}
	}()
}
