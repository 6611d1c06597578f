package platform

import (
	"context"
	"fmt"

	yt "google.golang.org/api/youtube/v3"
)

// YouTubeAdapter probes the Data API with an API key. External ids are channel
// ids; a live broadcast is found via search(eventType=live), then the video is
// fetched for concurrent-viewer and title details.
type YouTubeAdapter struct {
	svc *yt.Service
}

// NewYouTube wraps an already-constructed service so tests can point it at a
// mock endpoint (option.WithEndpoint + option.WithAPIKey in main).
func NewYouTube(svc *yt.Service) *YouTubeAdapter {
	return &YouTubeAdapter{svc: svc}
}

func (y *YouTubeAdapter) Platform() Name     { return YouTube }
func (y *YouTubeAdapter) NeedsBrowser() bool { return false }

func (y *YouTubeAdapter) Probe(ctx context.Context, ref Ref, _ *Session) (LiveStatus, error) {
	st := LiveStatus{URL: "https://www.youtube.com/channel/" + ref.ExternalID}

	search, err := y.svc.Search.List([]string{"snippet"}).
		ChannelId(ref.ExternalID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return LiveStatus{}, fmt.Errorf("youtube live search: %w", err)
	}
	if len(search.Items) == 0 {
		return st, nil
	}
	videoID := search.Items[0].Id.VideoId

	videos, err := y.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).
		Id(videoID).
		Context(ctx).
		Do()
	if err != nil {
		return LiveStatus{}, fmt.Errorf("youtube video lookup: %w", err)
	}
	if len(videos.Items) == 0 {
		// the broadcast ended between the two calls
		return st, nil
	}
	v := videos.Items[0]
	st.IsLive = true
	st.URL = "https://www.youtube.com/watch?v=" + videoID
	if v.Snippet != nil {
		st.Title = v.Snippet.Title
		st.DisplayName = v.Snippet.ChannelTitle
		if v.Snippet.Thumbnails != nil && v.Snippet.Thumbnails.High != nil {
			st.ThumbnailURL = v.Snippet.Thumbnails.High.Url
		}
	}
	if v.LiveStreamingDetails != nil {
		st.ViewerCount = int(v.LiveStreamingDetails.ConcurrentViewers)
		if v.LiveStreamingDetails.ActualEndTime != "" {
			st.IsLive = false
		}
	}
	return st, nil
}
