package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// KickAdapter probes Kick's public channel endpoint. No authentication: the
// v2 channels endpoint is open, and a 404 means the slug is unknown or the
// channel was removed, which degrades to "not live" rather than a failure.
type KickAdapter struct {
	HTTPClient *http.Client
	APIBase    string // defaults to https://kick.com
}

func NewKick() *KickAdapter { return &KickAdapter{} }

func (k *KickAdapter) Platform() Name     { return Kick }
func (k *KickAdapter) NeedsBrowser() bool { return false }

func (k *KickAdapter) http() *http.Client {
	if k.HTTPClient != nil {
		return k.HTTPClient
	}
	return http.DefaultClient
}

func (k *KickAdapter) base() string {
	if k.APIBase != "" {
		return k.APIBase
	}
	return "https://kick.com"
}

func (k *KickAdapter) Probe(ctx context.Context, ref Ref, _ *Session) (LiveStatus, error) {
	slug := strings.ToLower(ref.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.base()+"/api/v2/channels/"+slug, nil)
	if err != nil {
		return LiveStatus{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := k.http().Do(req)
	if err != nil {
		return LiveStatus{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		// unknown slug is not an error; the channel simply isn't live
		return LiveStatus{URL: "https://kick.com/" + slug}, nil
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return LiveStatus{}, fmt.Errorf("kick channel request failed: %s: %s", resp.Status, string(b))
	}
	var body struct {
		User struct {
			Username   string `json:"username"`
			ProfilePic string `json:"profile_pic"`
		} `json:"user"`
		Livestream *struct {
			IsLive       bool   `json:"is_live"`
			SessionTitle string `json:"session_title"`
			ViewerCount  int    `json:"viewer_count"`
			Categories   []struct {
				Name string `json:"name"`
			} `json:"categories"`
			Thumbnail struct {
				URL string `json:"url"`
			} `json:"thumbnail"`
		} `json:"livestream"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LiveStatus{}, fmt.Errorf("kick channel decode failed: %w", err)
	}
	st := LiveStatus{
		URL:             "https://kick.com/" + slug,
		DisplayName:     body.User.Username,
		ProfileImageURL: body.User.ProfilePic,
	}
	if body.Livestream == nil || !body.Livestream.IsLive {
		return st, nil
	}
	st.IsLive = true
	st.Title = body.Livestream.SessionTitle
	st.ViewerCount = body.Livestream.ViewerCount
	st.ThumbnailURL = body.Livestream.Thumbnail.URL
	if len(body.Livestream.Categories) > 0 {
		st.Game = body.Livestream.Categories[0].Name
	}
	return st, nil
}
