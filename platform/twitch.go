package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// The cache is process-wide for the adapter that owns it; Invalidate forces the
// next Get to refresh, which is how a 401 triggers exactly one retry.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	AuthURL      string // defaults to the Twitch id endpoint

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.RLock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second { // 1 min buffer
		tok := ts.token
		ts.mu.RUnlock()
		return tok, nil
	}
	ts.mu.RUnlock()
	return ts.refresh(ctx)
}

// Invalidate drops the cached token so the next Get fetches a fresh one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = ""
	ts.expiresAt = time.Time{}
	ts.mu.Unlock()
}

func (ts *TokenSource) refresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" && time.Until(ts.expiresAt) > 60*time.Second {
		return ts.token, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	authURL := ts.AuthURL
	if authURL == "" {
		authURL = "https://id.twitch.tv/oauth2/token"
	}
	form := url.Values{}
	form.Set("client_id", ts.ClientID)
	form.Set("client_secret", ts.ClientSecret)
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := ts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("twitch token request failed: %s: %s", resp.Status, string(b))
	}
	var at struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&at); err != nil {
		return "", err
	}
	if at.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = at.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(at.ExpiresIn) * time.Second)
	return ts.token, nil
}

// TwitchAdapter probes live status through Helix using an app access token and
// resolves team rosters for the roster syncer. External ids are login names.
type TwitchAdapter struct {
	ClientID   string
	Tokens     *TokenSource
	HTTPClient *http.Client
	APIBase    string // defaults to the Helix endpoint
}

func NewTwitch(clientID, clientSecret string) *TwitchAdapter {
	return &TwitchAdapter{
		ClientID: clientID,
		Tokens:   &TokenSource{ClientID: clientID, ClientSecret: clientSecret},
	}
}

func (t *TwitchAdapter) Platform() Name     { return Twitch }
func (t *TwitchAdapter) NeedsBrowser() bool { return false }

func (t *TwitchAdapter) http() *http.Client {
	if t.HTTPClient != nil {
		return t.HTTPClient
	}
	return http.DefaultClient
}

func (t *TwitchAdapter) base() string {
	if t.APIBase != "" {
		return t.APIBase
	}
	return "https://api.twitch.tv/helix"
}

// apiGet issues an authenticated Helix GET. A 401 invalidates the token cache
// and retries once with a fresh token; a second 401 is returned to the caller.
func (t *TwitchAdapter) apiGet(ctx context.Context, path string, query url.Values, out any) error {
	for attempt := 0; attempt < 2; attempt++ {
		tok, err := t.Tokens.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.base()+path, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = query.Encode()
		req.Header.Set("Client-Id", t.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := t.http().Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
			_ = resp.Body.Close()
			t.Tokens.Invalidate()
			continue
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				slog.Warn("failed to close response body", slog.Any("err", err))
			}
		}()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("twitch %s failed: %s: %s", path, resp.Status, string(b))
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return fmt.Errorf("twitch %s failed: unauthorized after token refresh", path)
}

func (t *TwitchAdapter) Probe(ctx context.Context, ref Ref, _ *Session) (LiveStatus, error) {
	login := strings.ToLower(ref.ExternalID)

	var users struct {
		Data []struct {
			DisplayName     string `json:"display_name"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("login", login)
	if err := t.apiGet(ctx, "/users", q, &users); err != nil {
		return LiveStatus{}, err
	}
	st := LiveStatus{URL: "https://www.twitch.tv/" + login}
	if len(users.Data) > 0 {
		st.DisplayName = users.Data[0].DisplayName
		st.ProfileImageURL = users.Data[0].ProfileImageURL
	}

	var streams struct {
		Data []struct {
			Type         string `json:"type"`
			Title        string `json:"title"`
			GameName     string `json:"game_name"`
			ViewerCount  int    `json:"viewer_count"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"data"`
	}
	q = url.Values{}
	q.Set("user_login", login)
	if err := t.apiGet(ctx, "/streams", q, &streams); err != nil {
		return LiveStatus{}, err
	}
	if len(streams.Data) == 0 || streams.Data[0].Type != "live" {
		return st, nil
	}
	s := streams.Data[0]
	st.IsLive = true
	st.Title = s.Title
	st.Game = s.GameName
	st.ViewerCount = s.ViewerCount
	st.ThumbnailURL = strings.NewReplacer("{width}", "1280", "{height}", "720").Replace(s.ThumbnailURL)
	return st, nil
}

// TeamMembers fetches the canonical roster of a Twitch team.
func (t *TwitchAdapter) TeamMembers(ctx context.Context, teamName string) ([]TeamMember, error) {
	if teamName == "" {
		return nil, fmt.Errorf("team name empty")
	}
	var body struct {
		Data []struct {
			Users []struct {
				UserID    string `json:"user_id"`
				UserLogin string `json:"user_login"`
				UserName  string `json:"user_name"`
			} `json:"users"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("name", teamName)
	if err := t.apiGet(ctx, "/teams", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("team not found: %s", teamName)
	}
	members := make([]TeamMember, 0, len(body.Data[0].Users))
	for _, u := range body.Data[0].Users {
		members = append(members, TeamMember{ID: u.UserID, Login: u.UserLogin, DisplayName: u.UserName})
	}
	return members, nil
}
