package model

import (
	"net/url"
	"regexp"
	"strings"
)

var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseSourceID extracts the 11-character video id from a YouTube watch,
// short link, embed, shorts or live URL. A bare id is accepted as-is.
func ParseSourceID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", Validation("a video URL is required", nil)
	}
	if sourceIDPattern.MatchString(raw) {
		return raw, nil
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", Validation("that doesn't look like a YouTube URL", err)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = firstSegment(u.Path)
	case "youtube.com", "music.youtube.com", "youtube-nocookie.com":
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		segs := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segs) == 2 {
			switch segs[0] {
			case "embed", "shorts", "live", "v":
				id = segs[1]
			}
		}
	}

	if !sourceIDPattern.MatchString(id) {
		return "", Validation("that doesn't look like a YouTube URL", nil)
	}
	return id, nil
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(sourceID string) string {
	return "https://www.youtube.com/watch?v=" + sourceID
}

func firstSegment(p string) string {
	p = strings.Trim(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return p
}
