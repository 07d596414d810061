package youtube

import (
	"encoding/json"
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoCaptions is returned when a payload or page carries no caption text.
var ErrNoCaptions = eris.New("youtube: no captions")

type json3Payload struct {
	Events []struct {
		Segs []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

// ParseJSON3 joins the text segments of a json3 caption payload.
func ParseJSON3(b []byte) (string, error) {
	var p json3Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return "", eris.Wrap(err, "youtube: parse json3 captions")
	}
	var sb strings.Builder
	for _, ev := range p.Events {
		for _, seg := range ev.Segs {
			sb.WriteString(seg.UTF8)
		}
		sb.WriteByte(' ')
	}
	text := strings.Join(strings.Fields(sb.String()), " ")
	if text == "" {
		return "", ErrNoCaptions
	}
	return text, nil
}

type xmlTranscript struct {
	Texts []struct {
		Body string `xml:",chardata"`
	} `xml:"text"`
	// srv3 uses <body><p>...</p></body>.
	Paragraphs []struct {
		Body string `xml:",innerxml"`
	} `xml:"body>p"`
}

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// ParseXML joins the text nodes of an srv1 or srv3 caption payload.
func ParseXML(b []byte) (string, error) {
	var doc xmlTranscript
	if err := xml.Unmarshal(b, &doc); err != nil {
		return "", eris.Wrap(err, "youtube: parse xml captions")
	}
	parts := make([]string, 0, len(doc.Texts)+len(doc.Paragraphs))
	for _, t := range doc.Texts {
		parts = append(parts, t.Body)
	}
	for _, p := range doc.Paragraphs {
		parts = append(parts, tagPattern.ReplaceAllString(p.Body, ""))
	}
	text := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	if text == "" {
		return "", ErrNoCaptions
	}
	return text, nil
}

// ParseCaptions detects the payload format and extracts its text.
func ParseCaptions(b []byte) (string, error) {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		return ParseJSON3([]byte(trimmed))
	case strings.HasPrefix(trimmed, "<"):
		return ParseXML([]byte(trimmed))
	default:
		return "", ErrNoCaptions
	}
}

// CaptionTrack is one entry of the player response's caption list.
type CaptionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
	Name         struct {
		SimpleText string `json:"simpleText"`
	} `json:"name"`
}

// PlayerResponse is the subset of ytInitialPlayerResponse we read.
type PlayerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		Renderer struct {
			CaptionTracks []CaptionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		ChannelID     string `json:"channelId"`
		LengthSeconds string `json:"lengthSeconds"`
		ViewCount     string `json:"viewCount"`
	} `json:"videoDetails"`
}

// Tracks returns the caption tracks listed in the response.
func (p *PlayerResponse) Tracks() []CaptionTrack {
	return p.Captions.Renderer.CaptionTracks
}

var playerResponsePattern = regexp.MustCompile(`(?s)var ytInitialPlayerResponse\s*=\s*(\{.+?\});\s*(?:var|</script>)`)

// ExtractPlayerResponse pulls ytInitialPlayerResponse out of watch page HTML.
func ExtractPlayerResponse(html []byte) (*PlayerResponse, error) {
	m := playerResponsePattern.FindSubmatch(html)
	if m == nil {
		return nil, eris.New("youtube: player response not found in page")
	}
	var pr PlayerResponse
	if err := json.Unmarshal(m[1], &pr); err != nil {
		return nil, eris.Wrap(err, "youtube: unmarshal player response")
	}
	return &pr, nil
}

// PickTrack chooses the best caption track for the preferred languages.
// Manual tracks beat auto-generated ones for the same language; any track
// whose code shares a preferred prefix is accepted before giving up.
func PickTrack(tracks []CaptionTrack, langs []string) (CaptionTrack, bool) {
	for _, lang := range langs {
		var asr *CaptionTrack
		for i := range tracks {
			if !strings.EqualFold(tracks[i].LanguageCode, lang) {
				continue
			}
			if tracks[i].Kind != "asr" {
				return tracks[i], true
			}
			if asr == nil {
				asr = &tracks[i]
			}
		}
		if asr != nil {
			return *asr, true
		}
	}
	for _, lang := range langs {
		prefix := strings.ToLower(strings.SplitN(lang, "-", 2)[0])
		for _, t := range tracks {
			if strings.HasPrefix(strings.ToLower(t.LanguageCode), prefix) {
				return t, true
			}
		}
	}
	return CaptionTrack{}, false
}

var isoDurationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParseDuration converts an ISO 8601 duration such as PT1H2M3S.
func ParseDuration(s string) (time.Duration, error) {
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, eris.Errorf("youtube: invalid duration %q", s)
	}
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute, time.Second}
	var d time.Duration
	for i, u := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, eris.Wrapf(err, "youtube: invalid duration %q", s)
		}
		d += time.Duration(n) * u
	}
	return d, nil
}
