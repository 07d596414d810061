package model

import "time"

// Summary is the persisted artifact, unique per (IdentityKey, SourceID).
type Summary struct {
	ID          string    `json:"id"`
	IdentityKey string    `json:"identity_key"`
	SourceID    string    `json:"source_id"`
	Artifact    Artifact  `json:"artifact"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Artifact is the derived output of one job.
type Artifact struct {
	Title              string         `json:"title,omitempty"`
	Channel            string         `json:"channel,omitempty"`
	SourceURL          string         `json:"source_url,omitempty"`
	Content            string         `json:"content"`
	KeyPoints          []string       `json:"key_points,omitempty"`
	Sections           []Section      `json:"sections,omitempty"`
	TranscriptProvider string         `json:"transcript_provider,omitempty"`
	Summarizer         string         `json:"summarizer,omitempty"`
	Model              string         `json:"model,omitempty"`
	Metadata           *VideoMetadata `json:"metadata,omitempty"`
}

// Section is one headed block of the summary markdown.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// VideoMetadata describes the source video.
type VideoMetadata struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Channel      string        `json:"channel"`
	ChannelID    string        `json:"channel_id,omitempty"`
	Duration     time.Duration `json:"duration,omitempty"`
	ThumbnailURL string        `json:"thumbnail_url,omitempty"`
	PublishedAt  time.Time     `json:"published_at,omitzero"`
	ViewCount    int64         `json:"view_count,omitempty"`
}

// TranscriptResult is held only for the duration of one job.
type TranscriptResult struct {
	Provider              string `json:"provider"`
	Text                  string `json:"text"`
	AttemptsBeforeSuccess int    `json:"attempts_before_success"`
}
