// Package model holds the data shapes shared across vox packages.
package model

import "time"

// Speaker identifies who produced a message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ParseSpeaker maps the backend's role labels onto a Speaker.
func ParseSpeaker(s string) Speaker {
	switch s {
	case "user", "human":
		return SpeakerUser
	default:
		return SpeakerAssistant
	}
}

// Persona is an AI character the user can converse with.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Description string `json:"description,omitempty"`
	VoiceID     string `json:"voiceId,omitempty"`
}

// Message is one immutable entry of a conversation.
type Message struct {
	ID        string  `json:"id"`
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	AudioURL  string  `json:"audioUrl,omitempty"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
	SessionID string  `json:"sessionId,omitempty"`
}

// Time returns the message timestamp.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Voice is a synthesis voice offered by the backend.
type Voice struct {
	Name      string `json:"voice_name"`
	Type      string `json:"voice_type"`
	SampleURL string `json:"url,omitempty"`
	Category  string `json:"category,omitempty"`
}

// UploadCredential authorizes one object-storage upload.
type UploadCredential struct {
	UploadToken  string `json:"upload_token"`
	UpHost       string `json:"up_host"`
	BucketDomain string `json:"bucket_domain"`
}

// User is the authenticated account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}
