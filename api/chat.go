package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/model"
)

// ChatReply is the backend's answer to a text or transcribed message.
type ChatReply struct {
	Text            string
	SessionID       string
	AudioURL        string
	TranscribedText string
}

type chatRequest struct {
	CharacterID characterRef `json:"character_id"`
	NewMessage  string       `json:"new_message"`
}

type chatResponse struct {
	Response        string `json:"response"`
	AIResponseText  string `json:"ai_response_text"`
	SessionID       flexID `json:"session_id"`
	AudioURL        string `json:"ai_audio_url"`
	TranscribedText string `json:"transcribed_text"`
}

func (r chatResponse) reply() ChatReply {
	text := r.Response
	if text == "" {
		text = r.AIResponseText
	}
	return ChatReply{
		Text:            text,
		SessionID:       string(r.SessionID),
		AudioURL:        r.AudioURL,
		TranscribedText: r.TranscribedText,
	}
}

// Chat sends a text message to the persona.
func (c *Client) Chat(ctx context.Context, personaID, text string) (ChatReply, error) {
	const op = "chat"
	req := chatRequest{CharacterID: characterRef(personaID), NewMessage: text}
	var resp chatResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/api/v1/chat", req, &resp); err != nil {
		return ChatReply{}, err
	}
	return resp.reply(), nil
}

// Transcribe uploads recorded audio directly for transcription and a reply.
func (c *Client) Transcribe(ctx context.Context, personaID, filename string, audio []byte) (ChatReply, error) {
	const op = "transcribe"
	if len(audio) == 0 {
		return ChatReply{}, apperr.New(apperr.KindInvalid, op, "audio is empty")
	}

	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	if err := mw.WriteField("role_id", personaID); err != nil {
		return ChatReply{}, fmt.Errorf("write role_id: %w", err)
	}
	fw, err := mw.CreateFormFile("audio_file", filename)
	if err != nil {
		return ChatReply{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return ChatReply{}, fmt.Errorf("write audio to form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return ChatReply{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/transcribe", &b)
	if err != nil {
		return ChatReply{}, apperr.Wrap(apperr.KindInvalid, op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp chatResponse
	if err := c.send(req, op, &resp); err != nil {
		return ChatReply{}, err
	}
	return resp.reply(), nil
}

type historyEntry struct {
	// shape with one row per message
	ID        flexID   `json:"id"`
	Role      string   `json:"role"`
	Speaker   string   `json:"speaker"`
	Content   string   `json:"content"`
	Text      string   `json:"text"`
	SessionID flexID   `json:"session_id"`
	Timestamp flexTime `json:"timestamp"`

	// shape with one row per exchange
	UserMessage string `json:"user_message"`
	AIMessage   string `json:"ai_message"`
}

// History fetches the persona's server-side conversation history.
func (c *Client) History(ctx context.Context, personaID string) ([]model.Message, error) {
	const op = "history"
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, "/api/v1/history/"+url.PathEscape(personaID), nil, &raw); err != nil {
		return nil, err
	}
	entries, err := listPayload[historyEntry](raw, "messages", "history")
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindProtocol, Op: op, Message: "malformed history", Err: err}
	}

	var out []model.Message
	for i, e := range entries {
		if e.UserMessage != "" || e.AIMessage != "" {
			if e.UserMessage != "" {
				out = append(out, model.Message{
					ID:        fmt.Sprintf("h%d-user", i),
					Speaker:   model.SpeakerUser,
					Text:      e.UserMessage,
					Timestamp: int64(e.Timestamp),
				})
			}
			if e.AIMessage != "" {
				out = append(out, model.Message{
					ID:        fmt.Sprintf("h%d-ai", i),
					Speaker:   model.SpeakerAssistant,
					Text:      e.AIMessage,
					Timestamp: int64(e.Timestamp),
				})
			}
			continue
		}

		role := e.Role
		if role == "" {
			role = e.Speaker
		}
		text := e.Content
		if text == "" {
			text = e.Text
		}
		id := string(e.ID)
		if id == "" {
			id = fmt.Sprintf("h%d", i)
		}
		out = append(out, model.Message{
			ID:        id,
			Speaker:   model.ParseSpeaker(role),
			Text:      text,
			Timestamp: int64(e.Timestamp),
			SessionID: string(e.SessionID),
		})
	}
	return out, nil
}
