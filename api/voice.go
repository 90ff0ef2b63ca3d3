package api

import (
	"context"
	"net/http"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/model"
)

// UploadToken fetches a single-use object-storage credential.
func (c *Client) UploadToken(ctx context.Context) (model.UploadCredential, error) {
	const op = "upload token"
	if !c.Authenticated() {
		return model.UploadCredential{}, apperr.New(apperr.KindUnauthenticated, op, "sign in before sending voice messages")
	}
	var cred model.UploadCredential
	if err := c.doJSON(ctx, op, http.MethodGet, "/api/v1/upload/token", nil, &cred); err != nil {
		return model.UploadCredential{}, err
	}
	if cred.UploadToken == "" || cred.UpHost == "" {
		return model.UploadCredential{}, apperr.New(apperr.KindProtocol, op, "response missing upload_token or up_host")
	}
	return cred, nil
}

// VoiceChatRequest asks the backend to answer an uploaded recording.
type VoiceChatRequest struct {
	PersonaID   string
	AudioURL    string
	AudioFormat string
	VoiceID     string
}

type voiceChatWire struct {
	CharacterID characterRef `json:"character_id"`
	AudioURL    string       `json:"audio_url"`
	AudioFormat string       `json:"audio_format"`
	VoiceID     string       `json:"voice_id"`
}

// VoiceChatResult is the transcription plus the synthesized reply.
type VoiceChatResult struct {
	TranscribedText string `json:"transcribed_text"`
	ReplyText       string `json:"ai_text_response"`
	AudioBase64     string `json:"audio_base64"`
}

// VoiceChat runs transcription, reply generation and synthesis for an
// uploaded recording.
func (c *Client) VoiceChat(ctx context.Context, req VoiceChatRequest) (VoiceChatResult, error) {
	const op = "voice chat"
	if req.AudioURL == "" {
		return VoiceChatResult{}, apperr.New(apperr.KindInvalid, op, "audio_url is required")
	}
	body := voiceChatWire{
		CharacterID: characterRef(req.PersonaID),
		AudioURL:    req.AudioURL,
		AudioFormat: req.AudioFormat,
		VoiceID:     req.VoiceID,
	}
	var res VoiceChatResult
	if err := c.doJSON(ctx, op, http.MethodPost, "/api/v1/voice/chat", body, &res); err != nil {
		return VoiceChatResult{}, err
	}
	if res.ReplyText == "" && res.AudioBase64 == "" {
		return VoiceChatResult{}, apperr.New(apperr.KindProtocol, op, "response carries neither text nor audio")
	}
	return res, nil
}
