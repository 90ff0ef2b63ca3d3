package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/model"
)

type characterWire struct {
	ID          flexID `json:"ID"`
	LowerID     flexID `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatar_url"`
	Description string `json:"description"`
	VoiceID     string `json:"voice_id"`
}

func (w characterWire) persona() model.Persona {
	id := string(w.ID)
	if id == "" {
		id = string(w.LowerID)
	}
	return model.Persona{
		ID:          id,
		Name:        w.Name,
		AvatarURL:   w.AvatarURL,
		Description: w.Description,
		VoiceID:     w.VoiceID,
	}
}

// ListCharacters returns the personas available to the user.
func (c *Client) ListCharacters(ctx context.Context) ([]model.Persona, error) {
	const op = "list characters"
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, "/api/v1/characters", nil, &raw); err != nil {
		return nil, err
	}
	items, err := listPayload[characterWire](raw, "data", "characters")
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindProtocol, Op: op, Message: "malformed character list", Err: err}
	}
	personas := make([]model.Persona, 0, len(items))
	for _, it := range items {
		p := it.persona()
		if p.ID == "" {
			continue
		}
		personas = append(personas, p)
	}
	return personas, nil
}

// CreateCharacterRequest describes a new persona.
type CreateCharacterRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
	Description  string `json:"description"`
}

type createCharacterResponse struct {
	Message     string `json:"message"`
	CharacterID flexID `json:"character_id"`
}

// CreateCharacter registers a persona and returns its id.
func (c *Client) CreateCharacter(ctx context.Context, req CreateCharacterRequest) (string, error) {
	const op = "create character"
	if req.Name == "" {
		return "", apperr.New(apperr.KindInvalid, op, "name is required")
	}
	var resp createCharacterResponse
	if err := c.doJSON(ctx, op, http.MethodPost, "/api/v1/characters", req, &resp); err != nil {
		return "", err
	}
	if resp.CharacterID == "" {
		return "", apperr.New(apperr.KindProtocol, op, "response missing character_id")
	}
	return string(resp.CharacterID), nil
}

type updateVoiceResponse struct {
	NewVoiceID string `json:"new_voice_id"`
}

// UpdateVoice changes the persona's synthesis voice and returns the voice
// id the backend settled on.
func (c *Client) UpdateVoice(ctx context.Context, personaID, voiceID string) (string, error) {
	const op = "update voice"
	body := map[string]string{"voice_id": voiceID}
	var resp updateVoiceResponse
	path := "/api/v1/characters/" + url.PathEscape(personaID) + "/voice"
	if err := c.doJSON(ctx, op, http.MethodPut, path, body, &resp); err != nil {
		return "", err
	}
	if resp.NewVoiceID == "" {
		return voiceID, nil
	}
	return resp.NewVoiceID, nil
}

// ListVoices returns the synthesis voices on offer.
func (c *Client) ListVoices(ctx context.Context) ([]model.Voice, error) {
	const op = "list voices"
	var raw json.RawMessage
	if err := c.doJSON(ctx, op, http.MethodGet, "/api/v1/voices", nil, &raw); err != nil {
		return nil, err
	}
	voices, err := listPayload[model.Voice](raw, "voices", "data")
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.KindProtocol, Op: op, Message: "malformed voice list", Err: err}
	}
	return voices, nil
}
