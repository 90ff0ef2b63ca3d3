package devserver

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/model"
)

const maxUploadBytes = 32 << 20

// flexID accepts a JSON number or string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

type characterJSON struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
}

type historyJSON struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

var voices = []model.Voice{
	{Name: "甜美教学小源", Type: "qiniu_zh_female_tmjxxy", Category: "female"},
	{Name: "理性分析男声", Type: "qiniu_zh_male_ljfdxz", Category: "male"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func readJSON(r *http.Request, v any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(raw, v)
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "calls": s.calls.count()})
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := readJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	id, _ := strconv.ParseInt(s.newID(), 10, 64)

	s.mu.Lock()
	if _, taken := s.accounts[req.Username]; taken {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "username already exists")
		return
	}
	s.accounts[req.Username] = account{id: id, password: req.Password}
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"message": "registered", "user_id": id})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request")
		return
	}
	s.mu.Lock()
	acct, ok := s.accounts[req.Username]
	s.mu.Unlock()
	if !ok || acct.password != req.Password {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	token, err := s.issueToken(acct.id, req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "ok", "token": token})
}

func (s *Server) issueToken(userID int64, username string) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     username,
		"exp":     time.Now().Add(s.cfg.TokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.JWTSecret)
}

// authorized validates the bearer token.
func (s *Server) authorized(r *http.Request) bool {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || raw == "" {
		return false
	}
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.JWTSecret, nil
	})
	return err == nil && tok.Valid
}

func (s *Server) handleListCharacters(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]characterJSON, 0, len(s.personas))
	for _, p := range s.personas {
		id, _ := strconv.ParseInt(p.ID, 10, 64)
		out = append(out, characterJSON{ID: id, Name: p.Name, Description: p.Description, AvatarURL: p.AvatarURL, VoiceID: p.VoiceID})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (s *Server) handleCreateCharacter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string `json:"name"`
		SystemPrompt string `json:"system_prompt"`
		Description  string `json:"description"`
	}
	if err := readJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	id := s.newID()
	s.mu.Lock()
	s.personas = append(s.personas, model.Persona{ID: id, Name: req.Name, Description: req.Description})
	s.mu.Unlock()

	n, _ := strconv.ParseInt(id, 10, 64)
	writeJSON(w, http.StatusCreated, map[string]any{"message": "created", "character_id": n})
}

func (s *Server) handleUpdateVoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VoiceID string `json:"voice_id"`
	}
	if err := readJSON(r, &req); err != nil || req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, "voice_id is required")
		return
	}
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.personas {
		if s.personas[i].ID == id {
			s.personas[i].VoiceID = req.VoiceID
			writeJSON(w, http.StatusOK, map[string]string{"new_voice_id": req.VoiceID})
			return
		}
	}
	writeError(w, http.StatusNotFound, "character not found")
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

// record appends an exchange to the persona's history and returns its
// session id.
func (s *Server) record(personaID, said, reply string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	sid, ok := s.sessions[personaID]
	if !ok {
		sid = uuid.NewString()
		s.sessions[personaID] = sid
	}
	now := time.Now().UnixMilli()
	s.history[personaID] = append(s.history[personaID],
		model.Message{ID: uuid.NewString(), Speaker: model.SpeakerUser, Text: said, Timestamp: now, SessionID: sid},
		model.Message{ID: uuid.NewString(), Speaker: model.SpeakerAssistant, Text: reply, Timestamp: now, SessionID: sid},
	)
	return sid
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CharacterID flexID `json:"character_id"`
		NewMessage  string `json:"new_message"`
	}
	if err := readJSON(r, &req); err != nil || req.NewMessage == "" {
		writeError(w, http.StatusBadRequest, "new_message is required")
		return
	}
	p, ok := s.persona(string(req.CharacterID))
	if !ok {
		writeError(w, http.StatusNotFound, "character not found")
		return
	}

	reply := fmt.Sprintf("%s heard: %s", p.Name, req.NewMessage)
	sid := s.record(p.ID, req.NewMessage, reply)
	writeJSON(w, http.StatusOK, map[string]string{"response": reply, "session_id": sid})
}

// describe summarizes audio the way a transcript stand-in would.
func describe(b audio.Blob) (string, audio.PCM, bool) {
	pcm, err := audio.Decode(b)
	if err != nil || pcm.Frames() == 0 {
		return "[unrecognized audio]", audio.PCM{}, false
	}
	secs := float64(pcm.Frames()) / float64(pcm.SampleRate)
	return fmt.Sprintf("(%.1f seconds of speech)", secs), pcm, true
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	p, ok := s.persona(r.FormValue("role_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "character not found")
		return
	}
	f, hdr, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_file is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read audio")
		return
	}

	said, _, _ := describe(audio.Blob{Name: hdr.Filename, Data: data})
	reply := fmt.Sprintf("%s listened to %s", p.Name, said)
	sid := s.record(p.ID, said, reply)
	writeJSON(w, http.StatusOK, map[string]string{
		"transcribed_text": said,
		"ai_response_text": reply,
		"session_id":       sid,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	msgs := s.history[id]
	out := make([]historyJSON, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyJSON{
			ID:        m.ID,
			Role:      string(m.Speaker),
			Content:   m.Text,
			SessionID: m.SessionID,
			Timestamp: m.Timestamp,
		})
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (s *Server) handleUploadToken(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "token invalid or expired")
		return
	}
	base := baseURL(r)
	writeJSON(w, http.StatusOK, model.UploadCredential{
		UploadToken:  s.uploadKey,
		UpHost:       base + "/storage/upload",
		BucketDomain: base + "/storage",
	})
}

func (s *Server) handleStorageUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed form"})
		return
	}
	if r.FormValue("token") != s.uploadKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "bad token"})
		return
	}
	key := r.FormValue("key")
	f, _, err := r.FormFile("file")
	if err != nil || key == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file and key are required"})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot read file"})
		return
	}

	sum := sha1.Sum(data)
	s.storage.mu.Lock()
	s.storage.objects[key] = data
	s.storage.mu.Unlock()

	s.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("Object stored")
	writeJSON(w, http.StatusOK, map[string]string{"hash": hex.EncodeToString(sum[:]), "key": key})
}

func (s *Server) object(key string) ([]byte, bool) {
	s.storage.mu.RLock()
	defer s.storage.mu.RUnlock()
	data, ok := s.storage.objects[key]
	return data, ok
}

func (s *Server) handleStorageGet(w http.ResponseWriter, r *http.Request) {
	data, ok := s.object(r.PathValue("key"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (s *Server) handleVoiceChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CharacterID flexID `json:"character_id"`
		AudioURL    string `json:"audio_url"`
		AudioFormat string `json:"audio_format"`
		VoiceID     string `json:"voice_id"`
	}
	if err := readJSON(r, &req); err != nil || req.AudioURL == "" {
		writeError(w, http.StatusBadRequest, "audio_url is required")
		return
	}
	p, ok := s.persona(string(req.CharacterID))
	if !ok {
		writeError(w, http.StatusNotFound, "character not found")
		return
	}

	u, err := url.Parse(req.AudioURL)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad audio_url")
		return
	}
	data, ok := s.object(strings.TrimPrefix(u.Path, "/storage/"))
	if !ok {
		writeError(w, http.StatusNotFound, "audio not found in storage")
		return
	}

	said, pcm, ok := describe(audio.Blob{Name: "upload." + req.AudioFormat, Data: data})
	if !ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "audio could not be decoded"})
		return
	}
	reply, err := audio.EncodeWAV(pcm)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	text := fmt.Sprintf("%s repeats what you said", p.Name)
	s.record(p.ID, said, text)
	s.log.Info().Str("persona", p.ID).Str("voice", req.VoiceID).Str("format", req.AudioFormat).Msg("Voice reply")
	writeJSON(w, http.StatusOK, map[string]string{
		"transcribed_text": said,
		"ai_text_response": text,
		"audio_base64":     base64.StdEncoding.EncodeToString(reply),
	})
}
