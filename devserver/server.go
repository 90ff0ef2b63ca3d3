// Package devserver is a local stand-in for the vox backend: the REST API,
// an object-storage upload endpoint and a loopback voice-call socket. It
// keeps everything in memory and answers with canned or echoed content.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/room4-2/vox/model"
)

// Config configures a Server.
type Config struct {
	Addr      string
	JWTSecret []byte
	TokenTTL  time.Duration
	MaxCalls  int
	Redis     *redis.Client // optional call mirror
}

type account struct {
	id       int64
	password string
}

type objectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// Server is the development backend.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	calls      *registry
	cfg        Config

	mu        sync.Mutex
	personas  []model.Persona
	accounts  map[string]account
	sessions  map[string]string // persona id to session id
	history   map[string][]model.Message
	nextID    int64
	uploadKey string

	storage objectStore
	log     zerolog.Logger
}

// NewServer creates a server seeded with two personas.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	if len(cfg.JWTSecret) == 0 {
		cfg.JWTSecret = []byte("vox-dev-secret")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if cfg.MaxCalls <= 0 {
		cfg.MaxCalls = 16
	}

	s := &Server{
		cfg:   cfg,
		calls: newRegistry(cfg.Redis, cfg.MaxCalls, time.Hour),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		personas: []model.Persona{
			{ID: "1", Name: "Harry Potter", Description: "A young wizard from Hogwarts", VoiceID: "qiniu_zh_male_ljfdxz"},
			{ID: "2", Name: "Socrates", Description: "Asks more questions than he answers"},
		},
		accounts:  make(map[string]account),
		sessions:  make(map[string]string),
		history:   make(map[string][]model.Message),
		nextID:    3,
		uploadKey: "dev-upload-token",
		storage:   objectStore{objects: make(map[string][]byte)},
		log:       log.With().Str("component", "devserver").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/v1/characters", s.handleListCharacters)
	mux.HandleFunc("POST /api/v1/characters", s.handleCreateCharacter)
	mux.HandleFunc("PUT /api/v1/characters/{id}/voice", s.handleUpdateVoice)
	mux.HandleFunc("GET /api/v1/voices", s.handleListVoices)
	mux.HandleFunc("POST /api/v1/chat", s.handleChat)
	mux.HandleFunc("POST /api/v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/v1/history/{id}", s.handleHistory)
	mux.HandleFunc("GET /api/v1/upload/token", s.handleUploadToken)
	mux.HandleFunc("POST /api/v1/voice/chat", s.handleVoiceChat)
	mux.HandleFunc("POST /storage/upload", s.handleStorageUpload)
	mux.HandleFunc("GET /storage/{key...}", s.handleStorageGet)
	mux.HandleFunc("/ws/voice-call/{persona}", s.handleVoiceCall)

	s.httpServer = &http.Server{
		Addr:        cfg.Addr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routes, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("Dev backend starting")
	s.log.Info().Str("endpoint", fmt.Sprintf("ws://localhost%s/ws/voice-call/{roleId}", s.cfg.Addr)).Msg("Voice calls")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown hangs up calls and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down dev backend")
	s.calls.closeAll()
	if s.cfg.Redis != nil {
		_ = s.cfg.Redis.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// CallCount returns the number of open voice calls.
func (s *Server) CallCount() int {
	return s.calls.count()
}

func (s *Server) persona(id string) (model.Persona, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.personas {
		if p.ID == id {
			return p, true
		}
	}
	return model.Persona{}, false
}

func (s *Server) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	return strconv.FormatInt(id, 10)
}
