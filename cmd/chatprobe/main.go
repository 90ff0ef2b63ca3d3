// Command chatprobe signs in and sends one text message to a persona.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/room4-2/vox/api"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

func main() {
	server := flag.String("server", "http://localhost:8000", "backend base URL")
	persona := flag.String("persona", "1", "persona to talk to")
	user := flag.String("user", "demo", "account name")
	password := flag.String("password", "demo", "account password")
	register := flag.Bool("register", false, "create the account first")
	text := flag.String("text", "Hello! Say hi back in one sentence.", "message to send")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	anon := api.New(*server, api.WithLogger(log))
	signIn := anon.Login
	if *register {
		signIn = anon.Register
	}
	token, err := signIn(ctx, *user, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign in")
	}
	log.Info().Str("user", *user).Msg("✅ Signed in")

	client := api.New(*server, api.WithTokenSource(staticToken(token)), api.WithLogger(log))
	reply, err := client.Chat(ctx, *persona, *text)
	if err != nil {
		log.Fatal().Err(err).Msg("❌ Chat failed")
	}
	log.Info().Str("session", reply.SessionID).Msg("💬 " + reply.Text)

	history, err := client.History(ctx, *persona)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load history")
	}
	log.Info().Int("messages", len(history)).Msg("Done")
}
