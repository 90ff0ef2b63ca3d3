package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/room4-2/vox/api"
	"github.com/room4-2/vox/app"
	"github.com/room4-2/vox/apperr"
	"github.com/room4-2/vox/audio"
	"github.com/room4-2/vox/call"
	"github.com/room4-2/vox/chat"
	"github.com/room4-2/vox/messages"
	"github.com/room4-2/vox/model"
)

var errExit = errors.New("exit")

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

type repl struct {
	app *app.App
	out io.Writer

	mu       sync.Mutex
	persona  model.Persona
	personas []model.Persona

	commands map[string]command
}

func newREPL(a *app.App, out io.Writer) *repl {
	r := &repl{app: a, out: out}
	r.commands = map[string]command{
		"help":       {"", r.help},
		"login":      {"<user> <password>", r.login},
		"register":   {"<user> <password>", r.register},
		"logout":     {"", r.logout},
		"whoami":     {"", r.whoami},
		"roles":      {"", r.roles},
		"use":        {"<role id>", r.use},
		"create":     {"<name> [description]", r.create},
		"voices":     {"", r.voices},
		"voice":      {"<voice type>", r.setVoice},
		"say":        {"<audio file>", r.say},
		"transcribe": {"<audio file>", r.transcribe},
		"record":     {"<seconds>", r.record},
		"call":       {"", r.call},
		"end":        {"", r.end},
		"endturn":    {"", r.endTurn},
		"mute":       {"", r.mute},
		"volume":     {"<0-100>", r.volume},
		"stop":       {"", r.stop},
		"pause":      {"", r.pause},
		"resume":     {"", r.resume},
		"history":    {"", r.history},
		"log":        {"", r.log},
		"clear":      {"", r.clear},
		"exit":       {"", func(context.Context, []string) error { return errExit }},
	}

	a.Calls.OnStateChange(func(s call.State) {
		fmt.Fprintf(r.out, "\n📞 call %s\n", s)
	})
	a.Calls.OnMessage(func(m *messages.InboundMessage) {
		fmt.Fprintf(r.out, "\n💬 %s\n", m.Summary())
	})
	return r
}

func (r *repl) greet(ctx context.Context) {
	fmt.Fprintln(r.out, "vox: talk to AI characters. Type /help for commands.")
	if u, ok := r.app.Auth.User(); ok {
		if r.app.Auth.Expired() {
			fmt.Fprintf(r.out, "Session for %s has expired, please /login again.\n", u.Username)
			r.app.Auth.HandleAuthExpired()
		} else {
			fmt.Fprintf(r.out, "Signed in as %s.\n", u.Username)
		}
	}
	if err := r.roles(ctx, nil); err != nil {
		r.report(err)
	}
}

func (r *repl) prompt() {
	r.mu.Lock()
	name := r.persona.Name
	r.mu.Unlock()
	if name == "" {
		name = "no role"
	}
	fmt.Fprintf(r.out, "[%s] > ", name)
}

// handle runs one input line and reports whether the session should end.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if !strings.HasPrefix(line, "/") {
		r.report(r.sendText(ctx, line))
		return false
	}

	fields := strings.Fields(line[1:])
	cmd, ok := r.commands[fields[0]]
	if !ok {
		fmt.Fprintf(r.out, "unknown command /%s, try /help\n", fields[0])
		return false
	}
	err := cmd.run(ctx, fields[1:])
	if errors.Is(err, errExit) {
		return true
	}
	r.report(err)
	return false
}

func (r *repl) report(err error) {
	if err == nil {
		return
	}
	switch apperr.KindOf(err) {
	case apperr.KindAuthExpired:
		fmt.Fprintln(r.out, "⚠️  your session expired, please /login again")
	case apperr.KindUnauthenticated:
		fmt.Fprintln(r.out, "⚠️  please /login first")
	case apperr.KindPermission:
		fmt.Fprintf(r.out, "🎤 %v\n", err)
	default:
		fmt.Fprintf(r.out, "❌ %v\n", err)
	}
}

func (r *repl) current() (model.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.persona.ID == "" {
		return model.Persona{}, apperr.New(apperr.KindInvalid, "", "pick a role with /use first")
	}
	return r.persona, nil
}

func needArgs(args []string, n int, usage string) error {
	if len(args) < n {
		return apperr.New(apperr.KindInvalid, "", "usage: "+usage)
	}
	return nil
}

func (r *repl) help(context.Context, []string) error {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.out, "  /%-11s %s\n", name, r.commands[name].usage)
	}
	fmt.Fprintln(r.out, "  anything else is sent as a text message")
	return nil
}

func (r *repl) login(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, "/login <user> <password>"); err != nil {
		return err
	}
	u, err := r.app.Auth.Login(ctx, r.app.API, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "✅ signed in as %s\n", u.Username)
	return nil
}

func (r *repl) register(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, "/register <user> <password>"); err != nil {
		return err
	}
	u, err := r.app.Auth.Register(ctx, r.app.API, args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "✅ registered and signed in as %s\n", u.Username)
	return nil
}

func (r *repl) logout(ctx context.Context, _ []string) error {
	r.app.Calls.EndCall()
	if err := r.app.Auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "signed out")
	return nil
}

func (r *repl) whoami(context.Context, []string) error {
	u, ok := r.app.Auth.User()
	if !ok {
		fmt.Fprintln(r.out, "not signed in")
		return nil
	}
	fmt.Fprintf(r.out, "%s (id %d)\n", u.Username, u.ID)
	return nil
}

func (r *repl) roles(ctx context.Context, _ []string) error {
	personas, err := r.app.API.ListCharacters(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.personas = personas
	r.mu.Unlock()

	for _, p := range personas {
		fmt.Fprintf(r.out, "  %-4s %s", p.ID, p.Name)
		if p.Description != "" {
			fmt.Fprintf(r.out, "  (%s)", p.Description)
		}
		fmt.Fprintln(r.out)
	}
	return nil
}

func (r *repl) use(_ context.Context, args []string) error {
	if err := needArgs(args, 1, "/use <role id>"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.personas {
		if p.ID == args[0] {
			r.persona = p
			n := len(r.app.Conversations.Get(p.ID).Messages)
			fmt.Fprintf(r.out, "talking to %s (%d messages so far)\n", p.Name, n)
			return nil
		}
	}
	return apperr.New(apperr.KindInvalid, "", "no role "+args[0]+", see /roles")
}

func (r *repl) create(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "/create <name> [description]"); err != nil {
		return err
	}
	id, err := r.app.API.CreateCharacter(ctx, api.CreateCharacterRequest{
		Name:         args[0],
		SystemPrompt: "You are " + args[0] + ".",
		Description:  strings.Join(args[1:], " "),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "created role %s\n", id)
	return r.roles(ctx, nil)
}

func (r *repl) voices(ctx context.Context, _ []string) error {
	vs, err := r.app.API.ListVoices(ctx)
	if err != nil {
		return err
	}
	for _, v := range vs {
		fmt.Fprintf(r.out, "  %-28s %s\n", v.Type, v.Name)
	}
	return nil
}

func (r *repl) setVoice(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "/voice <voice type>"); err != nil {
		return err
	}
	p, err := r.current()
	if err != nil {
		return err
	}
	v, err := r.app.API.UpdateVoice(ctx, p.ID, args[0])
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.persona.VoiceID = v
	for i := range r.personas {
		if r.personas[i].ID == p.ID {
			r.personas[i].VoiceID = v
		}
	}
	r.mu.Unlock()
	fmt.Fprintf(r.out, "%s now speaks with %s\n", p.Name, v)
	return nil
}

func (r *repl) sendText(ctx context.Context, text string) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	ex, err := r.app.Chat.SendText(ctx, p.ID, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s: %s\n", p.Name, ex.Assistant.Text)
	return nil
}

func readBlob(path string) (audio.Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return audio.Blob{}, apperr.Wrap(apperr.KindInvalid, "read audio", err)
	}
	return audio.Blob{Name: filepath.Base(path), Data: data}, nil
}

func (r *repl) printExchange(name string, ex chat.Exchange) {
	fmt.Fprintf(r.out, "🗣  %s\n%s: %s\n", ex.User.Text, name, ex.Assistant.Text)
}

func (r *repl) sendVoice(ctx context.Context, b audio.Blob) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out, "⏳ sending voice message...")
	ex, err := r.app.Chat.SendVoice(ctx, p.ID, b, p.VoiceID)
	if err != nil {
		return err
	}
	r.printExchange(p.Name, ex)
	return nil
}

func (r *repl) say(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "/say <audio file>"); err != nil {
		return err
	}
	b, err := readBlob(args[0])
	if err != nil {
		return err
	}
	return r.sendVoice(ctx, b)
}

func (r *repl) transcribe(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "/transcribe <audio file>"); err != nil {
		return err
	}
	p, err := r.current()
	if err != nil {
		return err
	}
	b, err := readBlob(args[0])
	if err != nil {
		return err
	}
	ex, err := r.app.Chat.Transcribe(ctx, p.ID, b)
	if err != nil {
		return err
	}
	r.printExchange(p.Name, ex)
	return nil
}

func (r *repl) record(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "/record <seconds>"); err != nil {
		return err
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil || secs <= 0 || secs > 60 {
		return apperr.New(apperr.KindInvalid, "", "seconds must be between 0 and 60")
	}
	if _, err := r.current(); err != nil {
		return err
	}

	rec, err := r.app.StartRecording(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "🎙  recording for %.1fs...\n", secs)
	select {
	case <-time.After(time.Duration(secs * float64(time.Second))):
	case <-ctx.Done():
	}
	fmt.Fprintf(r.out, "captured %.1fs\n", rec.Duration().Seconds())
	b, err := rec.Stop()
	if err != nil {
		return err
	}
	if rec.Truncated() {
		fmt.Fprintln(r.out, "recording hit the size limit and was cut short")
	}
	return r.sendVoice(ctx, b)
}

func (r *repl) call(ctx context.Context, _ []string) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	return r.app.Calls.StartCall(ctx, p.ID)
}

func (r *repl) end(context.Context, []string) error {
	r.app.Calls.EndCall()
	return nil
}

func (r *repl) endTurn(ctx context.Context, _ []string) error {
	return r.app.Calls.SendControl(ctx, messages.ActionEndTurn)
}

func (r *repl) mute(context.Context, []string) error {
	if r.app.Calls.ToggleMute() {
		fmt.Fprintln(r.out, "🔇 muted")
	} else {
		fmt.Fprintln(r.out, "🔊 unmuted")
	}
	return nil
}

func (r *repl) volume(_ context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "volume %d\n", int(r.app.Calls.Volume()*100))
		return nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return apperr.New(apperr.KindInvalid, "", "usage: /volume <0-100>")
	}
	r.app.Calls.SetVolume(float64(n) / 100)
	return nil
}

func (r *repl) stop(context.Context, []string) error {
	r.app.Playback.Stop()
	return nil
}

func (r *repl) pause(context.Context, []string) error {
	if !r.app.Playback.Pause() {
		fmt.Fprintln(r.out, "nothing is playing")
	}
	return nil
}

func (r *repl) resume(context.Context, []string) error {
	if !r.app.Playback.Resume() {
		fmt.Fprintln(r.out, "nothing is paused")
	}
	return nil
}

func (r *repl) history(ctx context.Context, _ []string) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	msgs, err := r.app.Chat.History(ctx, p.ID)
	if err != nil {
		return err
	}
	r.printMessages(p.Name, msgs)
	return nil
}

func (r *repl) log(context.Context, []string) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	rec := r.app.Chat.Conversation(p.ID)
	r.printMessages(p.Name, rec.Messages)
	if rec.SessionID != "" {
		fmt.Fprintf(r.out, "(session %s)\n", rec.SessionID)
	}
	return nil
}

func (r *repl) printMessages(name string, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "no messages yet")
		return
	}
	for _, m := range msgs {
		who := "you"
		if m.Speaker == model.SpeakerAssistant {
			who = name
		}
		fmt.Fprintf(r.out, "  %s  %s: %s\n", m.Time().Format("01-02 15:04"), who, m.Text)
	}
}

func (r *repl) clear(ctx context.Context, _ []string) error {
	p, err := r.current()
	if err != nil {
		return err
	}
	r.app.Chat.Clear(ctx, p.ID)
	fmt.Fprintf(r.out, "cleared conversation with %s\n", p.Name)
	return nil
}
