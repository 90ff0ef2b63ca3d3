package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/room4-2/vox/app"
	"github.com/room4-2/vox/config"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := cfg.Logger(os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := app.New(ctx, cfg, app.DefaultDevices(cfg, log), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start client")
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	r := newREPL(client, os.Stdout)
	r.greet(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	r.prompt()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stdout, "\nbye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if r.handle(ctx, line) {
				return
			}
			r.prompt()
		}
	}
}
