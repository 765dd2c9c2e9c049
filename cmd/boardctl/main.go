package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/boardroom/internal/client"
	appcfg "github.com/park285/boardroom/internal/config"
	"github.com/park285/boardroom/internal/layout"
	"github.com/park285/boardroom/internal/msgcat"
	"github.com/park285/boardroom/internal/obslog"
)

const watchInterval = 250 * time.Millisecond

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = obslog.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, in io.Reader, out io.Writer) error {
	cfg, err := appcfg.LoadClient()
	if err != nil {
		return err
	}
	lay, err := layout.Load(cfg.LayoutFile)
	if err != nil {
		return err
	}
	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return err
	}
	reg, err := buildRegistry(cfg, lay)
	if err != nil {
		return err
	}
	defer reg.Close()

	con := newConsole(reg, cat, out)
	reg.SetEnabled(true)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok || con.exec(line) {
				return nil
			}
		case <-ticker.C:
			con.watch()
		}
	}
}

// buildRegistry creates one session per layout board.
func buildRegistry(cfg *appcfg.ClientConfig, lay *layout.Layout) (*client.Registry, error) {
	reg := client.NewRegistry()
	logger := obslog.Named("boardctl")
	for _, b := range lay.Boards {
		radius := lay.RadiusFor(b)
		if cfg.ProximityRadius > 0 {
			radius = cfg.ProximityRadius
		}
		s, err := client.NewSession(client.Config{
			ServerURL: cfg.ServerURL,
			Room:      b.Room,
			Board:     b.Board,
			Variant:   b.Variant,
			PlayerID:  cfg.PlayerID,
			Name:      cfg.PlayerName,
			Origin:    b.Origin,
			Radius:    radius,
		}, client.WithLogger(logger), client.WithReconnectAttempts(cfg.ReconnectAttempts))
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("board %s: %w", b.Key(), err)
		}
		if err := reg.Add(s); err != nil {
			reg.Close()
			return nil, fmt.Errorf("board %s: %w", b.Key(), err)
		}
	}
	return reg, nil
}
