// codecprobe connects to one inventory entry, prints every state change as
// a JSON line and forwards stdin lines to the codec as raw commands.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/codecctl/internal/codec/component"
	"github.com/danmuck/codecctl/internal/codec/session"
	"github.com/danmuck/codecctl/internal/config"
	"github.com/danmuck/codecctl/internal/fleet"
	"github.com/danmuck/codecctl/internal/logging"
)

const quitCommand = ".quit"

func main() {
	inventory := flag.String("inventory", "cmd/codecctl/ex.inventory.toml", "inventory path")
	id := flag.String("codec", "", "inventory id of the codec to probe")
	flag.Parse()

	if err := run(*inventory, strings.TrimSpace(*id)); err != nil {
		fmt.Fprintf(os.Stderr, "codecprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(inventoryPath, id string) error {
	logging.ConfigureRuntime()
	inv, err := config.LoadInventory(inventoryPath)
	if err != nil {
		return err
	}
	var entry *config.CodecConfig
	for i := range inv.Codecs {
		if inv.Codecs[i].ID == id {
			entry = &inv.Codecs[i]
		}
	}
	if entry == nil {
		return fmt.Errorf("codec %q not in %s", id, inventoryPath)
	}
	factory, ok := fleet.DefaultFactories()[entry.Vendor]
	if !ok {
		return fmt.Errorf("%w: %s", fleet.ErrUnknownVendor, entry.Vendor)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := fleet.DefaultConfig()
	rw, err := config.Dialer(*entry, cfg.DialTimeout).Dial(ctx)
	if err != nil {
		return err
	}
	codec, err := factory(entry.ID, rw, session.DefaultConfig())
	if err != nil {
		_ = rw.Close()
		return err
	}
	defer codec.Close()

	out := json.NewEncoder(os.Stdout)
	codec.Bus().Subscribe(func(ev component.Event) {
		_ = out.Encode(ev)
	})

	done := make(chan error, 1)
	go func() { done <- codec.Run(ctx) }()
	if err := codec.Init(ctx); err != nil {
		return err
	}
	log.Info().Str("codec", entry.ID).Str("vendor", entry.Vendor).Msgf("connected, type commands or %s", quitCommand)

	lines := make(chan string)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimRight(line, "\r\n")
		}
	}()

	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == quitCommand {
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := codec.Send(line); err != nil {
				log.Error().Err(err).Msg("send failed")
			}
		}
	}
}
