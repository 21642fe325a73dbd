package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/codecctl/internal/config"
	"github.com/danmuck/codecctl/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	output := flag.String("output", "cmd/codecctl/inventory.toml", "output path for the inventory template")
	validate := flag.Bool("validate", false, "validate an existing inventory file")
	input := flag.String("input", "cmd/codecctl/inventory.toml", "inventory path for validation")
	force := flag.Bool("force", false, "overwrite existing inventory file")
	flag.Parse()

	if *validate {
		inv, err := config.LoadInventory(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("inventory invalid")
		}
		log.Info().Str("path", *input).Int("codecs", len(inv.Codecs)).Int("enabled", len(inv.Enabled())).Msg("inventory validated")
		return
	}

	if err := config.WriteTemplate(*output, "inventory", *force); err != nil {
		log.Fatal().Err(err).Msg("write inventory template")
	}
	log.Info().Str("path", *output).Msg("wrote inventory template")
}
