package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"attendly/internal/client"
	"attendly/internal/config"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	cfg := config.LoadClient()

	cli := commandLine{
		api:       client.New(cfg.APIURL),
		tokenFile: cfg.TokenFile,
		out:       os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err == errHelp {
			os.Exit(2)
		}
		if client.IsUnauthorized(err) {
			log.Error().Msg("not logged in or session expired, run: attendctl login -email EMAIL")
			os.Exit(1)
		}
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
