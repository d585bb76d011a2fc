package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/filedrop/filedrop/server"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	config, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	server.SetupLogging(config)

	// Create and start server
	srv, err := server.NewServer(config)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create server")
	}

	log.Info().Int("port", config.Server.Port).Msg("Starting filedrop server")
	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start server")
	}
}
