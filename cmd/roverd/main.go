package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/adammck/rover/pkg/config"
	"github.com/adammck/rover/pkg/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	cfgPath := flag.String("config", "", "path to TOML config file (default: built-in defaults)")
	addr := flag.String("addr", "", "address to start grpc server on (overrides config)")
	addrPub := flag.String("pub-addr", "", "address for other nodes to reach this (default: same as -addr)")
	debugAddr := flag.String("debug-addr", "", "address for debug http server (overrides config)")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logging.Init("roverd")
	if err := logging.SetLevel(*level); err != nil {
		exit(err)
	}

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			exit(err)
		}
	}

	if *addr != "" {
		cfg.Addr = *addr
	}
	if *addrPub != "" {
		cfg.PubAddr = *addrPub
	}
	if *debugAddr != "" {
		cfg.DebugAddr = *debugAddr
	}

	cmd, err := New(cfg)
	if err != nil {
		exit(err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sig
		cancel()
	}()

	err = cmd.Run(ctx)
	if err != nil {
		exit(err)
	}
}

func exit(err error) {
	log.Fatal().Err(err).Msg("exiting")
}
