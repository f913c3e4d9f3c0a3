package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hero-dungeon/dungeond/internal/config"
	grpcservice "github.com/hero-dungeon/dungeond/internal/interface/grpc"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// nolint:all
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var serveCommand = cli.Command{
	Name:   "serve",
	Usage:  "Run the daemon and serve the REST, SSE and health endpoints",
	Action: serveAction,
}

func main() {
	app := cli.NewApp()

	app.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	app.Name = "dungeond"
	app.Usage = "hero dungeon client: enter dungeons with fresh oracle prices and follow their outcome"
	app.Commands = append(
		app.Commands,
		&serveCommand,
		&heroCommand,
		&mintCommand,
		&marketCommand,
		&quoteCommand,
		&enterCommand,
		&attemptsCommand,
		&configCommand,
	)
	app.DefaultCommand = serveCommand.Name

	if err := app.Run(os.Args); err != nil {
		fmt.Println(fmt.Errorf("error: %v", err))
		os.Exit(1)
	}
}

func serveAction(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	svcConfig := grpcservice.Config{
		Port:                  cfg.Port,
		OtelCollectorEndpoint: cfg.OtelCollectorEndpoint,
	}
	svc, err := grpcservice.NewService(svcConfig, cfg)
	if err != nil {
		return err
	}

	log.RegisterExitHandler(svc.Stop)

	log.Info("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT, os.Interrupt)
	<-sigChan

	log.Info("shutting down service...")
	log.Exit(0)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %s", err)
	}
	log.SetLevel(log.Level(cfg.LogLevel))
	return cfg, nil
}
