package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/plughost/admin"
	"github.com/guseggert/plughost/host"
	"github.com/guseggert/plughost/internal/files"
	"github.com/guseggert/plughost/irc"
	"github.com/guseggert/plughost/plugin"
	"github.com/guseggert/plughost/registry"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	app := &cli.App{
		Name:  "plughost",
		Usage: "connect to IRC servers and route their events to plugin processes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "plugins-dir",
				Usage: "Directory containing one subdirectory per plugin. Relative paths are also searched for in parent directories.",
				Value: "plugins",
			},
			&cli.StringFlag{
				Name:  "entry-point",
				Usage: "Executable started inside each plugin directory.",
				Value: plugin.DefaultEntryPoint,
			},
			&cli.StringSliceFlag{
				Name:  "server",
				Usage: "IRC server to connect to, as host:port. May be repeated.",
			},
			&cli.StringFlag{
				Name:  "nick",
				Usage: "Nickname to use on every server.",
				Value: "plughost",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "Username to use on every server. Defaults to the nickname.",
			},
			&cli.StringSliceFlag{
				Name:  "channel",
				Usage: "Channel to join on every server. May be repeated.",
			},
			&cli.StringFlag{
				Name:  "command-prefix",
				Usage: "Prefix marking a chat message as a plugin command. Empty disables commands.",
				Value: "!",
			},
			&cli.StringFlag{
				Name:  "admin-addr",
				Usage: "Address for the admin HTTP API. Empty disables it.",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "One of [debug,info,warn,error].",
				Value: "info",
			},
			&cli.DurationFlag{
				Name:  "stderr-wait",
				Usage: "How long to wait for a dead plugin's stderr before logging it.",
				Value: 2 * time.Second,
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Usage: "How long plugins get to exit after being told to quit.",
				Value: 5 * time.Second,
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func run(cliCtx *cli.Context) error {
	logger, err := buildLogger(cliCtx.String("log-level"))
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("plughost").Sugar()

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting wd: %w", err)
	}
	pluginsDir, err := files.ResolveDir(cliCtx.String("plugins-dir"), wd)
	if err != nil {
		return fmt.Errorf("finding plugins dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	launcher := plugin.NewLauncher(
		pluginsDir,
		plugin.WithEntryPoint(cliCtx.String("entry-point")),
		plugin.WithLauncherLogger(log),
	)
	h, err := host.New(
		host.WithLogger(logger),
		host.WithRegistry(reg),
		host.WithLauncher(launcher),
		host.WithCommandPrefix(cliCtx.String("command-prefix")),
		host.WithStderrWait(cliCtx.Duration("stderr-wait")),
		host.WithShutdownTimeout(cliCtx.Duration("shutdown-timeout")),
	)
	if err != nil {
		return fmt.Errorf("building host: %w", err)
	}

	if addr := cliCtx.String("admin-addr"); addr != "" {
		adminServer := admin.New(reg, admin.WithListenAddr(addr), admin.WithLogger(logger))
		go func() {
			if err := adminServer.Run(); err != nil {
				log.Errorw("admin server failed", "Error", err)
			}
		}()
		defer adminServer.Stop()
	}

	hostErr := make(chan error, 1)
	go func() { hostErr <- h.Run(ctx) }()

	for _, addr := range cliCtx.StringSlice("server") {
		cfg := irc.Config{
			Addr:     addr,
			Nick:     cliCtx.String("nick"),
			User:     cliCtx.String("user"),
			Channels: cliCtx.StringSlice("channel"),
		}
		go connect(ctx, log, h, cfg)
	}

	return <-hostErr
}

// connect runs one IRC connection for as long as it lasts, feeding its messages to the host.
// A dropped connection is not redialed.
func connect(ctx context.Context, log *zap.SugaredLogger, h *host.Host, cfg irc.Config) {
	client, err := irc.Dial(ctx, log, cfg)
	if err != nil {
		log.Errorw("error connecting", "Addr", cfg.Addr, "Error", err)
		return
	}
	defer client.Close()

	if err := h.AddConnection(client); err != nil {
		log.Errorw("error registering connection", "Addr", cfg.Addr, "Error", err)
		return
	}
	err = client.Run(ctx, func(c *irc.Client, msg irc.Message) {
		h.HandleMessage(c, msg)
	})
	log.Infow("connection ended", "Addr", cfg.Addr, "Error", err)

	if err := h.RemoveConnection(client); err != nil {
		log.Debugw("error unregistering connection", "Addr", cfg.Addr, "Error", err)
	}
}
