package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/spate/internal/logger"
	"github.com/tzrikka/spate/pkg/coordinator"
	"github.com/tzrikka/spate/pkg/network"
	"github.com/tzrikka/spate/pkg/rpc"
	"github.com/tzrikka/xdg"
)

const (
	ConfigDirName  = "spate"
	ConfigFileName = "config.toml"
)

func main() {
	bi, _ := debug.ReadBuildInfo()

	cmd := &cli.Command{
		Name:    "spate",
		Usage:   "Coordinator for distributed streaming dataflows",
		Version: bi.Main.Version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
			return runCoordinator(ctx, cmd)
		},
		Commands: []*cli.Command{
			{
				Name:  "submit",
				Usage: "Submit a query binary to a running coordinator",
				Flags: submitFlags(),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					initLog(cmd.Bool("dev") || cmd.Bool("pretty-log"))
					return submit(ctx, cmd)
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	fs := []cli.Flag{
		&cli.BoolFlag{
			Name:  "dev",
			Usage: "simple setup, but unsafe for production",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}

	path := configFile()
	fs = append(fs, network.Flags(path)...)
	fs = append(fs, coordinator.Flags(path)...)

	return fs
}

func submitFlags() []cli.Flag {
	return append(flags(),
		&cli.StringFlag{
			Name:  "addr",
			Usage: "address of the running coordinator",
			Value: fmt.Sprintf("localhost:%d", coordinator.DefaultPort),
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "human-readable query name",
			Value: "query",
		},
		&cli.StringFlag{
			Name:     "binary",
			Usage:    "path or URL of the query binary, as seen by the executors",
			Required: true,
		},
		&cli.IntFlag{
			Name:  "executors",
			Usage: "number of worker groups to place",
			Value: 1,
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "dataflow worker threads per group",
			Value: 1,
		},
	)
}

// configFile returns the path to the app's configuration file.
// It also creates an empty file if it doesn't already exist.
func configFile() altsrc.StringSourcer {
	path, err := xdg.CreateFile(xdg.ConfigHome, ConfigDirName, ConfigFileName)
	if err != nil {
		logger.FatalError("failed to create config file", err)
	}
	return altsrc.StringSourcer(path)
}

// initLog initializes the process-wide logger, based on
// whether the app is running in development mode or not.
func initLog(devMode bool) {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
	if devMode {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// runCoordinator starts the coordinator server and blocks forever.
func runCoordinator(ctx context.Context, cmd *cli.Command) error {
	ctx = logger.WithContext(ctx, log.Logger)
	n := network.New(cmd)

	port := cmd.Int("coordinator-port")
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid coordinator port %d", port)
	}

	s, err := rpc.Listen(n, uint16(port)) //gosec:disable G115 -- value checked before cast
	if err != nil {
		return err
	}
	defer s.Close()

	return coordinator.Serve(ctx, s, coordinator.New())
}

// submit sends a single query submission to a running
// coordinator, and reports the allocated query id.
func submit(ctx context.Context, cmd *cli.Command) error {
	n := network.New(cmd)

	out, in, err := rpc.Connect(n, cmd.String("addr"))
	if err != nil {
		return err
	}
	defer out.Close()
	_ = in // The submit client never receives requests.

	resp := rpc.Call[coordinator.QueryId, coordinator.SubmissionError](out, coordinator.Submission{
		Name:               cmd.String("name"),
		Binary:             cmd.String("binary"),
		NumExecutors:       cmd.Int("executors"),
		WorkersPerExecutor: cmd.Int("workers"),
	})

	id, err := resp.Wait(ctx)
	if err != nil {
		return fmt.Errorf("submission failed: %w", err)
	}

	fmt.Printf("query %d is running\n", id)
	return nil
}
