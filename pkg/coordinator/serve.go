package coordinator

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"

	"github.com/tzrikka/spate/pkg/rpc"
)

const (
	DefaultPort = 9189
)

// ErrServerClosed is returned by [Serve] after [rpc.Server.Close].
var ErrServerClosed = errors.New("coordinator server closed")

// Serve runs the coordinator's accept loop: every connection gets its
// own [Dispatch] and its own consuming goroutine. It blocks until the
// server stops accepting, or the context is canceled.
func Serve(ctx context.Context, s *rpc.Server, coord *Coordinator) error {
	hostname, port := s.ExternalAddr()
	log.Info().Str("hostname", hostname).Uint16("port", port).Msg("coordinator is listening")

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		out, in, ok := s.Accept()
		if !ok {
			return ErrServerClosed
		}
		go serveConn(ctx, coord, out, in)
	}
}

// serveConn consumes one connection's requests until it ends, then
// releases whatever the connection accumulated. A dispatch error is
// fatal for this connection only.
func serveConn(ctx context.Context, coord *Coordinator, out *rpc.Outgoing, in *rpc.Incoming) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := NewDispatch(ctx, coord, out)
	defer d.Close()
	defer out.Close()

	for req := range in.Requests() {
		if err := d.Dispatch(ctx, req); err != nil {
			d.l.Warn().Err(err).Msg("closing connection")
			return
		}
	}

	if err := in.Err(); err != nil {
		d.l.Info().Err(err).Msg("connection failed")
	}
}

// Flags defines CLI flags to configure the coordinator. These flags can
// also be set using environment variables and the application's
// configuration file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "coordinator-port",
			Usage: "TCP port the coordinator listens on (0 picks a free port)",
			Value: DefaultPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SPATE_COORDINATOR_PORT"),
				toml.TOML("coordinator.port", configFilePath),
			),
		},
	}
}
