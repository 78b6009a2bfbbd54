// Package network turns TCP sockets into bidirectional carriers of
// [wire.MessageBuf] frames. Each connection gets a pair of dedicated
// goroutines: a writer draining an unbounded outbound queue, and a
// reader filling an unbounded inbound queue, so that application
// goroutines never touch the socket directly.
package network

import (
	"fmt"
	"net"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultHostname = "localhost"
)

// Network holds the process-wide transport configuration. The external
// hostname is only used when advertising endpoints to peers, never for
// binding sockets.
type Network struct {
	hostname string
}

// New initializes the transport configuration from CLI flags.
func New(cmd *cli.Command) *Network {
	return &Network{hostname: cmd.String("external-hostname")}
}

// NewWithHostname initializes the transport configuration directly,
// for callers that don't go through the CLI.
func NewWithHostname(hostname string) *Network {
	if hostname == "" {
		hostname = DefaultHostname
	}
	return &Network{hostname: hostname}
}

// Hostname returns the externally advertised hostname.
func (n *Network) Hostname() string {
	return n.hostname
}

// Connect dials the given TCP endpoint and returns its frame channel.
func (n *Network) Connect(addr string) (*Sender, *Receiver, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	s, r := n.Channel(conn)
	return s, r, nil
}

// Flags defines CLI flags to configure the transport layer. These flags can
// also be set using environment variables and the application's configuration
// file.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "external-hostname",
			Usage: "hostname advertised to peers, not used for binding",
			Value: DefaultHostname,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("SPATE_EXTERNAL_HOSTNAME"),
				toml.TOML("network.external_hostname", configFilePath),
			),
		},
	}
}
