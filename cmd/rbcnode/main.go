// Command rbcnode is the process entry point for one party of a reliable
// broadcast run: it loads its party table and startup options, spawns a
// Node over a real TCP transport, and optionally starts the broadcast
// immediately if this replica is the designated originator.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	multiaddr "github.com/multiformats/go-multiaddr"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/SohamJog/reliable-broadcast-protocols/common/log"
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/config"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/rbc"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/transport"
)

var (
	version   = "dev"
	gitCommit = "none"
)

var selfFlag = &cli.UintFlag{
	Name:     "self",
	Usage:    "this process's replica id",
	Required: true,
}

var listenFlag = &cli.StringFlag{
	Name:     "listen",
	Usage:    "TCP address to bind for incoming peer connections, e.g. :9100",
	Required: true,
}

var configFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "path to this replica's node TOML (protocol, input, byz, crash, config)",
	Required: true,
}

var startFlag = &cli.BoolFlag{
	Name:  "start",
	Usage: "start the broadcast immediately after spawning (this replica is the originator)",
}

var seqFlag = &cli.StringFlag{
	Name:  "instance",
	Usage: "broadcast instance id; defaults to origin:<self>:seq:0",
}

func main() {
	app := &cli.App{
		Name:    "rbcnode",
		Usage:   "run one party of a reliable broadcast instance",
		Version: version,
		Commands: []*cli.Command{
			spawnCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var spawnCmd = &cli.Command{
	Name:  "spawn",
	Usage: "spawn this replica's Node and block until shutdown",
	Flags: []cli.Flag{selfFlag, listenFlag, configFlag, startFlag, seqFlag},
	Action: func(c *cli.Context) error {
		return runSpawn(c)
	},
}

func runSpawn(c *cli.Context) error {
	self := core.ReplicaID(c.Uint("self"))
	l := log.DefaultLogger().Named(fmt.Sprintf("replica-%d", self))

	nodeCfg, err := config.Load(c.String(configFlag.Name))
	if err != nil {
		return fmt.Errorf("rbcnode: %w", err)
	}
	group, err := config.LoadGroup(nodeCfg.GroupFile)
	if err != nil {
		return fmt.Errorf("rbcnode: %w", err)
	}
	variant, err := rbc.NewVariant(nodeCfg.Protocol)
	if err != nil {
		return fmt.Errorf("rbcnode: %w", err)
	}

	peerAddrs := make(map[core.ReplicaID]string)
	for _, p := range group.Parties {
		if p.ID == self {
			continue
		}
		addr, err := hostPort(p.Addr)
		if err != nil {
			return fmt.Errorf("rbcnode: party %d: %w", p.ID, err)
		}
		peerAddrs[p.ID] = addr
	}

	t, err := transport.NewTCPTransport(self, c.String(listenFlag.Name), peerAddrs, l)
	if err != nil {
		return fmt.Errorf("rbcnode: %w", err)
	}

	node := rbc.NewNode(self, group, variant, t, l, nil)
	node.Byzantine = !nodeCfg.Honest
	node.Crash = !nodeCfg.NotCrashed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Infow("received signal, shutting down", "signal", s.String())
		cancel()
	}()

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return node.Run(runCtx) })

	if c.Bool(startFlag.Name) {
		instance := core.InstanceID(c.String(seqFlag.Name))
		if instance == "" {
			instance = core.InstanceID(fmt.Sprintf("origin:%d:seq:0", self))
		}
		g.Go(func() error {
			if err := node.StartBroadcast(runCtx, instance, nodeCfg.Input); err != nil {
				return fmt.Errorf("rbcnode: start broadcast: %w", err)
			}
			return nil
		})
	}

	waitErr := g.Wait()
	if shutdownErr := node.Shutdown(); shutdownErr != nil {
		l.Warnw("error during shutdown", "err", shutdownErr)
	}
	if waitErr != nil && ctx.Err() == nil {
		return waitErr
	}
	return nil
}

// hostPort extracts a dialable "host:port" TCP address from a multiaddr
// party address, e.g. "/ip4/127.0.0.1/tcp/9100".
func hostPort(addr multiaddr.Multiaddr) (string, error) {
	ip, err := addr.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		ip, err = addr.ValueForProtocol(multiaddr.P_IP6)
		if err != nil {
			return "", fmt.Errorf("multiaddr has no ip4/ip6 component: %w", err)
		}
	}
	port, err := addr.ValueForProtocol(multiaddr.P_TCP)
	if err != nil {
		return "", fmt.Errorf("multiaddr has no tcp component: %w", err)
	}
	return net.JoinHostPort(ip, port), nil
}

var _ = gitCommit
