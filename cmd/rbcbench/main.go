// Command rbcbench runs one full reliable-broadcast instance entirely
// in-process over a MemoryNetwork, driving it with internal/benchmark's
// Syncer and reporting each party's termination latency. It is the
// in-process analogue of spawning n separate rbcnode processes over TCP,
// useful for quick comparisons between variants without any network setup.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/SohamJog/reliable-broadcast-protocols/common/log"
	"github.com/SohamJog/reliable-broadcast-protocols/core"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/benchmark"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/config"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/rbc"
	"github.com/SohamJog/reliable-broadcast-protocols/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "rbcbench",
		Usage: "benchmark one reliable-broadcast instance over an in-memory network",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "group", Usage: "path to group TOML (parties + f)", Required: true},
			&cli.StringFlag{Name: "protocol", Usage: "addrbc|ctrbc|borbc|ccbrb (or rbc as an alias for addrbc)", Value: "addrbc"},
			&cli.UintFlag{Name: "originator", Usage: "replica id that starts the broadcast", Value: 0},
			&cli.StringFlag{Name: "payload", Usage: "originator's input payload", Value: "hello, reliable broadcast"},
			&cli.BoolFlag{Name: "byzantine-originator", Usage: "make the originator send malformed shards to every peer but itself"},
			&cli.DurationFlag{Name: "timeout", Usage: "abort if the run has not completed within this duration", Value: 30 * time.Second},
			&cli.StringFlag{Name: "run-id", Usage: "unique id distinguishing this run's instance from prior runs against the same group; defaults to a random id"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	group, err := config.LoadGroup(c.String("group"))
	if err != nil {
		return fmt.Errorf("rbcbench: %w", err)
	}
	protocol, ok := config.ValidProtocols[c.String("protocol")]
	if !ok {
		return fmt.Errorf("rbcbench: unknown protocol %q", c.String("protocol"))
	}
	originator := core.ReplicaID(c.Uint("originator"))
	if _, ok := group.By(originator); !ok {
		return fmt.Errorf("rbcbench: originator %d is not a member of the group", originator)
	}

	l := log.DefaultLogger()
	parties := group.Sorted()
	ids := make([]core.ReplicaID, len(parties))
	for i, p := range parties {
		ids[i] = p.ID
	}
	net := transport.NewMemoryNetwork(ids, 256)

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	instance := core.InstanceID(fmt.Sprintf("origin:%d:seq:%s", originator, runID))
	syncer := benchmark.NewSyncer(len(parties), instance, originator, l)

	ctx, cancel := context.WithTimeout(context.Background(), c.Duration("timeout"))
	defer cancel()

	g, runCtx := errgroup.WithContext(ctx)
	nodes := make(map[core.ReplicaID]*rbc.Node, len(parties))
	for _, p := range parties {
		variant, err := rbc.NewVariant(protocol)
		if err != nil {
			return fmt.Errorf("rbcbench: %w", err)
		}
		node := rbc.NewNode(p.ID, group, variant, net.For(p.ID), l, nil)
		if p.ID == originator && c.Bool("byzantine-originator") {
			node.Byzantine = true
		}
		syncer.Attach(node)
		nodes[p.ID] = node

		g.Go(func() error { return node.Run(runCtx) })
		syncer.ReportAlive(p.ID)
	}

	start := func(ctx context.Context) error {
		return nodes[originator].StartBroadcast(ctx, instance, []byte(c.String("payload")))
	}

	latencies, runErr := syncer.Run(runCtx, start)
	cancel()
	for _, node := range nodes {
		_ = node.Shutdown()
	}
	_ = g.Wait()

	printLatencies(latencies, parties)
	if runErr != nil {
		return fmt.Errorf("rbcbench: %w", runErr)
	}
	return nil
}

func printLatencies(latencies map[core.ReplicaID]time.Duration, parties []core.Party) {
	fmt.Printf("%-10s %s\n", "replica", "latency")
	for _, p := range parties {
		d, ok := latencies[p.ID]
		if !ok {
			fmt.Printf("%-10d %s\n", p.ID, "<did not complete>")
			continue
		}
		fmt.Printf("%-10d %s\n", p.ID, d)
	}
}
