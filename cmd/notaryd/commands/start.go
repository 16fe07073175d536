package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/internal/notary"
	"github.com/notarynet/notary/node"
)

// sourceCapacity buffers runtime notifications pushed by an attached host.
const sourceCapacity = 1024

// NewStartCommand returns the command that runs the notary daemon until it
// receives SIGTERM or SIGINT.
//
// Standalone notaryd has no runtime attached: it serves RPC queries over
// previously stored proofs and gossip traffic, but originates no new work
// until a host runtime pushes notifications through the node's source.
func NewStartCommand(conf *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the notary daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := makeLogger(conf)
			if err != nil {
				return err
			}

			source := notary.NewChannelSource(sourceCapacity)
			n, err := node.New(logger, conf, source, nil)
			if err != nil {
				return fmt.Errorf("failed to create node: %w", err)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer cancel()

			if err := n.Start(ctx); err != nil {
				return fmt.Errorf("failed to start node: %w", err)
			}
			logger.Info("started node", "moniker", conf.Moniker, "rpc", n.RPCAddr())

			<-ctx.Done()
			logger.Info("shutting down")
			n.Wait()
			return nil
		},
	}

	cmd.Flags().String("moniker", conf.Moniker, "node name")
	cmd.Flags().String("rpc.laddr", conf.RPC.ListenAddress, "RPC listen address. Port required")
	cmd.Flags().String("inbound.ethereum-rpc", conf.Inbound.EthereumRPC,
		"Ethereum JSON-RPC endpoint for inbound claim observation")
	cmd.Flags().String("db-backend", conf.DBBackend, "database backend: goleveldb | badgerdb | memdb")
	cmd.Flags().String("db-dir", conf.DBPath, "database directory")
	return cmd
}
