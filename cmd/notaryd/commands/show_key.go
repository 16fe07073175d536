package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/internal/keystore"
)

// MakeShowBridgeKeyCommand returns the command printing the node's bridge
// public key and its derived on-chain identities.
func MakeShowBridgeKeyCommand(conf *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "show-key",
		Short: "Print this node's bridge public key and derived chain addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keystore.LoadBridgeKey(conf.BridgeKeyFile())
			if err != nil {
				return fmt.Errorf("loading bridge key (run init first?): %w", err)
			}

			pub := key.PubKey()
			ethAddr, err := pub.EthereumAddress()
			if err != nil {
				return err
			}

			fmt.Printf("public key:   %s\n", hex.EncodeToString(pub))
			fmt.Printf("eth address:  0x%s\n", hex.EncodeToString(ethAddr))
			fmt.Printf("xrpl account: %s\n", hex.EncodeToString(pub.XrplAccountID()))
			return nil
		},
	}
}
