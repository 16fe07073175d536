package main

import (
	"github.com/notarynet/notary/cmd/notaryd/commands"
	"github.com/notarynet/notary/config"
	"github.com/notarynet/notary/libs/cli"
)

func main() {
	conf := config.DefaultConfig()

	rootCmd := commands.RootCommand(conf)
	rootCmd.AddCommand(
		commands.MakeInitFilesCommand(conf),
		commands.NewStartCommand(conf),
		commands.MakeShowBridgeKeyCommand(conf),
		commands.VersionCmd,
	)

	cli.Execute(cli.PrepareBaseCmd(rootCmd, "NOTARY", commands.DefaultHome()))
}
