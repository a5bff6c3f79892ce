package main

import (
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docsrelay/cmd/docsrelay/cmds"
)

func main() {
	rootCmd, err := cmds.NewRootCommand()
	cobra.CheckErr(err)
	cobra.CheckErr(rootCmd.Execute())
}
