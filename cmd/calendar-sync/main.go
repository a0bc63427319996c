package main

import (
	"fmt"
	"os"

	"github.com/Slach/calendar-sync/pkg/cli"
	"github.com/Slach/calendar-sync/pkg/logging"
	"github.com/Slach/calendar-sync/pkg/types"
)

var version = "dev"

func main() {
	logging.InitConsole("info")
	rootCmd, cleanup := cli.NewRootCommand(&types.CLI{}, version)
	rootCmd.Version = version

	err := rootCmd.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
