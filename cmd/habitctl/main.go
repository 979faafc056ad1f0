package main

import (
	"fmt"
	"os"

	"github.com/habitstreak/internal/cli"
	"github.com/habitstreak/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	os.Exit(cli.Execute(cli.NewRootCmd(cfg), os.Stderr))
}
