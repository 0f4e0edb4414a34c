package main

import (
	"fmt"
	"os"

	"github.com/npezzotti/go-chatsync/internal/cli"
	"github.com/npezzotti/go-chatsync/internal/config"
)

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "gochat:", err)
		os.Exit(1)
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gochat:", err)
		os.Exit(1)
	}
}
