package main

import (
	"fmt"
	"os"

	"github.com/bellabot/bella/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	if os.Getenv("BELLA_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bella:", err)
		os.Exit(1)
	}
}
