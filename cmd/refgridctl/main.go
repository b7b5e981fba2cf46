package main

import (
	"fmt"
	"os"

	"github.com/JonMunkholm/refgrid/internal/cli"
	"github.com/JonMunkholm/refgrid/internal/schema"
	_ "github.com/JonMunkholm/refgrid/internal/schema/tables" // Register built-in tables
)

func main() {
	if err := cli.NewRootCommand(schema.Default()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
