// Package main is the entry point for entitysyncd, the standalone sync
// engine daemon.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nugget/entitysync/internal/buildinfo"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("entitysyncd - reflection-driven state sync engine")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the sync engine and WebSocket transport")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}
