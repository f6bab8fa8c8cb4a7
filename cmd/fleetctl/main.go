package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edvin/fleet/internal/fleetctl"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "apply":
		fs := flag.NewFlagSet("apply", flag.ExitOnError)
		file := fs.String("f", "", "Path to fleet definition YAML file (required)")
		timeout := fs.Duration("timeout", 5*time.Minute, "Timeout for the whole apply")
		fs.Parse(os.Args[2:])

		if *file == "" {
			fmt.Fprintln(os.Stderr, "Error: -f flag is required")
			fs.Usage()
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		ctx, cancel := context.WithTimeout(ctx, *timeout)
		err := fleetctl.Apply(ctx, *file, os.Stdout)
		cancel()
		stop()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  fleetctl apply -f <fleet.yaml>

Commands:
  apply    Register nodes, set disk policies and create port pools from a YAML definition

Flags:
  -f string         Path to YAML fleet definition (required)
  -timeout duration Timeout for the whole apply (default: 5m)

The API key is read from api_key in the file or the FLEET_API_KEY env var.`)
}
