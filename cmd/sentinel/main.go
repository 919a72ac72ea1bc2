package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "collect":
		collectCommand(args)
	case "watch":
		watchCommand(args)
	case "tail":
		tailCommand(args)
	case "query":
		queryCommand(args)
	case "stats":
		statsCommand(args)
	case "purge":
		purgeCommand(args)
	case "generate-config":
		generateConfigCommand(args)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: sentinel <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  collect          Run one collection cycle (--continuous to repeat)")
	fmt.Println("  watch            Collect continuously, evaluate alerts and serve the API")
	fmt.Println("  tail             Ingest a forwarded-events spool file as it grows")
	fmt.Println("  query            Search stored events")
	fmt.Println("  stats            Show event store statistics")
	fmt.Println("  purge            Delete events older than the retention period")
	fmt.Println("  generate-config  Write a sample configuration file")
}
