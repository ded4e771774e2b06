package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "aggregate":
		return runAggregate(args[1:])
	case "dedup":
		return runDedup(args[1:])
	case "rank":
		return runRank(args[1:])
	case "tick":
		return runTick(args[1:])
	case "jobs":
		return runJobs(args[1:])
	case "run", "daemon":
		return runDaemon(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "trendwatch CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  trendwatch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health     Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate   Validate evidence JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  ingest     Load evidence JSON files into the store")
	fmt.Fprintln(os.Stderr, "  aggregate  Fold pending evidence into trend events")
	fmt.Fprintln(os.Stderr, "  dedup      Reconcile duplicate trend events into clusters")
	fmt.Fprintln(os.Stderr, "  rank       Print the current actionability ranking")
	fmt.Fprintln(os.Stderr, "  tick       Run one scheduler pass over due jobs")
	fmt.Fprintln(os.Stderr, "  jobs       List or seed scheduled job definitions")
	fmt.Fprintln(os.Stderr, "  run        Run the scheduler daemon")
	fmt.Fprintln(os.Stderr, "  serve      Start the Echo API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"trendwatch <command> -h\" for command-specific flags.")
}
