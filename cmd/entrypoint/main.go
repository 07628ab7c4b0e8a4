// Package main provides the Docker container entrypoint
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

func main() {
	runType := getEnvWithDefault("RUN_TYPE", "bot")
	workerType := getEnvWithDefault("WORKER_TYPE", "process")

	switch runType {
	case "bot":
		var args []string
		if noWorkers, _ := strconv.ParseBool(os.Getenv("NO_WORKERS")); noWorkers {
			args = append(args, "--no-workers")
		}
		execBinary("/app/bin/bot", args...)
	case "worker":
		execBinary("/app/bin/worker", workerType)
	case "migrate":
		execBinary("/app/bin/db", "migrate")
	default:
		fmt.Fprintf(os.Stderr, "Invalid RUN_TYPE. Must be 'bot', 'worker' or 'migrate'\n")
		fmt.Fprintf(os.Stderr, "Usage: RUN_TYPE=worker WORKER_TYPE=<process|purge>\n")
		os.Exit(1)
	}
}

// getEnvWithDefault returns the environment variable value or the default if not set.
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// execBinary executes the specified binary with given arguments.
func execBinary(path string, args ...string) {
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute %s: %v\n", filepath.Base(path), err)
		os.Exit(1)
	}
}
