// Command tailf follows a single file and prints appended content to
// stdout. Useful for checking what the agent would see for a given log.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/transformerlab/provision-monitor/internal/tail"
)

func main() {
	usePolling := flag.Bool("poll", false, "use stat polling instead of filesystem notifications")
	interval := flag.Duration("interval", 2*time.Second, "poll interval (with -poll)")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-poll] [-interval d] <file>\n", os.Args[0])
		os.Exit(2)
	}

	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	watcher := tail.NewWatcher(flag.Arg(0), tail.Options{
		UsePolling:   *usePolling,
		PollInterval: *interval,
	})
	watcher.OnUpdate(func(content string) {
		fmt.Print(content)
	})

	if err := watcher.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start watcher")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	if err := watcher.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop watcher")
	}
}
