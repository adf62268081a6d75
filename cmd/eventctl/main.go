// Command eventctl runs operator tasks against the event store: lifecycle
// sweeps, archival, rankings and DLQ requeues.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/sirdesai22/event-service/internal/app"
	"github.com/sirdesai22/event-service/internal/config"
)

func main() {
	log.SetFlags(0)
	fs := flag.NewFlagSet("eventctl", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}

	envCfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	a, err := app.New(envCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err = Run(ctx, Services{
		DB:        a.DB,
		Lifecycle: a.Lifecycle,
		Events:    a.Events,
		Scoring:   a.Scoring,
		Retrier:   a.Retrier,
	}, cfg, os.Stdout)
	stop()
	a.Close()
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(exitCode(err))
	}
}
