// Command casewatchctl inspects and drives a running casewatch-server over
// its HTTP listener.
//
//	casewatchctl [-server URL] [-key KEY] [-header NAME] stats|pending|health|producers|flush
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/casewatch/casewatch/server/internal/stats"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "casewatch-server HTTP base URL")
	key := flag.String("key", os.Getenv("CASEWATCH_API_KEY"), "API key (default $CASEWATCH_API_KEY)")
	header := flag.String("header", "x-api-key", "header the API key is sent in")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: casewatchctl [flags] stats|pending|health|producers|flush\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := stats.NewClient(*server, *header, *key)
	if err := run(ctx, c, flag.Arg(0), os.Stdout); err != nil {
		slog.Error("casewatchctl: "+flag.Arg(0)+" failed", "server", *server, "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *stats.Client, cmd string, out io.Writer) error {
	var (
		v   any
		err error
	)
	switch cmd {
	case "stats":
		s, err := c.Summary(ctx)
		if err != nil {
			return err
		}
		return s.Print(out)
	case "pending":
		v, err = c.Pending(ctx)
	case "health":
		v, err = c.Health(ctx)
	case "producers":
		v, err = c.Producers(ctx)
	case "flush":
		v, err = c.Flush(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
