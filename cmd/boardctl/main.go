// Command boardctl talks to a running collabdraw server.
//
//	boardctl [-server URL] new
//	boardctl [-server URL] export -board ID [-format png|pdf] [-o FILE]
//	boardctl [-server URL] watch -board ID [-after RFC3339]
//	boardctl [-server URL] background PROMPT...
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"collabdraw-server/internal/client"
	"collabdraw-server/internal/domain"
	"collabdraw-server/internal/logging"
	"collabdraw-server/internal/session"
)

func main() {
	server := flag.String("server", envOr("COLLABDRAW_URL", "http://localhost:8080"), "server base URL")
	public := flag.String("public", envOr("PUBLIC_URL", ""), "public URL used in share links (defaults to -server)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log := logging.New("warn", "text", os.Stderr)
	c := client.New(*server, session.NewClientID(), nil, log)
	if *public == "" {
		*public = *server
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "new":
		err = runNew(ctx, c, *public)
	case "export":
		err = runExport(ctx, c, args)
	case "watch":
		err = runWatch(ctx, c, args)
	case "background":
		err = runBackground(ctx, c, args)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "boardctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: boardctl [-server URL] new | export -board ID [-format png|pdf] [-o FILE] | watch -board ID [-after TS] | background PROMPT")
	flag.PrintDefaults()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func runNew(ctx context.Context, c *client.Client, public string) error {
	id, err := c.CreateBoard(ctx)
	if err != nil {
		return err
	}
	fmt.Println(id)
	fmt.Println(session.ShareURL(public, id))
	return nil
}

func runExport(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	board := fs.String("board", "", "board id")
	format := fs.String("format", "png", "png or pdf")
	out := fs.String("o", "", "output file (default collab-draw-<board>.<format>, - for stdout)")
	fs.Parse(args)

	if *board == "" {
		return errors.New("-board is required")
	}
	if *format != "png" && *format != "pdf" {
		return fmt.Errorf("unknown format %q", *format)
	}
	if *out == "" {
		*out = "collab-draw-" + *board + "." + *format
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	return c.Export(ctx, *board, *format, w)
}

func runWatch(ctx context.Context, c *client.Client, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	board := fs.String("board", "", "board id")
	after := fs.String("after", "", "only actions after this RFC 3339 timestamp")
	fs.Parse(args)

	if *board == "" {
		return errors.New("-board is required")
	}
	since := domain.Epoch
	if *after != "" {
		t, err := time.Parse(time.RFC3339Nano, *after)
		if err != nil {
			return fmt.Errorf("invalid -after: %w", err)
		}
		since = t
	}

	sub, err := c.Subscribe(ctx, *board, since)
	if err != nil {
		return err
	}
	defer sub.Close()

	enc := json.NewEncoder(os.Stdout)
	for batch := range sub.Batches() {
		for _, a := range batch {
			if err := enc.Encode(a); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

func runBackground(ctx context.Context, c *client.Client, args []string) error {
	bg, err := c.GenerateBackground(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s\n", bg.Hint, bg.URL)
	return nil
}
