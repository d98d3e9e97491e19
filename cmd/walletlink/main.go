package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"walletlink/go-client/internal/app"
	"walletlink/go-client/internal/config"
	"walletlink/go-client/internal/contracts"
	"walletlink/go-client/internal/dispatch"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const usage = `usage: walletlink [flags] <command> [args]

commands:
  connect                       start a key exchange with the wallet
  disconnect                    end the session
  sign-message <text>           ask the wallet to sign text
  sign-tx <base58> [message]    ask the wallet to sign and send a transaction
  handle <url>                  process a redirect from the wallet
  listen                        process redirects read from stdin, one per line
  status                        print the session state
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("walletlink", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage); fs.PrintDefaults() }
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", "", "Path to walletlink.yaml (optional)")
	statePath := fs.String("state", "", "Session state file override")
	printOnly := fs.Bool("print-only", false, "print wallet request URLs instead of opening them")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Fprintf(stdout, "walletlink version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	cfg, err := config.LoadFromPath(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "walletlink: %v\n", err)
		return 1
	}
	if *statePath != "" {
		cfg.State.Path = *statePath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "walletlink: invalid config: %v\n", err)
		return 1
	}

	var opener dispatch.Opener = dispatch.NewCommandOpener()
	if *printOnly {
		opener = dispatch.OpenerFunc(func(_ context.Context, rawURL string) error {
			_, err := fmt.Fprintln(stdout, rawURL)
			return err
		})
	}

	source := app.NewChannelSource("")
	client, err := app.New(app.Options{
		Config: cfg,
		Opener: opener,
		Source: source,
		Logger: app.NewLogger(stderr, cfg.Log.Level),
	})
	if err != nil {
		fmt.Fprintf(stderr, "walletlink: %v\n", err)
		return 1
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	code := exitCode(fs, stderr, execute(ctx, client, source, cmd, rest, stdin, stdout))
	if err := client.FlushMetrics(); err != nil {
		fmt.Fprintf(stderr, "walletlink: flush metrics: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func exitCode(fs *flag.FlagSet, stderr io.Writer, err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errUsage) {
		fs.Usage()
		return 2
	}
	fmt.Fprintf(stderr, "walletlink: %s: %v\n", contracts.ErrorCategory(err), err)
	return 1
}

var errUsage = errors.New("usage")

func execute(ctx context.Context, client *app.Client, source *app.ChannelSource, cmd string, args []string, stdin io.Reader, stdout io.Writer) error {
	enc := json.NewEncoder(stdout)
	switch cmd {
	case "connect":
		return client.Connect(ctx)
	case "disconnect":
		return client.Disconnect(ctx)
	case "sign-message":
		if len(args) == 0 {
			return errUsage
		}
		return client.SignMessage(ctx, strings.Join(args, " "))
	case "sign-tx":
		if len(args) == 0 {
			return errUsage
		}
		return client.SignAndSendTransaction(ctx, args[0], strings.Join(args[1:], " "))
	case "handle":
		if len(args) != 1 {
			return errUsage
		}
		for _, ev := range client.HandleURL(args[0]) {
			if err := enc.Encode(eventView(ev)); err != nil {
				return err
			}
		}
		return nil
	case "listen":
		return listen(ctx, client, source, stdin, enc)
	case "status":
		return enc.Encode(client.Status())
	default:
		return errUsage
	}
}

// listen feeds stdin lines to Run as runtime redirects and prints events
// until stdin closes or ctx is done.
func listen(ctx context.Context, client *app.Client, source *app.ChannelSource, stdin io.Reader, enc *json.Encoder) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, events, unsubscribe := client.Subscribe(0)
	defer unsubscribe()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				cancel()
				lines = nil
				continue
			}
			source.Push(line)
		case ev, ok := <-events:
			if !ok {
				return errors.New("event subscription closed")
			}
			if err := enc.Encode(eventView(ev.Event)); err != nil {
				return err
			}
		case err := <-done:
			for {
				select {
				case ev := <-events:
					if encErr := enc.Encode(eventView(ev.Event)); encErr != nil {
						return encErr
					}
				default:
					return err
				}
			}
		}
	}
}
