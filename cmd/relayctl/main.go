// Command relayctl drives the companion-app side of the coop backend from a
// shell: claim a pairing code, change a relay's schedule, list snapshots and
// read relay status.
//
//	relayctl [-backend URL] claim -token T -code 12345678
//	relayctl [-backend URL] config -relay-id R -interval 5m [-rtsp-url U]
//	relayctl [-backend URL] snapshots -relay-id R [-limit 10]
//	relayctl [-backend URL] status -relay-id R
//	relayctl [-backend URL] pairing -code 12345678
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
	"time"

	"go.uber.org/zap"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/config"
	"github.com/edirooss/coop-relay/internal/domain/relay"
)

const defaultBackendURL = "https://coop-app-backend.fly.dev"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "relayctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("relayctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	backendURL := fs.String("backend", "", "backend base URL (default $COOP_BACKEND_URL or "+defaultBackendURL+")")
	timeout := fs.Duration("timeout", 15*time.Second, "request timeout")
	version := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: relayctl [flags] claim|config|snapshots|status|pairing [args]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *version {
		fmt.Fprintf(stdout, "relayctl %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		return nil
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	base := *backendURL
	if base == "" {
		base = getenv("COOP_BACKEND_URL")
	}
	if base == "" {
		base = defaultBackendURL
	}
	api, err := backend.NewClient(zap.NewNop(), base, backend.Options{Timeout: *timeout})
	if err != nil {
		return err
	}

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "claim":
		return claim(ctx, api, rest, stdout, stderr)
	case "config":
		return updateConfig(ctx, api, rest, stdout, stderr)
	case "snapshots":
		return snapshots(ctx, api, rest, stdout, stderr)
	case "status":
		return status(ctx, api, rest, stdout, stderr)
	case "pairing":
		return pairing(ctx, api, rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

func claim(ctx context.Context, api *backend.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("claim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	token := fs.String("token", "", "bearer token of the coop owner")
	code := fs.String("code", "", "pairing code shown by the relay")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *token == "" || !relay.ValidPairingCode(*code) {
		fmt.Fprintln(stderr, "claim: -token and an 8 digit -code are required")
		return errUsage
	}

	res, err := api.Claim(ctx, *token, *code)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	return printJSON(stdout, res)
}

func updateConfig(ctx context.Context, api *backend.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	relayID := fs.String("relay-id", "", "relay id")
	interval := fs.String("interval", "", "capture interval, e.g. 30s, 5m, 1h")
	rtspURL := fs.String("rtsp-url", "", "camera stream address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *relayID == "" || relay.ParseInterval(*interval) <= 0 {
		fmt.Fprintln(stderr, "config: -relay-id and a valid -interval are required")
		return errUsage
	}

	req := backend.UpdateConfigRequest{RelayID: *relayID, Interval: *interval, RTSPURL: *rtspURL}
	if err := api.UpdateConfig(ctx, req); err != nil {
		return fmt.Errorf("update config: %w", err)
	}
	cfg, err := api.RelayConfig(ctx, *relayID)
	if err != nil {
		return fmt.Errorf("read back config: %w", err)
	}
	return printJSON(stdout, cfg)
}

func snapshots(ctx context.Context, api *backend.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("snapshots", flag.ContinueOnError)
	fs.SetOutput(stderr)
	relayID := fs.String("relay-id", "", "relay id")
	limit := fs.Int("limit", 10, "number of snapshots")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *relayID == "" {
		fmt.Fprintln(stderr, "snapshots: -relay-id is required")
		return errUsage
	}

	list, err := api.Snapshots(ctx, *relayID, *limit)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	return printJSON(stdout, list)
}

func status(ctx context.Context, api *backend.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	relayID := fs.String("relay-id", "", "relay id")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *relayID == "" {
		fmt.Fprintln(stderr, "status: -relay-id is required")
		return errUsage
	}

	st, err := api.RelayStatus(ctx, *relayID)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return printJSON(stdout, st)
}

func pairing(ctx context.Context, api *backend.Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("pairing", flag.ContinueOnError)
	fs.SetOutput(stderr)
	code := fs.String("code", "", "pairing code")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if !relay.ValidPairingCode(*code) {
		fmt.Fprintln(stderr, "pairing: an 8 digit -code is required")
		return errUsage
	}

	res, err := api.PairingStatus(ctx, *code)
	if err != nil {
		return fmt.Errorf("pairing status: %w", err)
	}
	return printJSON(stdout, res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
