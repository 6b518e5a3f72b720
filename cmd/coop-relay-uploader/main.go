// Command coop-relay-uploader stores one snapshot in Supabase Storage and
// records it with the coop backend.
//
//	coop-relay-uploader --relay-id <id> --image-path <file>
//
// SUPABASE_URL, SUPABASE_SERVICE_KEY and COOP_BACKEND_URL must be set. On
// success the storage key is printed to stdout as
// "UPLOADED_IMAGE_PATH:<key>"; diagnostics go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/edirooss/coop-relay/internal/backend"
	"github.com/edirooss/coop-relay/internal/config"
	"github.com/edirooss/coop-relay/internal/infrastructure/objectstore"
	"github.com/edirooss/coop-relay/pkg/capturecmd"
)

const requestTimeout = 30 * time.Second

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*requestTimeout)
	defer cancel()
	os.Exit(run(ctx, os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

// run executes the uploader and returns the process exit code.
func run(ctx context.Context, args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("coop-relay-uploader", flag.ContinueOnError)
	fs.SetOutput(stderr)
	relayID := fs.String("relay-id", "", "relay id")
	imagePath := fs.String("image-path", "", "path to the .jpg image")
	version := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *version {
		fmt.Fprintf(stdout, "coop-relay-uploader %s (commit %s, built %s)\n", config.Version, config.GitCommit, config.BuildDate)
		return 0
	}

	log := buildLogger(stderr)
	defer log.Sync()

	if *relayID == "" || *imagePath == "" {
		log.Error("--relay-id and --image-path are required")
		return 1
	}

	supabaseURL := getenv("SUPABASE_URL")
	serviceKey := getenv("SUPABASE_SERVICE_KEY")
	backendURL := getenv("COOP_BACKEND_URL")
	if supabaseURL == "" || serviceKey == "" || backendURL == "" {
		log.Error("SUPABASE_URL, SUPABASE_SERVICE_KEY and COOP_BACKEND_URL must be set")
		return 1
	}

	key, err := upload(ctx, log, supabaseURL, serviceKey, getenv("SUPABASE_BUCKET"), backendURL, *relayID, *imagePath)
	if err != nil {
		log.Error("upload failed", zap.Error(err))
		return 1
	}

	fmt.Fprintln(stdout, capturecmd.MarkerLine(key))
	return 0
}

func upload(ctx context.Context, log *zap.Logger, supabaseURL, serviceKey, bucket, backendURL, relayID, imagePath string) (string, error) {
	store, err := objectstore.NewClient(log, supabaseURL, serviceKey, bucket, requestTimeout)
	if err != nil {
		return "", err
	}
	api, err := backend.NewClient(log, backendURL, backend.Options{Timeout: requestTimeout})
	if err != nil {
		return "", err
	}

	key := capturecmd.ObjectKey(relayID, time.Now())
	log = log.With(zap.String("relay_id", relayID), zap.String("key", key))

	log.Info("uploading snapshot", zap.String("image", imagePath))
	if err := store.PutFile(ctx, key, imagePath); err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}

	// Any 2xx records the snapshot; the response body is informational.
	res, err := api.RecordSnapshot(ctx, backend.SnapshotRecord{RelayID: relayID, ImageFilename: key})
	if err != nil && !errors.Is(err, backend.ErrInvalidResponse) {
		return "", fmt.Errorf("record snapshot: %w", err)
	}
	log.Info("snapshot recorded", zap.String("snapshot_id", res.SnapshotID))
	return key, nil
}

func buildLogger(w io.Writer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = ""
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), zap.InfoLevel)
	return zap.New(core).Named("uploader")
}
