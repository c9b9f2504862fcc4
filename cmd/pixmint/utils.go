// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/pixmint/pixmint/blob"
	"github.com/pixmint/pixmint/co"
	"github.com/pixmint/pixmint/gendb"
	"github.com/pixmint/pixmint/log"
)

func fatal(args ...interface{}) {
	var w io.Writer
	if runtime.GOOS == "windows" {
		// stdout is unlikely to get redirected on Windows, just print there
		w = os.Stdout
	} else {
		outf, _ := os.Stdout.Stat()
		errf, _ := os.Stderr.Stat()
		if outf != nil && errf != nil && os.SameFile(outf, errf) {
			w = os.Stderr
		} else {
			w = io.MultiWriter(os.Stdout, os.Stderr)
		}
	}
	fmt.Fprint(w, "Fatal: ")
	fmt.Fprintln(w, args...)
	os.Exit(1)
}

func initLogger(ctx *cli.Context) *slog.LevelVar {
	var level slog.Level
	switch ctx.Int(verbosityFlag.Name) {
	case 0:
		level = log.LevelError
	case 1:
		level = log.LevelWarn
	case 2:
		level = log.LevelInfo
	case 3:
		level = log.LevelDebug
	default:
		level = log.LevelTrace
	}
	if ctx.Bool(jsonLogsFlag.Name) {
		return log.InitJSON(os.Stderr, level)
	}
	return log.Init(os.Stderr, level)
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		switch runtime.GOOS {
		case "darwin":
			return filepath.Join(home, "Library", "Application Support", "org.pixmint")
		case "windows":
			return filepath.Join(home, "AppData", "Roaming", "org.pixmint")
		default:
			return filepath.Join(home, ".org.pixmint")
		}
	}
	return ""
}

func makeDataDir(ctx *cli.Context) string {
	dir := ctx.String(dataDirFlag.Name)
	if dir == "" {
		fatal(fmt.Sprintf("unable to infer default data dir, use --%s to specify one", dataDirFlag.Name))
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal(fmt.Sprintf("create data dir at '%v': %v", dir, err))
	}
	return dir
}

// openBlobStore picks the S3-compatible store when credentials are present
// and falls back to the in-memory store for local development.
func openBlobStore(ctx *cli.Context) blob.Store {
	opts := blob.S3Options{
		Endpoint:        ctx.String(r2EndpointFlag.Name),
		AccessKeyID:     ctx.String(r2AccessKeyIDFlag.Name),
		SecretAccessKey: ctx.String(r2SecretAccessKeyFlag.Name),
		Bucket:          ctx.String(r2BucketFlag.Name),
		PublicBaseURL:   ctx.String(r2PublicBaseURLFlag.Name),
	}
	if opts.Endpoint == "" || opts.AccessKeyID == "" || opts.SecretAccessKey == "" || opts.Bucket == "" {
		logger.Warn("blob store credentials not configured, falling back to in-memory store")
		return blob.NewMem()
	}

	store, err := blob.NewS3(context.Background(), opts)
	if err != nil {
		fatal(fmt.Sprintf("open blob store at '%v': %v", opts.Endpoint, err))
	}
	return store
}

// operation costs charged per generated image
var defaultOperationTypes = []*gendb.OperationType{
	{Name: "text_to_image", TokensPerOperation: 100, Active: true},
	{Name: "image_reference", TokensPerOperation: 150, Active: true},
	{Name: "image_multiple_reference", TokensPerOperation: 200, Active: true},
}

// seedOperationTypes inserts the default operation costs on first boot,
// leaving operator-tuned rows alone.
func seedOperationTypes(db *gendb.DB) error {
	ctx := context.Background()
	for _, op := range defaultOperationTypes {
		if _, err := db.GetOperationType(ctx, op.Name); err == nil {
			continue
		} else if !errors.Is(err, gendb.ErrNotFound) {
			return err
		}
		if err := db.SetOperationType(ctx, op); err != nil {
			return err
		}
	}
	return nil
}

func startAPIServer(addr string, handler http.HandlerFunc) (string, func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrapf(err, "listen API addr [%v]", addr)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	var goes co.Goes
	goes.Go(func() {
		srv.Serve(listener)
	})
	return "http://" + listener.Addr().String() + "/", func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		goes.Wait()
	}, nil
}

func handleExitSignal() context.Context {
	exitSignalCh := make(chan os.Signal, 1)
	signal.Notify(exitSignalCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := <-exitSignalCh
		logger.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}
