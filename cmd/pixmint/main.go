// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/pixmint/pixmint/admin"
	"github.com/pixmint/pixmint/api"
	"github.com/pixmint/pixmint/api/auth"
	"github.com/pixmint/pixmint/broker"
	"github.com/pixmint/pixmint/gen"
	"github.com/pixmint/pixmint/gendb"
	"github.com/pixmint/pixmint/health"
	"github.com/pixmint/pixmint/ledger"
	"github.com/pixmint/pixmint/log"
	"github.com/pixmint/pixmint/metrics"
	"github.com/pixmint/pixmint/model"
	"github.com/pixmint/pixmint/pix"
	"github.com/pixmint/pixmint/pushhub"
	"github.com/pixmint/pixmint/scheduler"
	"github.com/pixmint/pixmint/tempfile"
)

var (
	version   string
	gitCommit string
	gitTag    string

	logger = log.WithContext("pkg", "main")
)

func fullVersion() string {
	versionMeta := "release"
	if gitTag == "" {
		versionMeta = "dev"
	}
	return fmt.Sprintf("%s-%s-%s", version, gitCommit, versionMeta)
}

func main() {
	app := cli.App{
		Version:   fullVersion(),
		Name:      "PixMint",
		Usage:     "Image generation backend",
		Copyright: "2025 The PixMint developers",
		Flags: []cli.Flag{
			dataDirFlag,
			apiAddrFlag,
			apiCorsFlag,
			adminAddrFlag,
			enableAdminFlag,
			enableMetricsFlag,
			enableAPILogsFlag,
			tokenSecretFlag,
			modelEndpointFlag,
			modelAPIKeyFlag,
			r2EndpointFlag,
			r2AccessKeyIDFlag,
			r2SecretAccessKeyFlag,
			r2BucketFlag,
			r2PublicBaseURLFlag,
			tempCleanupCronFlag,
			workerConcurrencyFlag,
			workerRateFlag,
			verbosityFlag,
			jsonLogsFlag,
		},
		Action: defaultAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAction(ctx *cli.Context) error {
	defer func() { logger.Info("exited") }()

	logLevel := initLogger(ctx)

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	secret := ctx.String(tokenSecretFlag.Name)
	if secret == "" {
		fatal(fmt.Sprintf("missing token secret, use --%s or TOKEN_SECRET_KEY", tokenSecretFlag.Name))
	}
	modelEndpoint := ctx.String(modelEndpointFlag.Name)
	if modelEndpoint == "" {
		fatal(fmt.Sprintf("missing model endpoint, use --%s or MODEL_ENDPOINT", modelEndpointFlag.Name))
	}

	dataDir := makeDataDir(ctx)

	lg, err := ledger.New(filepath.Join(dataDir, "tokens.db"))
	if err != nil {
		fatal(fmt.Sprintf("open ledger database: %v", err))
	}
	defer func() { logger.Info("closing ledger database..."); lg.Close() }()

	db, err := gendb.New(filepath.Join(dataDir, "gen.db"))
	if err != nil {
		fatal(fmt.Sprintf("open generations database: %v", err))
	}
	defer func() { logger.Info("closing generations database..."); db.Close() }()

	if err := seedOperationTypes(db); err != nil {
		fatal(fmt.Sprintf("seed operation types: %v", err))
	}

	blobs := openBlobStore(ctx)

	temps, err := tempfile.New(filepath.Join(dataDir, "tmp"), pix.DefaultTempFileTTL)
	if err != nil {
		fatal(fmt.Sprintf("open temp file store: %v", err))
	}

	bk := broker.New()

	a := auth.New(secret)
	hub := pushhub.New(a.VerifyToken, ctx.String(apiCorsFlag.Name))

	mc := model.NewHTTPClient(modelEndpoint, ctx.String(modelAPIKeyFlag.Name), 0)

	orch := gen.NewOrchestrator(db, lg, blobs, temps, bk)
	worker := gen.NewWorker(db, lg, blobs, temps, mc, hub)
	concurrency := ctx.Int(workerConcurrencyFlag.Name)
	if concurrency <= 0 {
		concurrency = gen.DefaultWorkerConcurrency
	}
	rate := ctx.Int(workerRateFlag.Name)
	if rate <= 0 {
		rate = gen.DefaultWorkerRatePerSec
	}
	worker.Register(bk, concurrency, rate)

	sched, err := scheduler.New(temps, ctx.String(tempCleanupCronFlag.Name))
	if err != nil {
		fatal(fmt.Sprintf("parse temp cleanup cron: %v", err))
	}
	sched.Start()

	healthStatus := health.New()
	healthStatus.Register("ledger", lg.Ping)
	healthStatus.Register("gendb", db.Ping)

	logRequests := new(atomic.Bool)
	logRequests.Store(ctx.Bool(enableAPILogsFlag.Name))

	var adminURL string
	if ctx.Bool(enableAdminFlag.Name) {
		url, closeAdmin, err := admin.StartServer(ctx.String(adminAddrFlag.Name), logLevel, healthStatus, logRequests)
		if err != nil {
			fatal(fmt.Sprintf("start admin server: %v", err))
		}
		adminURL = url
		defer func() { logger.Info("stopping admin server..."); closeAdmin() }()
	}

	apiHandler, closeAPI := api.New(orch, lg, a, hub, api.Options{
		AllowedOrigins: ctx.String(apiCorsFlag.Name),
		LogRequests:    logRequests,
		EnableMetrics:  ctx.Bool(enableMetricsFlag.Name),
	})
	apiURL, srvCloser, err := startAPIServer(ctx.String(apiAddrFlag.Name), apiHandler)
	if err != nil {
		fatal(fmt.Sprintf("start API server: %v", err))
	}
	// unwind order: scheduler, broker drain, push hub, API server
	defer func() { logger.Info("stopping API server..."); srvCloser() }()
	defer func() { logger.Info("closing push hub..."); closeAPI() }()
	defer func() { logger.Info("closing job broker..."); bk.Close() }()
	defer func() { logger.Info("stopping scheduler..."); sched.Stop() }()

	healthStatus.SetReady(true)
	printStartupMessage(apiURL, adminURL, dataDir)

	exitCtx := handleExitSignal()
	<-exitCtx.Done()
	healthStatus.SetReady(false)
	return nil
}

func printStartupMessage(apiURL, adminURL, dataDir string) {
	fmt.Printf(`Starting %v
    Version     %v
    Data dir    %v
    API portal  %v
`, "PixMint", fullVersion(), dataDir, apiURL)
	if adminURL != "" {
		fmt.Printf("    Admin       %v\n", adminURL)
	}
}
