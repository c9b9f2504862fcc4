// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	cli "gopkg.in/urfave/cli.v1"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:   "data-dir",
		Value:  defaultDataDir(),
		Usage:  "directory for databases and temp files",
		EnvVar: "DATA_DIR",
	}
	apiAddrFlag = cli.StringFlag{
		Name:   "api-addr",
		Value:  "localhost:8080",
		Usage:  "API service listening address",
		EnvVar: "API_ADDR",
	}
	apiCorsFlag = cli.StringFlag{
		Name:   "api-cors",
		Value:  "*",
		Usage:  "comma separated list of domains from which to accept cross origin requests to API",
		EnvVar: "CORS_ORIGIN",
	}
	adminAddrFlag = cli.StringFlag{
		Name:   "admin-addr",
		Value:  "localhost:2113",
		Usage:  "admin service listening address",
		EnvVar: "ADMIN_ADDR",
	}
	enableAdminFlag = cli.BoolFlag{
		Name:   "enable-admin",
		Usage:  "enables admin server endpoints",
		EnvVar: "ADMIN_ENABLED",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:   "enable-metrics",
		Usage:  "enables metrics collection",
		EnvVar: "METRICS_ENABLED",
	}
	enableAPILogsFlag = cli.BoolFlag{
		Name:   "enable-api-logs",
		Usage:  "enables API requests logging",
		EnvVar: "API_LOGS_ENABLED",
	}
	tokenSecretFlag = cli.StringFlag{
		Name:   "token-secret",
		Usage:  "HMAC secret used to verify bearer tokens",
		EnvVar: "TOKEN_SECRET_KEY",
	}
	modelEndpointFlag = cli.StringFlag{
		Name:   "model-endpoint",
		Usage:  "HTTP endpoint of the image model",
		EnvVar: "MODEL_ENDPOINT",
	}
	modelAPIKeyFlag = cli.StringFlag{
		Name:   "model-api-key",
		Usage:  "API key sent to the image model",
		EnvVar: "MODEL_API_KEY",
	}
	r2EndpointFlag = cli.StringFlag{
		Name:   "r2-endpoint",
		Usage:  "S3-compatible endpoint of the blob store",
		EnvVar: "R2_ENDPOINT",
	}
	r2AccessKeyIDFlag = cli.StringFlag{
		Name:   "r2-access-key-id",
		Usage:  "access key id of the blob store",
		EnvVar: "R2_ACCESS_KEY_ID",
	}
	r2SecretAccessKeyFlag = cli.StringFlag{
		Name:   "r2-secret-access-key",
		Usage:  "secret access key of the blob store",
		EnvVar: "R2_SECRET_ACCESS_KEY",
	}
	r2BucketFlag = cli.StringFlag{
		Name:   "r2-bucket",
		Usage:  "bucket holding uploads and generated images",
		EnvVar: "R2_BUCKET",
	}
	r2PublicBaseURLFlag = cli.StringFlag{
		Name:   "r2-public-url",
		Usage:  "public base URL from which stored blobs are served",
		EnvVar: "R2_PUBLIC_BASE_URL",
	}
	tempCleanupCronFlag = cli.StringFlag{
		Name:   "temp-cleanup-cron",
		Usage:  "cron expression scheduling the temp file sweep",
		EnvVar: "TEMP_FILE_CLEANUP_CRON",
	}
	workerConcurrencyFlag = cli.IntFlag{
		Name:   "worker-concurrency",
		Value:  0,
		Usage:  "number of concurrent generation workers (0 means default)",
		EnvVar: "WORKER_CONCURRENCY",
	}
	workerRateFlag = cli.IntFlag{
		Name:   "worker-rate",
		Value:  0,
		Usage:  "max generation jobs dispatched per second (0 means default)",
		EnvVar: "WORKER_RATE",
	}
	verbosityFlag = cli.IntFlag{
		Name:   "verbosity",
		Value:  2,
		Usage:  "log verbosity (0=error 1=warn 2=info 3=debug 4=trace)",
		EnvVar: "VERBOSITY",
	}
	jsonLogsFlag = cli.BoolFlag{
		Name:  "json-logs",
		Usage: "output logs in JSON format",
	}
)
