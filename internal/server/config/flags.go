package config

import (
	"flag"

	"github.com/dmitrijs2005/chunkvault/internal/flagx"
)

// ownFlags are the flags parseFlags recognises; everything else in os.Args
// (e.g. -c) is left to other parsers.
var ownFlags = []string{
	"-a", "-m", "-l", "-d", "-s", "-ns",
	"-store", "-u", "-p", "-b", "-g", "-e", "-dir", "-compress",
	"-chunk-size", "-max-concurrency", "-parallel-threshold",
	"-retry-attempts", "-retry-base", "-retry-max",
	"-verify-timeout", "-transfer-timeout", "-manifest-timeout",
	"-sync-workers", "-sync-queue", "-recheck-interval", "-recheck-attempts",
	"-sync-grace", "-sync-processing-timeout",
	"-notify-url",
}

var boolFlags = []string{"-compress"}

// parseFlags populates Config fields from command-line flags.
//
// Short forms kept for the common settings:
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-m string   metrics bind address
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-u/-p/-b/-g/-e  S3 user, password, bucket, region, endpoint
//
// Durations use Go syntax ("500ms", "3s").
func parseFlags(config *Config, args []string) {
	args = flagx.Filter{Allowed: ownFlags, Bool: boolFlags}.Apply(args)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address for the /metrics endpoint")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.ClaimNamespace, "ns", config.ClaimNamespace, "namespace prefix of custom identity claims")

	fs.StringVar(&config.StoreDriver, "store", config.StoreDriver, "chunk store driver (s3, minio, local, memory)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.LocalStoreDir, "dir", config.LocalStoreDir, "directory of the local chunk store")
	fs.BoolVar(&config.CompressChunks, "compress", config.CompressChunks, "zstd-compress chunks at rest")

	fs.IntVar(&config.ChunkSize, "chunk-size", config.ChunkSize, "chunk size in bytes")
	fs.IntVar(&config.MaxConcurrency, "max-concurrency", config.MaxConcurrency, "max concurrent chunk operations")
	fs.IntVar(&config.FullParallelThreshold, "parallel-threshold", config.FullParallelThreshold, "chunk count up to which operations run fully parallel")

	fs.IntVar(&config.RetryMaxAttempts, "retry-attempts", config.RetryMaxAttempts, "attempts per chunk or manifest call")
	fs.DurationVar(&config.RetryBaseDelay, "retry-base", config.RetryBaseDelay, "initial retry delay")
	fs.DurationVar(&config.RetryMaxDelay, "retry-max", config.RetryMaxDelay, "retry delay cap")
	fs.DurationVar(&config.VerifyTimeout, "verify-timeout", config.VerifyTimeout, "timeout of a chunk existence check")
	fs.DurationVar(&config.TransferTimeout, "transfer-timeout", config.TransferTimeout, "timeout of a chunk put/get/delete")
	fs.DurationVar(&config.ManifestTimeout, "manifest-timeout", config.ManifestTimeout, "timeout of a manifest store call")

	fs.IntVar(&config.SyncWorkers, "sync-workers", config.SyncWorkers, "sync processor workers")
	fs.IntVar(&config.SyncQueueSize, "sync-queue", config.SyncQueueSize, "sync processor queue size")
	fs.DurationVar(&config.RecheckInterval, "recheck-interval", config.RecheckInterval, "period of the upload re-check loop")
	fs.IntVar(&config.RecheckMaxAttempts, "recheck-attempts", config.RecheckMaxAttempts, "max verification attempts per file")
	fs.DurationVar(&config.SyncPendingGrace, "sync-grace", config.SyncPendingGrace, "age after which a pending sync event is queued again")
	fs.DurationVar(&config.SyncProcessingTimeout, "sync-processing-timeout", config.SyncProcessingTimeout, "age after which a processing sync event is reclaimed")

	fs.StringVar(&config.NotifyWebhookURL, "notify-url", config.NotifyWebhookURL, "indexing webhook URL (empty disables)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
