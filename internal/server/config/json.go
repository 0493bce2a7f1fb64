package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/chunkvault/internal/flagx"
	"github.com/dmitrijs2005/chunkvault/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "3s" and integer nanoseconds are accepted.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	MetricsAddr                 string         `json:"metrics_addr"`
	LogLevel                    string         `json:"log_level"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	ClaimNamespace              string         `json:"claim_namespace"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	MaxGRPCMessageSize          int            `json:"max_grpc_message_size"`

	StoreDriver    string `json:"store_driver"`
	S3RootUser     string `json:"s3_root_user"`
	S3RootPassword string `json:"s3_root_password"`
	S3Bucket       string `json:"s3_bucket"`
	S3Region       string `json:"s3_region"`
	S3BaseEndpoint string `json:"s3_base_endpoint"`
	LocalStoreDir  string `json:"local_store_dir"`
	CompressChunks bool   `json:"compress_chunks"`

	ChunkSize             int `json:"chunk_size"`
	MaxConcurrency        int `json:"max_concurrency"`
	FullParallelThreshold int `json:"full_parallel_threshold"`

	RetryMaxAttempts int            `json:"retry_max_attempts"`
	RetryBaseDelay   timex.Duration `json:"retry_base_delay"`
	RetryMaxDelay    timex.Duration `json:"retry_max_delay"`
	VerifyTimeout    timex.Duration `json:"verify_timeout"`
	TransferTimeout  timex.Duration `json:"transfer_timeout"`
	ManifestTimeout  timex.Duration `json:"manifest_timeout"`

	SyncWorkers        int            `json:"sync_workers"`
	SyncQueueSize      int            `json:"sync_queue_size"`
	RecheckInterval    timex.Duration `json:"recheck_interval"`
	RecheckMaxAttempts int            `json:"recheck_max_attempts"`

	SyncPendingGrace      timex.Duration `json:"sync_pending_grace"`
	SyncProcessingTimeout timex.Duration `json:"sync_processing_timeout"`

	NotifyWebhookURL string         `json:"notify_webhook_url"`
	NotifyTimeout    timex.Duration `json:"notify_timeout"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:            c.EndpointAddrGRPC,
		MetricsAddr:                 c.MetricsAddr,
		LogLevel:                    c.LogLevel,
		DatabaseDSN:                 c.DatabaseDSN,
		SecretKey:                   c.SecretKey,
		ClaimNamespace:              c.ClaimNamespace,
		AccessTokenValidityDuration: timex.Duration{Duration: c.AccessTokenValidityDuration},
		MaxGRPCMessageSize:          c.MaxGRPCMessageSize,
		StoreDriver:                 c.StoreDriver,
		S3RootUser:                  c.S3RootUser,
		S3RootPassword:              c.S3RootPassword,
		S3Bucket:                    c.S3Bucket,
		S3Region:                    c.S3Region,
		S3BaseEndpoint:              c.S3BaseEndpoint,
		LocalStoreDir:               c.LocalStoreDir,
		CompressChunks:              c.CompressChunks,
		ChunkSize:                   c.ChunkSize,
		MaxConcurrency:              c.MaxConcurrency,
		FullParallelThreshold:       c.FullParallelThreshold,
		RetryMaxAttempts:            c.RetryMaxAttempts,
		RetryBaseDelay:              timex.Duration{Duration: c.RetryBaseDelay},
		RetryMaxDelay:               timex.Duration{Duration: c.RetryMaxDelay},
		VerifyTimeout:               timex.Duration{Duration: c.VerifyTimeout},
		TransferTimeout:             timex.Duration{Duration: c.TransferTimeout},
		ManifestTimeout:             timex.Duration{Duration: c.ManifestTimeout},
		SyncWorkers:                 c.SyncWorkers,
		SyncQueueSize:               c.SyncQueueSize,
		RecheckInterval:             timex.Duration{Duration: c.RecheckInterval},
		RecheckMaxAttempts:          c.RecheckMaxAttempts,
		SyncPendingGrace:            timex.Duration{Duration: c.SyncPendingGrace},
		SyncProcessingTimeout:       timex.Duration{Duration: c.SyncProcessingTimeout},
		NotifyWebhookURL:            c.NotifyWebhookURL,
		NotifyTimeout:               timex.Duration{Duration: c.NotifyTimeout},
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.MetricsAddr = j.MetricsAddr
	c.LogLevel = j.LogLevel
	c.DatabaseDSN = j.DatabaseDSN
	c.SecretKey = j.SecretKey
	c.ClaimNamespace = j.ClaimNamespace
	c.AccessTokenValidityDuration = j.AccessTokenValidityDuration.Duration
	c.MaxGRPCMessageSize = j.MaxGRPCMessageSize
	c.StoreDriver = j.StoreDriver
	c.S3RootUser = j.S3RootUser
	c.S3RootPassword = j.S3RootPassword
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.LocalStoreDir = j.LocalStoreDir
	c.CompressChunks = j.CompressChunks
	c.ChunkSize = j.ChunkSize
	c.MaxConcurrency = j.MaxConcurrency
	c.FullParallelThreshold = j.FullParallelThreshold
	c.RetryMaxAttempts = j.RetryMaxAttempts
	c.RetryBaseDelay = j.RetryBaseDelay.Duration
	c.RetryMaxDelay = j.RetryMaxDelay.Duration
	c.VerifyTimeout = j.VerifyTimeout.Duration
	c.TransferTimeout = j.TransferTimeout.Duration
	c.ManifestTimeout = j.ManifestTimeout.Duration
	c.SyncWorkers = j.SyncWorkers
	c.SyncQueueSize = j.SyncQueueSize
	c.RecheckInterval = j.RecheckInterval.Duration
	c.RecheckMaxAttempts = j.RecheckMaxAttempts
	c.SyncPendingGrace = j.SyncPendingGrace.Duration
	c.SyncProcessingTimeout = j.SyncProcessingTimeout.Duration
	c.NotifyWebhookURL = j.NotifyWebhookURL
	c.NotifyTimeout = j.NotifyTimeout.Duration
}

// parseJson overlays the file named by -c/-config onto config.
//
// The file is decoded over the current values, so keys missing from the file
// keep whatever the defaults set. An unreadable file or invalid JSON panics,
// like a bad flag does.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}
