package flags

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/storage-gateway/common"
	"github.com/ruteri/storage-gateway/httpserver"
	"github.com/ruteri/storage-gateway/interfaces"
	"github.com/ruteri/storage-gateway/storage"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) (*httpserver.HTTPServerConfig, error) {
	dependencies, err := ParseDependencies(cCtx.StringSlice(HealthDependenciesFlag.Name))
	if err != nil {
		return nil, err
	}

	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             5 * time.Minute,
		JWTSecret:                cCtx.String(JWTSecretFlag.Name),
		AllowedOrigins:           cCtx.StringSlice(AllowedOriginsFlag.Name),
		Health: httpserver.HealthConfig{
			AppName:      cCtx.String(AppNameFlag.Name),
			Commit:       cCtx.String(CommitFlag.Name),
			MaxCascade:   cCtx.Int(MaxHealthCascadeFlag.Name),
			Dependencies: dependencies,
			Timeout:      time.Duration(cCtx.Int64(HealthTimeoutSecondsFlag.Name)) * time.Second,
		},
	}, nil
}

// ConfigureStorage returns the settings storage backends consult on every operation.
func ConfigureStorage(cCtx *cli.Context) interfaces.StaticConfig {
	return interfaces.StaticConfig{
		Type:                cCtx.String(StorageTypeFlag.Name),
		FileLocation:        cCtx.String(FileStorageLocationFlag.Name),
		FileExternalURLBase: cCtx.String(FileExternalURLBaseFlag.Name),
		S3Bucket:            cCtx.String(S3BucketFlag.Name),
		S3URLExpiry:         time.Duration(cCtx.Int64(S3URLExpirySecondsFlag.Name)) * time.Second,
	}
}

func ConfigureS3(cCtx *cli.Context) storage.S3Options {
	return storage.S3Options{
		Region:         cCtx.String(S3RegionFlag.Name),
		Endpoint:       cCtx.String(S3EndpointFlag.Name),
		AccessKey:      cCtx.String(S3AccessKeyFlag.Name),
		SecretKey:      cCtx.String(S3SecretKeyFlag.Name),
		ForcePathStyle: cCtx.Bool(S3ForcePathStyleFlag.Name),
		MaxRetries:     cCtx.Int(S3MaxRetriesFlag.Name),
	}
}

// ClamdAddress returns the clamd address to dial, or "" when scanning is not configured.
func ClamdAddress(cCtx *cli.Context) string {
	return clamdAddress(cCtx.String(ClamdAddressFlag.Name), cCtx.String(ClamdHostFlag.Name), cCtx.Int(ClamdPortFlag.Name))
}

// clamdAddress prefers a full address. A host starting with "/" is a unix socket.
func clamdAddress(address, host string, port int) string {
	if address != "" {
		return address
	}
	if host == "" {
		return ""
	}
	if strings.HasPrefix(host, "/") {
		return "unix://" + host
	}
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// ParseDependencies decodes name=url pairs.
func ParseDependencies(pairs []string) (map[string]string, error) {
	deps := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid health dependency %q, expected name=url", pair)
		}
		deps[name] = url
	}
	return deps, nil
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"LISTEN_ADDR"},
}

var StorageTypeFlag = &cli.StringFlag{
	Name:    "storage-type",
	Value:   storage.TypeFile,
	Usage:   "storage backend: 'file' or 's3'",
	EnvVars: []string{"STORAGE_TYPE"},
}
var FileStorageLocationFlag = &cli.StringFlag{
	Name:    "file-storage-location",
	Value:   "./data",
	Usage:   "root directory of the file storage backend",
	EnvVars: []string{"FILE_STORAGE_LOCATION"},
}
var FileExternalURLBaseFlag = &cli.StringFlag{
	Name:    "file-external-url-base",
	Value:   "http://127.0.0.1:8080/v1.0/storage",
	Usage:   "base URL of external references returned by the file storage backend",
	EnvVars: []string{"FILE_EXTERNAL_URL_BASE"},
}

var S3BucketFlag = &cli.StringFlag{
	Name:    "s3-bucket",
	Usage:   "object store bucket holding every logical bucket",
	EnvVars: []string{"S3_BUCKET"},
}
var S3URLExpirySecondsFlag = &cli.Int64Flag{
	Name:    "s3-url-expire-in-seconds",
	Value:   3600,
	Usage:   "lifetime of presigned URLs",
	EnvVars: []string{"S3_URL_EXPIRE_IN_SECONDS"},
}
var S3RegionFlag = &cli.StringFlag{
	Name:    "s3-region",
	Value:   "us-east-1",
	Usage:   "object store region",
	EnvVars: []string{"S3_REGION", "AWS_REGION"},
}
var S3EndpointFlag = &cli.StringFlag{
	Name:    "s3-endpoint",
	Usage:   "custom S3-compatible endpoint, e.g. MinIO",
	EnvVars: []string{"S3_ENDPOINT"},
}
var S3AccessKeyFlag = &cli.StringFlag{
	Name:    "s3-access-key",
	Usage:   "static access key; the default credential chain is used when empty",
	EnvVars: []string{"S3_ACCESS_KEY", "AWS_ACCESS_KEY_ID"},
}
var S3SecretKeyFlag = &cli.StringFlag{
	Name:    "s3-secret-key",
	Usage:   "static secret key",
	EnvVars: []string{"S3_SECRET_KEY", "AWS_SECRET_ACCESS_KEY"},
}
var S3ForcePathStyleFlag = &cli.BoolFlag{
	Name:    "s3-force-path-style",
	Value:   false,
	Usage:   "use path-style bucket addressing",
	EnvVars: []string{"S3_FORCE_PATH_STYLE"},
}
var S3MaxRetriesFlag = &cli.IntFlag{
	Name:    "s3-max-retries",
	Value:   3,
	Usage:   "retries of failed object store requests",
	EnvVars: []string{"S3_MAX_RETRIES"},
}

var ClamdAddressFlag = &cli.StringFlag{
	Name:    "clamd-address",
	Usage:   "clamd address as tcp://host:port or unix:///path; scanning is disabled when neither this nor clamd-host is set",
	EnvVars: []string{"CLAMD_ADDRESS"},
}
var ClamdHostFlag = &cli.StringFlag{
	Name:    "clamd-host",
	Usage:   "clamd host, or a unix socket path",
	EnvVars: []string{"CLAMD_HOST"},
}
var ClamdPortFlag = &cli.IntFlag{
	Name:    "clamd-port",
	Value:   3310,
	Usage:   "clamd TCP port",
	EnvVars: []string{"CLAMD_PORT"},
}
var ClamdTimeoutSecondsFlag = &cli.Int64Flag{
	Name:    "clamd-timeout-seconds",
	Value:   60,
	Usage:   "timeout of a single scan",
	EnvVars: []string{"CLAMD_TIMEOUT_SECONDS"},
}

var JWTSecretFlag = &cli.StringFlag{
	Name:    "jwt-secret",
	Usage:   "HS256 secret of bearer tokens; the storage API is unauthenticated when empty",
	EnvVars: []string{"JWT_SECRET"},
}
var AllowedOriginsFlag = &cli.StringSliceFlag{
	Name:    "allowed-origins",
	Usage:   "CORS allowed origins; any origin when empty",
	EnvVars: []string{"ALLOWED_ORIGINS"},
}

var AppNameFlag = &cli.StringFlag{
	Name:    "app-name",
	Value:   "storage-api",
	Usage:   "application name reported by health endpoints",
	EnvVars: []string{"APP_NAME"},
}
var CommitFlag = &cli.StringFlag{
	Name:    "commit",
	Value:   common.Version,
	Usage:   "commit reported by health endpoints",
	EnvVars: []string{"COMMIT"},
}
var MaxHealthCascadeFlag = &cli.IntFlag{
	Name:    "max-health-cascade",
	Value:   2,
	Usage:   "deepest accepted /health/cascade depth",
	EnvVars: []string{"MAX_HEALTH_CASCADE"},
}
var HealthDependenciesFlag = &cli.StringSliceFlag{
	Name:    "health-dependencies",
	Usage:   "dependencies checked by /health/cascade as name=url",
	EnvVars: []string{"HEALTH_DEPENDENCIES"},
}
var HealthTimeoutSecondsFlag = &cli.Int64Flag{
	Name:    "health-timeout-seconds",
	Value:   5,
	Usage:   "timeout of each dependency health request",
	EnvVars: []string{"HEALTH_TIMEOUT_SECONDS"},
}

var LogJsonFlag = &cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	Usage:   "log in JSON format",
	EnvVars: []string{"LOG_JSON"},
}
var LogDebugFlag = &cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	Usage:   "log debug messages",
	EnvVars: []string{"LOG_DEBUG"},
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "log-service",
		Value:   service,
		Usage:   "add 'service' tag to logs",
		EnvVars: []string{"LOG_SERVICE"},
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	Usage:   "address to listen on for Prometheus metrics",
	EnvVars: []string{"METRICS_ADDR"},
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}

var StorageFlags = []cli.Flag{
	StorageTypeFlag,
	FileStorageLocationFlag,
	FileExternalURLBaseFlag,
	S3BucketFlag,
	S3URLExpirySecondsFlag,
	S3RegionFlag,
	S3EndpointFlag,
	S3AccessKeyFlag,
	S3SecretKeyFlag,
	S3ForcePathStyleFlag,
	S3MaxRetriesFlag,
}

var ServiceFlags = []cli.Flag{
	ListenAddrFlag,
	ClamdAddressFlag,
	ClamdHostFlag,
	ClamdPortFlag,
	ClamdTimeoutSecondsFlag,
	JWTSecretFlag,
	AllowedOriginsFlag,
	AppNameFlag,
	CommitFlag,
	MaxHealthCascadeFlag,
	HealthDependenciesFlag,
	HealthTimeoutSecondsFlag,
}
