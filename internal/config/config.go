package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	Addr           string // listen address, e.g. ":8080"
	ManagementAddr string // separate listener for /metrics and probes (empty = serve on Addr)
	DBPath         string // path to SQLite database file
	PublicURL      string // externally visible base URL, used for media links
	TLS            bool
	CertFile       string
	KeyFile        string

	// Object storage: "fs" (default) or "s3".
	ObjectStore      string
	ObjectDir        string // root directory for the fs backend
	S3Bucket         string
	S3Region         string
	S3Endpoint       string // custom endpoint for MinIO/R2
	S3Prefix         string
	S3ForcePathStyle bool
	S3PublicURL      string // public base URL of the bucket (empty = proxy through /media)

	// Sessions.
	SessionTTL       time.Duration // lifetime of a signed-in browser session
	SessionCacheSize int           // max browser clients tracked in memory
	SessionIdleTTL   time.Duration // idle browser clients are dropped after this
	PendingWait      time.Duration // how long a gated request waits for the session to settle
	SecureCookies    bool

	// API bearer tokens.
	JWTSigningKey string // HMAC secret (auto-generated if empty)
	JWTIssuer     string
	JWTTTL        time.Duration

	// Users seed file (YAML). Empty = no seeding.
	UsersFile string

	// Uploads.
	MaxUploadBytes int64

	// Backup.
	BackupInterval  time.Duration // 0 = no scheduled backups
	BackupRetention int           // backups kept in the bucket (0 = unlimited)

	// Logging.
	LogFormat string // "json" (default) or "text"
	AuditLogs bool   // enable audit logging (default true)

	// Tracing. Empty disables OpenTelemetry.
	OTelServiceName string

	// GeneratedJWTKey is set when JWTSigningKey was auto-generated.
	GeneratedJWTKey bool
}

// Parse reads flags from the command line and CMS_PORTAL_* environment overrides.
func Parse() *Config {
	c, err := Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if c.GeneratedJWTKey {
		fmt.Fprintf(os.Stderr, "WARNING: auto-generated JWT signing key (API tokens will not survive restart unless you persist it):\n")
		fmt.Fprintf(os.Stderr, "  export CMS_PORTAL_JWT_SIGNING_KEY=%s\n\n", c.JWTSigningKey)
	}
	return c
}

// Load parses args into a Config, then applies environment overrides read
// through getenv. Env values win over flags.
func Load(fs *flag.FlagSet, args []string, getenv func(string) string) (*Config, error) {
	c := &Config{}
	fs.StringVar(&c.Addr, "addr", ":8080", "listen address")
	fs.StringVar(&c.ManagementAddr, "management-addr", "", "separate listen address for metrics and probes (empty = main listener)")
	fs.StringVar(&c.DBPath, "db", "cms-portal.db", "SQLite database path")
	fs.StringVar(&c.PublicURL, "public-url", "http://localhost:8080", "externally visible base URL")
	fs.BoolVar(&c.TLS, "tls", false, "enable TLS")
	fs.StringVar(&c.CertFile, "cert", "", "TLS certificate file")
	fs.StringVar(&c.KeyFile, "key", "", "TLS key file")

	// Object storage flags.
	fs.StringVar(&c.ObjectStore, "object-store", "fs", "object storage backend: fs or s3")
	fs.StringVar(&c.ObjectDir, "object-dir", "objects", "root directory for the fs object store")
	fs.StringVar(&c.S3Bucket, "s3-bucket", "", "S3 bucket (required for s3 backend)")
	fs.StringVar(&c.S3Region, "s3-region", "", "S3 region (defaults to the AWS SDK chain)")
	fs.StringVar(&c.S3Endpoint, "s3-endpoint", "", "custom S3 endpoint (MinIO, R2)")
	fs.StringVar(&c.S3Prefix, "s3-prefix", "", "key prefix inside the S3 bucket")
	fs.BoolVar(&c.S3ForcePathStyle, "s3-force-path-style", false, "use path-style S3 addressing")
	fs.StringVar(&c.S3PublicURL, "s3-public-url", "", "public base URL of the S3 bucket (empty = serve through /media)")

	// Session flags.
	fs.DurationVar(&c.SessionTTL, "session-ttl", 7*24*time.Hour, "signed-in session lifetime")
	fs.IntVar(&c.SessionCacheSize, "session-cache-size", 10000, "max browser clients tracked in memory")
	fs.DurationVar(&c.SessionIdleTTL, "session-idle-ttl", 24*time.Hour, "drop idle browser clients after this")
	fs.DurationVar(&c.PendingWait, "pending-wait", 2*time.Second, "how long a gated request waits for the session to settle")
	fs.BoolVar(&c.SecureCookies, "secure-cookies", false, "mark cookies Secure (enable behind HTTPS)")

	// API token flags.
	fs.StringVar(&c.JWTSigningKey, "jwt-signing-key", "", "HMAC secret for API tokens (auto-generated if empty)")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", "cms-portal", "issuer claim for API tokens")
	fs.DurationVar(&c.JWTTTL, "jwt-ttl", time.Hour, "API token lifetime")

	fs.StringVar(&c.UsersFile, "users-file", "", "path to users.yaml used to seed accounts and roles")
	fs.Int64Var(&c.MaxUploadBytes, "max-upload-bytes", 50<<20, "max request body size for uploads")

	// Backup flags.
	fs.DurationVar(&c.BackupInterval, "backup-interval", 0, "interval between database backups (0 = disabled)")
	fs.IntVar(&c.BackupRetention, "backup-retention", 7, "backups kept in the bucket (0 = unlimited)")

	// Logging flags.
	fs.StringVar(&c.LogFormat, "log-format", "json", "log format: json or text")
	fs.BoolVar(&c.AuditLogs, "audit-logs", true, "enable structured audit logging")
	fs.StringVar(&c.OTelServiceName, "otel-service-name", "", "enable OpenTelemetry tracing with this service name")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Allow env overrides.
	if v := getenv("CMS_PORTAL_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("CMS_PORTAL_MANAGEMENT_ADDR"); v != "" {
		c.ManagementAddr = v
	}
	if v := getenv("CMS_PORTAL_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("CMS_PORTAL_PUBLIC_URL"); v != "" {
		c.PublicURL = v
	}
	if v := getenv("CMS_PORTAL_TLS"); v == "true" {
		c.TLS = true
	}
	if v := getenv("CMS_PORTAL_CERT"); v != "" {
		c.CertFile = v
	}
	if v := getenv("CMS_PORTAL_KEY"); v != "" {
		c.KeyFile = v
	}
	if v := getenv("CMS_PORTAL_OBJECT_STORE"); v != "" {
		c.ObjectStore = v
	}
	if v := getenv("CMS_PORTAL_OBJECT_DIR"); v != "" {
		c.ObjectDir = v
	}
	if v := getenv("CMS_PORTAL_S3_BUCKET"); v != "" {
		c.S3Bucket = v
	}
	if v := getenv("CMS_PORTAL_S3_REGION"); v != "" {
		c.S3Region = v
	}
	if v := getenv("CMS_PORTAL_S3_ENDPOINT"); v != "" {
		c.S3Endpoint = v
	}
	if v := getenv("CMS_PORTAL_S3_PREFIX"); v != "" {
		c.S3Prefix = v
	}
	if v := getenv("CMS_PORTAL_S3_FORCE_PATH_STYLE"); v == "true" {
		c.S3ForcePathStyle = true
	}
	if v := getenv("CMS_PORTAL_S3_PUBLIC_URL"); v != "" {
		c.S3PublicURL = v
	}
	if v := getenv("CMS_PORTAL_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionTTL = d
		}
	}
	if v := getenv("CMS_PORTAL_SESSION_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionCacheSize = n
		}
	}
	if v := getenv("CMS_PORTAL_SESSION_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SessionIdleTTL = d
		}
	}
	if v := getenv("CMS_PORTAL_PENDING_WAIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PendingWait = d
		}
	}
	if v := getenv("CMS_PORTAL_SECURE_COOKIES"); v == "true" {
		c.SecureCookies = true
	}
	if v := getenv("CMS_PORTAL_JWT_SIGNING_KEY"); v != "" {
		c.JWTSigningKey = v
	}
	if v := getenv("CMS_PORTAL_JWT_ISSUER"); v != "" {
		c.JWTIssuer = v
	}
	if v := getenv("CMS_PORTAL_JWT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.JWTTTL = d
		}
	}
	if v := getenv("CMS_PORTAL_USERS_FILE"); v != "" {
		c.UsersFile = v
	}
	if v := getenv("CMS_PORTAL_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
	if v := getenv("CMS_PORTAL_BACKUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.BackupInterval = d
		}
	}
	if v := getenv("CMS_PORTAL_BACKUP_RETENTION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.BackupRetention = n
		}
	}
	if v := getenv("CMS_PORTAL_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := getenv("CMS_PORTAL_AUDIT_LOGS"); v == "false" {
		c.AuditLogs = false
	}
	if v := getenv("CMS_PORTAL_OTEL_SERVICE_NAME"); v != "" {
		c.OTelServiceName = v
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.JWTSigningKey == "" {
		key, err := randomKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate JWT signing key: %w", err)
		}
		c.JWTSigningKey = key
		c.GeneratedJWTKey = true
	}
	return c, nil
}

// Validate checks option combinations that cannot work.
func (c *Config) Validate() error {
	var errs []error
	switch c.ObjectStore {
	case "fs":
		if c.ObjectDir == "" {
			errs = append(errs, errors.New("-object-dir is required for the fs object store"))
		}
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("-s3-bucket is required for the s3 object store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown -object-store %q (want fs or s3)", c.ObjectStore))
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown -log-format %q (want json or text)", c.LogFormat))
	}
	if c.TLS && (c.CertFile == "" || c.KeyFile == "") {
		errs = append(errs, errors.New("-tls requires -cert and -key"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("-session-ttl must be positive"))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("-jwt-ttl must be positive"))
	}
	if c.PendingWait < 0 {
		errs = append(errs, errors.New("-pending-wait must not be negative"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("-max-upload-bytes must be positive"))
	}
	return errors.Join(errs...)
}

func randomKey(r io.Reader) (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
