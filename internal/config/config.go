package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/semmidev/vaultkeeper/internal/domain"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/scheduler"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

type AppConfig struct {
	Name       string `mapstructure:"name"`
	ServerName string `mapstructure:"server_name"`
	LogLevel   string `mapstructure:"log_level"`
	LogFile    string `mapstructure:"log_file"`
	LogJSON    bool   `mapstructure:"log_json"`
}

type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	SSLMode       string `mapstructure:"ssl_mode"`
	Passfile      string `mapstructure:"passfile"`
	DumpTool      string `mapstructure:"dump_tool"`
	QueryTool     string `mapstructure:"query_tool"`
	ContainerTool string `mapstructure:"container_tool"`
}

type TargetConfig struct {
	Name      string `mapstructure:"name"`
	Container string `mapstructure:"container"`
}

type BackupConfig struct {
	WorkDir            string         `mapstructure:"work_dir"`
	Targets            []TargetConfig `mapstructure:"targets"`
	Concurrency        int            `mapstructure:"concurrency"`
	Verbose            bool           `mapstructure:"verbose"`
	StructureOnly      bool           `mapstructure:"structure_only"`
	Blacklist          []string       `mapstructure:"blacklist"`
	UploadUncompressed bool           `mapstructure:"upload_uncompressed"`
	KeepCompressed     bool           `mapstructure:"keep_compressed"`
	AllowPartialDump   bool           `mapstructure:"allow_partial_dump"`
	CompressionLevel   int            `mapstructure:"compression_level"`
	RetentionDays      int            `mapstructure:"retention_days"`
	RetentionCron      string         `mapstructure:"retention_cron"`
}

type ScheduleConfig struct {
	Queue          string `mapstructure:"queue"`
	Cron           string `mapstructure:"cron"`
	Timezone       string `mapstructure:"timezone"`
	RetryLimit     int    `mapstructure:"retry_limit"`
	RetryDelay     int    `mapstructure:"retry_delay"`
	RetryBackoff   bool   `mapstructure:"retry_backoff"`
	ExpireMinutes  int    `mapstructure:"expire_minutes"`
	SingletonKey   string `mapstructure:"singleton_key"`
	RunOnStart     bool   `mapstructure:"run_on_start"`
	NotifyBelow    int    `mapstructure:"notify_below"`
	StatsResetCron string `mapstructure:"stats_reset_cron"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	Endpoint      string `mapstructure:"endpoint"`
	Port          int    `mapstructure:"port"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Prefix        string `mapstructure:"prefix"`
	ScopeByTarget bool   `mapstructure:"scope_by_target"`

	// Google Drive
	CredentialsFile  string `mapstructure:"credentials_file"`
	ClientSecretFile string `mapstructure:"client_secret_file"`
	RefreshToken     string `mapstructure:"refresh_token"`
	FolderID         string `mapstructure:"folder_id"`

	// Local directory
	LocalPath string `mapstructure:"local_path"`
}

type NotifyConfig struct {
	Type           string `mapstructure:"type"`
	Enabled        bool   `mapstructure:"enabled"`
	DiscordChannel string `mapstructure:"discord_channel"`
	DiscordToken   string `mapstructure:"discord_token"`
	BotToken       string `mapstructure:"bot_token"`
	ChatID         string `mapstructure:"chat_id"`
}

// envBindings maps config keys to the environment variables the service has
// always been configured with.
var envBindings = map[string][]string{
	"app.server_name": {"SERVER_NAME"},
	"app.log_level":   {"LOG_LEVEL"},
	"app.log_file":    {"LOG_FILE"},

	"database.host":           {"DB_HOST"},
	"database.port":           {"DB_PORT"},
	"database.username":       {"DB_USER"},
	"database.password":       {"DB_PASSWORD"},
	"database.database":       {"DB_DATABASE"},
	"database.ssl_mode":       {"DB_SSLMODE"},
	"database.passfile":       {"PGPASSFILE"},
	"database.dump_tool":      {"DUMP_TOOL"},
	"database.container_tool": {"CONTAINER_TOOL"},
	"database.query_tool":     {"QUERY_TOOL"},

	"backup.work_dir":            {"BK_DIR"},
	"backup.concurrency":         {"CONCURRENCY"},
	"backup.verbose":             {"VERBOSE"},
	"backup.structure_only":      {"STRUCTURE_ONLY"},
	"backup.blacklist":           {"BLACKLIST"},
	"backup.upload_uncompressed": {"UPLOAD_UNCOMPRESSED"},
	"backup.keep_compressed":     {"KEEP_COMPRESSED"},
	"backup.allow_partial_dump":  {"ALLOW_PARTIAL_DUMP"},
	"backup.compression_level":   {"COMPRESSION_LEVEL"},
	"backup.retention_days":      {"RETENTION_DAYS"},
	"backup.retention_cron":      {"RETENTION_SCHEDULE"},

	"schedule.queue":            {"QUEUE"},
	"schedule.cron":             {"SCHEDULE"},
	"schedule.timezone":         {"TZ"},
	"schedule.retry_limit":      {"RETRY_LIMIT"},
	"schedule.retry_delay":      {"RETRY_DELAY"},
	"schedule.retry_backoff":    {"RETRY_BACKOFF"},
	"schedule.expire_minutes":   {"EXPIRE_MINUTES"},
	"schedule.singleton_key":    {"SINGLETON_KEY"},
	"schedule.run_on_start":     {"RUN_ON_START"},
	"schedule.notify_below":     {"NOTIFY_BELOW_RETRIES"},
	"schedule.stats_reset_cron": {"STATS_RESET_SCHEDULE"},

	"storage.type":               {"STORAGE_TYPE"},
	"storage.endpoint":           {"S3_URL"},
	"storage.port":               {"S3_PORT"},
	"storage.use_ssl":            {"S3_USE_SSL"},
	"storage.region":             {"S3_REGION"},
	"storage.bucket":             {"S3_BUCKET"},
	"storage.access_key":         {"S3_ACCESS_KEY"},
	"storage.secret_key":         {"S3_SECRET_KEY"},
	"storage.prefix":             {"S3_PREFIX"},
	"storage.scope_by_target":    {"S3_SCOPE_BY_TARGET"},
	"storage.credentials_file":   {"GDRIVE_CREDENTIALS_FILE"},
	"storage.client_secret_file": {"GDRIVE_CLIENT_SECRET_FILE"},
	"storage.refresh_token":      {"GDRIVE_REFRESH_TOKEN"},
	"storage.folder_id":          {"GDRIVE_FOLDER_ID"},
	"storage.local_path":         {"LOCAL_STORAGE_PATH"},

	"notify.type":            {"NOTIFY_TYPE"},
	"notify.enabled":         {"DISCORD_NOTIFY", "NOTIFY_ENABLED"},
	"notify.discord_channel": {"DISCORD_CHANNEL"},
	"notify.discord_token":   {"DISCORD_TOKEN"},
	"notify.bot_token":       {"TELEGRAM_BOT_TOKEN"},
	"notify.chat_id":         {"TELEGRAM_CHAT_ID"},
}

// Load reads an optional .env file, an optional YAML file and the process
// environment, in increasing precedence, and validates the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)
	for key, envs := range envBindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "vaultkeeper")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.database", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.dump_tool", "pg_dumpall")
	v.SetDefault("database.query_tool", "psql")
	v.SetDefault("database.container_tool", "docker")
	v.SetDefault("backup.concurrency", 1)
	v.SetDefault("backup.compression_level", 9)
	v.SetDefault("backup.retention_days", 7)
	v.SetDefault("backup.retention_cron", "0 3 * * *")
	v.SetDefault("schedule.queue", "postgres-backup")
	v.SetDefault("schedule.timezone", "UTC")
	v.SetDefault("schedule.retry_limit", 0)
	v.SetDefault("schedule.retry_delay", 300)
	v.SetDefault("schedule.retry_backoff", false)
	v.SetDefault("schedule.expire_minutes", 180)
	v.SetDefault("schedule.notify_below", 3)
	v.SetDefault("schedule.stats_reset_cron", "@hourly")
	v.SetDefault("storage.type", "s3")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("notify.type", "discord")
}

func (c *Config) normalize() {
	if c.Backup.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.Backup.WorkDir = filepath.Join(wd, "data")
		}
	}
	if c.Database.Passfile == "" && c.Backup.WorkDir != "" {
		c.Database.Passfile = filepath.Join(c.Backup.WorkDir, ".pgpass")
	}
	if c.Schedule.SingletonKey == "" {
		c.Schedule.SingletonKey = c.Schedule.Queue
	}

	var blacklist []string
	for _, entry := range c.Backup.Blacklist {
		for _, name := range strings.Split(entry, ",") {
			if name = strings.TrimSpace(name); name != "" {
				blacklist = append(blacklist, name)
			}
		}
	}
	c.Backup.Blacklist = blacklist

	if len(c.Backup.Targets) == 0 {
		name := c.App.ServerName
		if name == "" {
			name = c.Database.Host
		}
		c.Backup.Targets = []TargetConfig{{Name: name}}
	}
	for i := range c.Backup.Targets {
		t := &c.Backup.Targets[i]
		if t.Name == "" {
			t.Name = t.Container
		}
	}
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	problems := &domain.ConfigError{}
	missing := func(key string, empty bool) {
		if empty {
			problems.Missing = append(problems.Missing, key)
		}
	}
	invalid := func(format string, args ...interface{}) {
		problems.Invalid = append(problems.Invalid, fmt.Sprintf(format, args...))
	}

	needsHost := false
	for i, t := range c.Backup.Targets {
		missing(fmt.Sprintf("backup.targets[%d].name", i), t.Name == "")
		if t.Container == "" {
			needsHost = true
		}
	}
	if needsHost {
		missing("database.host (DB_HOST)", c.Database.Host == "")
	}
	missing("backup.work_dir (BK_DIR)", c.Backup.WorkDir == "")
	missing("schedule.cron (SCHEDULE)", c.Schedule.Cron == "")

	if c.Schedule.Cron != "" {
		if err := scheduler.Validate(c.Schedule.Cron, c.Schedule.Timezone); err != nil {
			invalid("schedule.cron: %v", err)
		}
	}
	for _, cron := range []struct{ key, spec string }{
		{"backup.retention_cron", c.Backup.RetentionCron},
		{"schedule.stats_reset_cron", c.Schedule.StatsResetCron},
	} {
		if cron.spec == "" {
			continue
		}
		if err := scheduler.Validate(cron.spec, c.Schedule.Timezone); err != nil {
			invalid("%s: %v", cron.key, err)
		}
	}
	if c.Backup.Concurrency < 1 {
		invalid("backup.concurrency must be at least 1")
	}
	if c.Backup.CompressionLevel < -2 || c.Backup.CompressionLevel > 9 {
		invalid("backup.compression_level must be between -2 and 9")
	}
	if c.Schedule.RetryLimit < 0 {
		invalid("schedule.retry_limit must not be negative")
	}

	switch c.Storage.Type {
	case "s3":
		missing("storage.endpoint (S3_URL)", c.Storage.Endpoint == "")
		missing("storage.bucket (S3_BUCKET)", c.Storage.Bucket == "")
		missing("storage.access_key (S3_ACCESS_KEY)", c.Storage.AccessKey == "")
		missing("storage.secret_key (S3_SECRET_KEY)", c.Storage.SecretKey == "")
	case "gdrive":
		if c.Storage.RefreshToken != "" {
			missing("storage.client_secret_file", c.Storage.ClientSecretFile == "")
		} else {
			missing("storage.credentials_file", c.Storage.CredentialsFile == "")
		}
		missing("storage.folder_id", c.Storage.FolderID == "")
		missing("storage.bucket", c.Storage.Bucket == "")
	case "local":
		missing("storage.local_path", c.Storage.LocalPath == "")
		missing("storage.bucket", c.Storage.Bucket == "")
	default:
		invalid("storage.type %q is not one of s3, gdrive, local", c.Storage.Type)
	}

	if c.Notify.Enabled {
		switch c.Notify.Type {
		case "discord":
			missing("notify.discord_channel (DISCORD_CHANNEL)", c.Notify.DiscordChannel == "")
			missing("notify.discord_token (DISCORD_TOKEN)", c.Notify.DiscordToken == "")
		case "telegram":
			missing("notify.bot_token (TELEGRAM_BOT_TOKEN)", c.Notify.BotToken == "")
			missing("notify.chat_id (TELEGRAM_CHAT_ID)", c.Notify.ChatID == "")
		default:
			invalid("notify.type %q is not one of discord, telegram", c.Notify.Type)
		}
	}

	if problems.Empty() {
		return nil
	}
	return problems
}

// Targets resolves configured targets to their working directories.
func (c *Config) Targets() []domain.BackupTarget {
	targets := make([]domain.BackupTarget, 0, len(c.Backup.Targets))
	for _, t := range c.Backup.Targets {
		targets = append(targets, domain.BackupTarget{
			Name:      t.Name,
			Container: t.Container,
			WorkDir:   filepath.Join(c.Backup.WorkDir, t.Name),
		})
	}
	return targets
}

// ScheduleOptions converts schedule settings into the queue's retry policy.
func (c *Config) ScheduleOptions() domain.ScheduleOptions {
	return domain.ScheduleOptions{
		RetryLimit:   c.Schedule.RetryLimit,
		RetryDelay:   time.Duration(c.Schedule.RetryDelay) * time.Second,
		RetryBackoff: c.Schedule.RetryBackoff,
		ExpireIn:     time.Duration(c.Schedule.ExpireMinutes) * time.Minute,
		TZ:           c.Schedule.Timezone,
		SingletonKey: c.Schedule.SingletonKey,
	}
}
