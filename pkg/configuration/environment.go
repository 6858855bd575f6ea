package configuration

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/iota-uz/etx-ingest/pkg/logging"
)

// LoadEnv loads the env files that exist, walking up to the go.mod root
// when a file is not found in the working directory.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if p, ok := findUp(file); ok {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func findUp(name string) (string, bool) {
	if filepath.IsAbs(name) {
		return name, fileExists(name)
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, name)
		if fileExists(candidate) {
			return candidate, true
		}
		if fileExists(filepath.Join(dir, "go.mod")) {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

type ETXOptions struct {
	HTTPURI      string `env:"ETX_HTTP_URI" validate:"omitempty,url"`
	WSURI        string `env:"ETX_WS_URI" validate:"omitempty,url"`
	Email        string `env:"ETX_EMAIL"`
	Password     string `env:"ETX_PASSWORD"`
	APIKey       string `env:"ETX_API_KEY"`
	APIVersion   string `env:"ETX_API_VERSION" envDefault:"ctx/v1" validate:"required"`
	ServerFolder string `env:"ETX_SERVER_FILE_FOLDER"`
	TimeZone     string `env:"ETX_TIMEZONE" envDefault:"Asia/Bangkok" validate:"required"`

	AuthTimeout  time.Duration `env:"ETX_AUTH_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	HTTPTimeout  time.Duration `env:"ETX_HTTP_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	ReplyTimeout time.Duration `env:"ETX_REPLY_TIMEOUT" envDefault:"60s" validate:"gt=0"`

	VersionDescription string `env:"ETX_VERSION_DESCRIPTION" envDefault:"dev server"`
}

type IngestOptions struct {
	RowsPerFile         int    `env:"ETX_ROWS_PER_FILE" envDefault:"100000" validate:"min=1"`
	ImportFilesPerBatch int    `env:"ETX_IMPORT_FILES_PER_REQUEST" envDefault:"1" validate:"min=1"`
	MaxRequests         int    `env:"ETX_MAX_REQUESTS" envDefault:"-1" validate:"min=-1"`
	ChunkDir            string `env:"ETX_CHUNK_DIR" envDefault:""`
	DeleteChunks        bool   `env:"ETX_DELETE_CHUNKS" envDefault:"false"`
	IngestRowLimit      int    `env:"ETX_INGEST_ROW_LIMIT" envDefault:"100000" validate:"min=1"`

	OrgColumn    string `env:"ETX_ORG_COLUMN" envDefault:"orgFullName" validate:"required"`
	EntityColumn string `env:"ETX_ENTITY_COLUMN" envDefault:"emissionSourceName" validate:"required"`

	PublishMaxAttempts int           `env:"ETX_PUBLISH_MAX_ATTEMPTS" envDefault:"1" validate:"min=1,max=10"`
	PublishMaxBackoff  time.Duration `env:"ETX_PUBLISH_MAX_BACKOFF" envDefault:"30s"`
	DeadLetterPath     string        `env:"ETX_DEAD_LETTER_PATH" envDefault:""`
}

type OpenTelemetryOptions struct {
	Enabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	TempoURL    string `env:"OTEL_TEMPO_URL" envDefault:"localhost:4318"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"etx-ingest"`
}

type PrometheusOptions struct {
	PushgatewayURL string `env:"PROMETHEUS_PUSHGATEWAY_URL" validate:"omitempty,url"`
	Job            string `env:"PROMETHEUS_JOB" envDefault:"etxbatch"`
}

type Configuration struct {
	ETX           ETXOptions
	Ingest        IngestOptions
	OpenTelemetry OpenTelemetryOptions
	Prometheus    PrometheusOptions

	// YAML or JSON file overlaid under the real environment.
	ConfigFile       string `env:"ETX_CONFIG_FILE"`
	FilesRoot        string `env:"FILES_ROOT" envDefault:"uploads"`
	GoAppEnvironment string `env:"GO_APP_ENV" envDefault:"development"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
	LogPath          string `env:"LOG_PATH" envDefault:"./logs/etxbatch.log"`

	logFile io.Closer
	logger  *logrus.Logger
}

func (c *Configuration) Logger() *logrus.Logger {
	return c.logger
}

func (c *Configuration) LogrusLogLevel() logrus.Level {
	switch c.LogLevel {
	case "silent":
		return logrus.PanicLevel
	case "error":
		return logrus.ErrorLevel
	case "warn":
		return logrus.WarnLevel
	case "info":
		return logrus.InfoLevel
	case "debug":
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// Load builds a Configuration from env files, the optional config file and
// the process environment, then validates it and opens the logger.
func Load(envFiles []string) (*Configuration, error) {
	c := &Configuration{}
	if err := c.load(envFiles, environ()); err != nil {
		c.Unload()
		return nil, err
	}
	return c, nil
}

func environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func (c *Configuration) load(envFiles []string, vars map[string]string) error {
	n, err := LoadEnv(envFiles)
	if err != nil {
		return err
	}
	if n > 0 {
		// godotenv mutates the process environment.
		vars = environ()
	}

	if path := strings.TrimSpace(vars["ETX_CONFIG_FILE"]); path != "" {
		fileVars, err := ReadConfigFile(path)
		if err != nil {
			return err
		}
		for k, v := range fileVars {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}

	if err := env.ParseWithOptions(c, env.Options{Environment: vars}); err != nil {
		return errors.Wrap(err, "parse environment")
	}
	if err := c.Validate(); err != nil {
		return err
	}

	f, logger, err := logging.FileLogger(c.LogrusLogLevel(), c.LogPath)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	c.logFile = f
	c.logger = logger
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Configuration) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	switch c.LogLevel {
	case "silent", "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid LOG_LEVEL=%q (expected silent|error|warn|info|debug)", c.LogLevel)
	}
	if _, err := time.LoadLocation(c.ETX.TimeZone); err != nil {
		return errors.Wrapf(err, "invalid ETX_TIMEZONE=%q", c.ETX.TimeZone)
	}
	return nil
}

// RequireSession reports the settings missing for websocket workflows.
func (c *Configuration) RequireSession() error {
	var missing []string
	if c.ETX.HTTPURI == "" {
		missing = append(missing, "ETX_HTTP_URI")
	}
	if c.ETX.WSURI == "" {
		missing = append(missing, "ETX_WS_URI")
	}
	if c.ETX.Email == "" {
		missing = append(missing, "ETX_EMAIL")
	}
	if c.ETX.Password == "" {
		missing = append(missing, "ETX_PASSWORD")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// RequireDataAPI reports the settings missing for the HTTP data API.
func (c *Configuration) RequireDataAPI() error {
	var missing []string
	if c.ETX.HTTPURI == "" {
		missing = append(missing, "ETX_HTTP_URI")
	}
	if c.ETX.APIKey == "" {
		missing = append(missing, "ETX_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// legacyKeys maps the keys of the historical etxbatch.json onto env names.
var legacyKeys = map[string]string{
	"HTTPURI":              "ETX_HTTP_URI",
	"WSURI":                "ETX_WS_URI",
	"email":                "ETX_EMAIL",
	"password":             "ETX_PASSWORD",
	"API_KEY":              "ETX_API_KEY",
	"API_VERSION":          "ETX_API_VERSION",
	"ServerFileFolder":     "ETX_SERVER_FILE_FOLDER",
	"RowsPerFile":          "ETX_ROWS_PER_FILE",
	"ImportFilePerRequest": "ETX_IMPORT_FILES_PER_REQUEST",
	"MaxRequests":          "ETX_MAX_REQUESTS",
}

// ReadConfigFile decodes a flat YAML or JSON object into env-style keys.
// Legacy etxbatch.json keys are translated; other keys are taken as-is.
func ReadConfigFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, errors.Wrapf(err, "decode config file %s", path)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		name := k
		if mapped, ok := legacyKeys[k]; ok {
			name = mapped
		}
		switch tv := v.(type) {
		case nil:
			continue
		case string:
			out[name] = tv
		case int:
			out[name] = strconv.Itoa(tv)
		case float64:
			out[name] = strconv.FormatFloat(tv, 'f', -1, 64)
		case bool:
			out[name] = strconv.FormatBool(tv)
		default:
			return nil, fmt.Errorf("config file %s: key %q must be a scalar", path, k)
		}
	}
	return out, nil
}

// Unload releases the log file.
func (c *Configuration) Unload() {
	if c.logFile != nil {
		if err := c.logFile.Close(); err != nil {
			log.Printf("Failed to close log file: %v", err)
		}
	}
}
