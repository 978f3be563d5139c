package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"yqhp/fanout/api/rest"
	"yqhp/fanout/internal/master"
	"yqhp/fanout/internal/protocol"
	"yqhp/fanout/internal/task"
	"yqhp/fanout/internal/worker"
	"yqhp/fanout/pkg/client"
	"yqhp/fanout/pkg/logger"
)

// Config is the complete configuration of a fanout process.
type Config struct {
	Master   MasterConfig   `yaml:"master"`
	Worker   WorkerConfig   `yaml:"worker"`
	API      APIConfig      `yaml:"api"`
	Protocol ProtocolConfig `yaml:"protocol"`
	Task     TaskConfig     `yaml:"task"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MasterConfig holds master node configuration.
type MasterConfig struct {
	Address          string        `yaml:"address" env:"FANOUT_MASTER_ADDRESS"`
	AdvertiseAddress string        `yaml:"advertise_address" env:"FANOUT_MASTER_ADVERTISE_ADDRESS"`
	OrderTimeout     time.Duration `yaml:"order_timeout" env:"FANOUT_MASTER_ORDER_TIMEOUT"`
	SendTimeout      time.Duration `yaml:"send_timeout" env:"FANOUT_MASTER_SEND_TIMEOUT"`
}

// WorkerConfig holds worker node configuration.
type WorkerConfig struct {
	Name             string        `yaml:"name" env:"FANOUT_WORKER_NAME"`
	Address          string        `yaml:"address" env:"FANOUT_WORKER_ADDRESS"`
	AdvertiseAddress string        `yaml:"advertise_address" env:"FANOUT_WORKER_ADVERTISE_ADDRESS"`
	MasterAddress    string        `yaml:"master_address" env:"FANOUT_WORKER_MASTER_ADDRESS"`
	RegisterTimeout  time.Duration `yaml:"register_timeout" env:"FANOUT_WORKER_REGISTER_TIMEOUT"`
}

// APIConfig holds the master status API configuration. An empty address disables the API.
type APIConfig struct {
	Address          string        `yaml:"address" env:"FANOUT_API_ADDRESS"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"FANOUT_API_READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"FANOUT_API_WRITE_TIMEOUT"`
	EnableRequestLog bool          `yaml:"enable_request_log" env:"FANOUT_API_ENABLE_REQUEST_LOG"`
}

// ProtocolConfig holds wire settings shared by every role.
type ProtocolConfig struct {
	DialTimeout    time.Duration `yaml:"dial_timeout" env:"FANOUT_PROTOCOL_DIAL_TIMEOUT"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"FANOUT_PROTOCOL_REQUEST_TIMEOUT"`
	MaxFrameSize   uint32        `yaml:"max_frame_size" env:"FANOUT_PROTOCOL_MAX_FRAME_SIZE"`
}

// TaskConfig holds task execution settings.
type TaskConfig struct {
	ScriptTimeout time.Duration `yaml:"script_timeout" env:"FANOUT_TASK_SCRIPT_TIMEOUT"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"FANOUT_LOG_LEVEL"`
	Format     string `yaml:"format" env:"FANOUT_LOG_FORMAT"`
	Output     string `yaml:"output" env:"FANOUT_LOG_OUTPUT"`
	FilePath   string `yaml:"file_path" env:"FANOUT_LOG_FILE_PATH"`
	MaxSize    int    `yaml:"max_size" env:"FANOUT_LOG_MAX_SIZE"`
	MaxBackups int    `yaml:"max_backups" env:"FANOUT_LOG_MAX_BACKUPS"`
	MaxAge     int    `yaml:"max_age" env:"FANOUT_LOG_MAX_AGE"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Master: MasterConfig{
			Address:      "127.0.0.1:9700",
			OrderTimeout: 5 * time.Minute,
			SendTimeout:  5 * time.Second,
		},
		Worker: WorkerConfig{
			Name:            "worker",
			Address:         "127.0.0.1:0",
			MasterAddress:   "127.0.0.1:9700",
			RegisterTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Address:      "127.0.0.1:9701",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Protocol: ProtocolConfig{
			DialTimeout:    5 * time.Second,
			RequestTimeout: 0,
			MaxFrameSize:   protocol.DefaultMaxFrameSize,
		},
		Task: TaskConfig{
			ScriptTimeout: task.DefaultScriptTimeout,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// MasterOptions converts the configuration into master settings.
func (c *Config) MasterOptions() *master.Config {
	return &master.Config{
		Address:          c.Master.Address,
		AdvertiseAddress: c.Master.AdvertiseAddress,
		OrderTimeout:     c.Master.OrderTimeout,
		SendTimeout:      c.Master.SendTimeout,
		MaxFrameSize:     c.Protocol.MaxFrameSize,
	}
}

// WorkerOptions converts the configuration into worker settings.
func (c *Config) WorkerOptions() *worker.Config {
	return &worker.Config{
		Name:             c.Worker.Name,
		Address:          c.Worker.Address,
		AdvertiseAddress: c.Worker.AdvertiseAddress,
		RegisterTimeout:  c.Worker.RegisterTimeout,
		SendTimeout:      c.Protocol.DialTimeout,
		ScriptTimeout:    c.Task.ScriptTimeout,
		MaxFrameSize:     c.Protocol.MaxFrameSize,
	}
}

// ClientOptions converts the configuration into client settings for the given master.
func (c *Config) ClientOptions(masterAddr string) *client.Config {
	return &client.Config{
		MasterAddress: masterAddr,
		Timeout:       c.Protocol.RequestTimeout,
		DialTimeout:   c.Protocol.DialTimeout,
		MaxFrameSize:  c.Protocol.MaxFrameSize,
	}
}

// APIOptions converts the configuration into status server settings.
func (c *Config) APIOptions() *rest.Config {
	return &rest.Config{
		Address:          c.API.Address,
		ReadTimeout:      c.API.ReadTimeout,
		WriteTimeout:     c.API.WriteTimeout,
		EnableRequestLog: c.API.EnableRequestLog,
	}
}

// LoggerOptions converts the configuration into logger settings.
func (c *Config) LoggerOptions() *logger.Config {
	return &logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "FANOUT_",
		cmdArgs:   make(map[string]string),
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix environment variables must carry to be applied.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets dot-path overrides such as "master.order_timeout" => "30s".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply command-line overrides: %w", err)
	}

	return cfg, nil
}

// loadFromFile merges the YAML file into cfg. A missing file is not an error.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", l.configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", l.configPath, err)
	}

	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) error {
	return l.applyEnvToStruct(reflect.ValueOf(cfg).Elem())
}

// applyEnvToStruct recursively applies environment variables named by env tags.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || !strings.HasPrefix(envTag, l.envPrefix) {
			continue
		}

		envValue := os.Getenv(envTag)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s from %s: %w", fieldType.Name, envTag, err)
		}
	}

	return nil
}

func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by its YAML dot path.
func setConfigValue(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	v := reflect.ValueOf(cfg).Elem()

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("unknown config path: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("expected %s to be a section, got %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name || strings.EqualFold(t.Field(i).Name, name) {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			if field.OverflowInt(i) {
				return fmt.Errorf("integer %d overflows %s", i, field.Type())
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer: %w", err)
		}
		if field.OverflowUint(u) {
			return fmt.Errorf("integer %d overflows %s", u, field.Type())
		}
		field.SetUint(u)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration on top of the defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}
