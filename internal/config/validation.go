package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateMasterConfig(&cfg.Master)
	v.validateWorkerConfig(&cfg.Worker)
	v.validateAPIConfig(&cfg.API)
	v.validateProtocolConfig(&cfg.Protocol)
	v.validateTaskConfig(&cfg.Task)
	v.validateLoggingConfig(&cfg.Logging)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateMasterConfig(cfg *MasterConfig) {
	if cfg.Address == "" {
		v.addError("master.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("master.address", "invalid address format, expected host:port or :port")
	}
	if cfg.AdvertiseAddress != "" && !isValidAddress(cfg.AdvertiseAddress) {
		v.addError("master.advertise_address", "invalid address format, expected host:port")
	}
	if cfg.OrderTimeout < 0 {
		v.addError("master.order_timeout", "order timeout must be non-negative")
	}
	if cfg.SendTimeout < 0 {
		v.addError("master.send_timeout", "send timeout must be non-negative")
	}
}

func (v *Validator) validateWorkerConfig(cfg *WorkerConfig) {
	if strings.TrimSpace(cfg.Name) == "" {
		v.addError("worker.name", "name is required")
	}
	if cfg.Address == "" {
		v.addError("worker.address", "address is required")
	} else if !isValidAddress(cfg.Address) {
		v.addError("worker.address", "invalid address format, expected host:port or :port")
	}
	if cfg.AdvertiseAddress != "" && !isValidAddress(cfg.AdvertiseAddress) {
		v.addError("worker.advertise_address", "invalid address format, expected host:port")
	}
	if cfg.MasterAddress != "" && !isValidAddress(cfg.MasterAddress) {
		v.addError("worker.master_address", "invalid master address format, expected host:port")
	}
	if cfg.RegisterTimeout < 0 {
		v.addError("worker.register_timeout", "register timeout must be non-negative")
	}
}

func (v *Validator) validateAPIConfig(cfg *APIConfig) {
	if cfg.Address != "" && !isValidAddress(cfg.Address) {
		v.addError("api.address", "invalid address format, expected host:port or :port")
	}
	if cfg.ReadTimeout < 0 {
		v.addError("api.read_timeout", "read timeout must be non-negative")
	}
	if cfg.WriteTimeout < 0 {
		v.addError("api.write_timeout", "write timeout must be non-negative")
	}
}

func (v *Validator) validateProtocolConfig(cfg *ProtocolConfig) {
	if cfg.DialTimeout < 0 {
		v.addError("protocol.dial_timeout", "dial timeout must be non-negative")
	}
	if cfg.RequestTimeout < 0 {
		v.addError("protocol.request_timeout", "request timeout must be non-negative")
	}
	if cfg.MaxFrameSize == 0 {
		v.addError("protocol.max_frame_size", "max frame size must be positive")
	}
}

func (v *Validator) validateTaskConfig(cfg *TaskConfig) {
	if cfg.ScriptTimeout < 0 {
		v.addError("task.script_timeout", "script timeout must be non-negative")
	}
}

func (v *Validator) validateLoggingConfig(cfg *LoggingConfig) {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if cfg.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(cfg.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", cfg.Level))
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if cfg.Format == "" {
		v.addError("logging.format", "log format is required")
	} else if !validFormats[strings.ToLower(cfg.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", cfg.Format))
	}

	validOutputs := map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
		"both":   true,
	}
	output := strings.ToLower(cfg.Output)
	if output != "" && !validOutputs[output] {
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s', must be one of: stdout, stderr, file, both", cfg.Output))
	}
	if (output == "file" || output == "both") && cfg.FilePath == "" {
		v.addError("logging.file_path", "file path is required when logging to a file")
	}
	if cfg.MaxSize < 0 || cfg.MaxBackups < 0 || cfg.MaxAge < 0 {
		v.addError("logging.rotation", "rotation limits must be non-negative")
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	// Host can be empty (all interfaces), an IP, or a hostname.
	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return false
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// MustValidate validates the configuration and panics if validation fails.
func (c *Config) MustValidate() {
	if err := c.Validate(); err != nil {
		panic(err)
	}
}

// LoadAndValidate loads the file at path and validates the result.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
