package config

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"

	"codeberg.org/mutker/autoprofiled/internal/errors"
	"codeberg.org/mutker/autoprofiled/internal/event"
	"codeberg.org/mutker/autoprofiled/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix = "AUTOPROFILED"
	DefaultLogLevel  = "info"

	configName     = "config"
	configType     = "toml"
	systemDir      = "/etc/autoprofiled"
	appDir         = "autoprofiled"
	defaultDirPerm = 0o755
)

// Settings are the profile selection preferences.
type Settings struct {
	ACProfile                     string         `mapstructure:"ac-profile"`
	BatteryProfile                string         `mapstructure:"battery-profile"`
	LowBatteryThreshold           int            `mapstructure:"low-battery-threshold"`
	LowBatteryMode                LowBatteryMode `mapstructure:"low-battery-mode"`
	PowerSaverOnLowBattery        bool           `mapstructure:"power-saver-on-low-battery"`
	PerformanceApps               []string       `mapstructure:"performance-apps"`
	PerformanceAppsACProfile      string         `mapstructure:"performance-apps-ac-profile"`
	PerformanceAppsBatteryProfile string         `mapstructure:"performance-apps-battery-profile"`
	NotificationsEnabled          bool           `mapstructure:"notifications-enabled"`
	RememberUserProfile           bool           `mapstructure:"remember-user-profile"`
	LapMode                       bool           `mapstructure:"lap-mode"`
}

type JournalConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Path         string `mapstructure:"path"`
	BatchSize    int    `mapstructure:"batch-size"`
	BatchTimeout int    `mapstructure:"batch-timeout"`
}

type PollConfig struct {
	Interval int `mapstructure:"interval"`
}

// Config is the full daemon configuration.
type Config struct {
	Settings    `mapstructure:",squash"`
	LogLevel    string        `mapstructure:"log-level"`
	Debug       bool          `mapstructure:"debug"`
	Verbose     bool          `mapstructure:"verbose"`
	PowerSource PowerSource   `mapstructure:"power-source"`
	Journal     JournalConfig `mapstructure:"journal"`
	Procwatch   PollConfig    `mapstructure:"procwatch"`
	Battery     PollConfig    `mapstructure:"battery"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Settings: Settings{
			ACProfile:                     "performance",
			BatteryProfile:                "balanced",
			LowBatteryThreshold:           0,
			LowBatteryMode:                LowBatteryPercentage,
			PowerSaverOnLowBattery:        true,
			PerformanceApps:               []string{},
			PerformanceAppsACProfile:      "performance",
			PerformanceAppsBatteryProfile: "performance",
			NotificationsEnabled:          true,
			RememberUserProfile:           false,
			LapMode:                       true,
		},
		LogLevel:    DefaultLogLevel,
		PowerSource: PowerSourceAuto,
		Journal: JournalConfig{
			Enabled:      false,
			Path:         defaultJournalPath(),
			BatchSize:    16,
			BatchTimeout: 30,
		},
		Procwatch: PollConfig{Interval: 2},
		Battery:   PollConfig{Interval: 5},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("ac-profile", d.ACProfile)
	v.SetDefault("battery-profile", d.BatteryProfile)
	v.SetDefault("low-battery-threshold", d.LowBatteryThreshold)
	v.SetDefault("low-battery-mode", string(d.LowBatteryMode))
	v.SetDefault("power-saver-on-low-battery", d.PowerSaverOnLowBattery)
	v.SetDefault("performance-apps", d.PerformanceApps)
	v.SetDefault("performance-apps-ac-profile", d.PerformanceAppsACProfile)
	v.SetDefault("performance-apps-battery-profile", d.PerformanceAppsBatteryProfile)
	v.SetDefault("notifications-enabled", d.NotificationsEnabled)
	v.SetDefault("remember-user-profile", d.RememberUserProfile)
	v.SetDefault("lap-mode", d.LapMode)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("debug", false)
	v.SetDefault("verbose", false)
	v.SetDefault("power-source", string(d.PowerSource))
	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.batch-size", d.Journal.BatchSize)
	v.SetDefault("journal.batch-timeout", d.Journal.BatchTimeout)
	v.SetDefault("procwatch.interval", d.Procwatch.Interval)
	v.SetDefault("battery.interval", d.Battery.Interval)
}

// Store loads, watches and persists the configuration. It is safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	opts      options
	files     []string
	cfg       Config
	writePath string
	changed   *event.Hub[struct{}]
	log       logger.Logger
}

// Load reads the configuration and validates the result. Without an
// explicit file the system file is read first and the user file is merged
// over it; the environment and flags take precedence over both.
func Load(opts ...Option) (*Store, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix, systemDir: systemDir}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}
	if o.configPath == "" {
		o.configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	s := &Store{
		opts:    o,
		changed: event.NewHub[struct{}](),
		log:     logger.Component("config"),
	}

	fileName := configName + "." + configType
	if o.configPath != "" {
		s.files = []string{o.configPath}
		s.writePath = o.configPath
	} else {
		s.writePath = filepath.Join(userConfigDir(), fileName)
		s.files = []string{filepath.Join(o.systemDir, fileName)}
		if s.writePath != s.files[0] {
			s.files = append(s.files, s.writePath)
		}
	}

	cfg, err := s.read()
	if err != nil {
		return nil, err
	}
	s.cfg = cfg

	return s, nil
}

// read builds the configuration from defaults, every config file in order,
// the environment and flags.
func (s *Store) read() (Config, error) {
	errFactory := errors.New()

	v := viper.New()
	setDefaults(v)
	v.SetConfigType(configType)
	v.SetEnvPrefix(s.opts.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	for _, path := range s.files {
		v.SetConfigFile(path)
		if err := mergeConfig(v); err != nil {
			return Config{}, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	if s.opts.flags != nil {
		for _, name := range []string{"log-level", "debug", "verbose", "power-source"} {
			if f := s.opts.flags.Lookup(name); f != nil {
				if err := v.BindPFlag(name, f); err != nil {
					return Config{}, errFactory.Wrap(errors.ErrBindFlags, err)
				}
			}
		}
	}

	return unmarshal(v)
}

// mergeConfig merges the configured file into v. A missing file is not an
// error.
func mergeConfig(v *viper.Viper) error {
	err := v.MergeInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return err
}

func unmarshal(v *viper.Viper) (Config, error) {
	errFactory := errors.New()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if cfg.Debug {
		cfg.LogLevel = string(LogLevelDebug)
	} else if cfg.Verbose {
		cfg.LogLevel = string(LogLevelInfo)
	}
	cfg.PerformanceApps = normalizeApps(cfg.PerformanceApps)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks every field and returns the first problem found.
func (c Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if err := c.Settings.Validate(); err != nil {
		return err
	}
	if !c.PowerSource.IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("power-source %q", c.PowerSource))
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "journal.path is empty")
	}
	if c.Procwatch.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("procwatch.interval %d", c.Procwatch.Interval))
	}
	if c.Battery.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("battery.interval %d", c.Battery.Interval))
	}

	return nil
}

// Validate checks the profile selection settings.
func (s Settings) Validate() error {
	errFactory := errors.New()

	if s.ACProfile == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "ac-profile is empty")
	}
	if s.BatteryProfile == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "battery-profile is empty")
	}
	if s.LowBatteryThreshold < 0 || s.LowBatteryThreshold > 100 {
		return errFactory.WithData(errors.ErrInvalidConfig,
			fmt.Sprintf("low-battery-threshold %d out of range 0-100", s.LowBatteryThreshold))
	}
	if !s.LowBatteryMode.IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("low-battery-mode %q", s.LowBatteryMode))
	}

	return nil
}

func normalizeApps(apps []string) []string {
	out := make([]string, 0, len(apps))
	seen := make(map[string]struct{}, len(apps))
	for _, app := range apps {
		app = strings.TrimSpace(app)
		if app == "" {
			continue
		}
		if _, ok := seen[app]; ok {
			continue
		}
		seen[app] = struct{}{}
		out = append(out, app)
	}

	return out
}

// Config returns a copy of the current configuration.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.cfg
	cfg.PerformanceApps = append([]string(nil), s.cfg.PerformanceApps...)
	return cfg
}

// Settings returns a copy of the current profile selection settings.
func (s *Store) Settings() Settings {
	return s.Config().Settings
}

// ConfigFile returns the file writes go to.
func (s *Store) ConfigFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writePath
}

// OnChange registers fn to run whenever the configuration changes.
func (s *Store) OnChange(fn func()) event.Subscription {
	return s.changed.Subscribe(func(struct{}) { fn() })
}

// Reload re-reads the configuration files and notifies when the result
// differs from the current configuration.
func (s *Store) Reload() error {
	s.mu.Lock()
	cfg, err := s.read()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	unchanged := reflect.DeepEqual(s.cfg, cfg)
	s.cfg = cfg
	s.mu.Unlock()

	if !unchanged {
		s.changed.Publish(struct{}{})
	}
	return nil
}

// SetACProfile stores profile as the AC default.
func (s *Store) SetACProfile(profile string) error {
	return s.set("ac-profile", profile)
}

// SetBatteryProfile stores profile as the battery default.
func (s *Store) SetBatteryProfile(profile string) error {
	return s.set("battery-profile", profile)
}

func (s *Store) set(key, value string) error {
	errFactory := errors.New()

	if value == "" {
		return errFactory.WithData(errors.ErrInvalidArgument, key+" cannot be empty")
	}

	s.mu.Lock()
	path := s.writePath
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		s.mu.Unlock()
		return errFactory.Wrap(errors.ErrWriteConfig, err)
	}

	// Write through a file-only instance so defaults, environment, flags
	// and the system file are not baked into the user's file.
	w := viper.New()
	w.SetConfigFile(path)
	w.SetConfigType(configType)
	if err := mergeConfig(w); err != nil {
		s.mu.Unlock()
		return errFactory.Wrap(errors.ErrWriteConfig, err)
	}
	w.Set(key, value)
	if err := w.WriteConfigAs(path); err != nil {
		s.mu.Unlock()
		return errFactory.Wrap(errors.ErrWriteConfig, err)
	}

	cfg, err := s.read()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.cfg = cfg
	s.mu.Unlock()

	s.log.Info().Str("key", key).Str("value", value).Str("path", path).Msg("Configuration updated")
	s.changed.Publish(struct{}{})
	return nil
}

// Watch reloads the configuration whenever one of its files is written,
// created or renamed into place. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	errFactory := errors.New()

	s.mu.RLock()
	files, writePath := slices.Clone(s.files), s.writePath
	s.mu.RUnlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	defer watcher.Close()

	// Watch the directories: editors replace files instead of writing in place.
	targets := make(map[string]struct{}, len(files))
	for _, path := range files {
		dir := filepath.Dir(path)
		if path == writePath {
			if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
				return errFactory.Wrap(errors.ErrInitFailed, err)
			}
		} else if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return errFactory.Wrap(errors.ErrInitFailed, err)
		}
		targets[filepath.Clean(path)] = struct{}{}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, ok := targets[filepath.Clean(ev.Name)]; !ok {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.Warn().Err(err).Str("path", ev.Name).Msg("Ignoring invalid configuration")
				continue
			}
			s.log.Debug().Str("path", ev.Name).Msg("Configuration reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("Configuration watcher error")
		}
	}
}

func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appDir)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", appDir)
	}
	return systemDir
}

func defaultJournalPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, appDir, "journal.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", appDir, "journal.db")
	}
	return filepath.Join(os.TempDir(), appDir, "journal.db")
}
