package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/autoprofiled/internal/config"
	"codeberg.org/mutker/autoprofiled/internal/errors"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every lookup path at a fresh temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("AUTOPROFILED_CONFIG", "")
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "autoprofiled.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
ac-profile = "balanced"
battery-profile = "power-saver"
low-battery-threshold = 20
low-battery-mode = "warning-level"
power-saver-on-low-battery = false
performance-apps = ["steam", "blender", "steam", " "]
performance-apps-ac-profile = "performance"
performance-apps-battery-profile = "balanced"
notifications-enabled = false
remember-user-profile = true
lap-mode = false
log-level = "debug"

[journal]
enabled = true
path = "/tmp/journal.db"
batch-size = 4
`)
	t.Setenv("AUTOPROFILED_CONFIG", path)

	store, err := config.Load()
	require.NoError(t, err)

	cfg := store.Config()
	assert.Equal(t, "balanced", cfg.ACProfile)
	assert.Equal(t, "power-saver", cfg.BatteryProfile)
	assert.Equal(t, 20, cfg.LowBatteryThreshold)
	assert.Equal(t, config.LowBatteryWarningLevel, cfg.LowBatteryMode)
	assert.False(t, cfg.PowerSaverOnLowBattery)
	assert.Equal(t, []string{"steam", "blender"}, cfg.PerformanceApps)
	assert.Equal(t, "performance", cfg.PerformanceAppsACProfile)
	assert.Equal(t, "balanced", cfg.PerformanceAppsBatteryProfile)
	assert.False(t, cfg.NotificationsEnabled)
	assert.True(t, cfg.RememberUserProfile)
	assert.False(t, cfg.LapMode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/journal.db", cfg.Journal.Path)
	assert.Equal(t, 4, cfg.Journal.BatchSize)
	assert.Equal(t, 30, cfg.Journal.BatchTimeout, "unset nested keys keep their default")
	assert.Equal(t, path, store.ConfigFile())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	store, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	cfg := store.Config()
	def := config.Default()
	assert.Equal(t, "performance", cfg.ACProfile)
	assert.Equal(t, "balanced", cfg.BatteryProfile)
	assert.Equal(t, 0, cfg.LowBatteryThreshold)
	assert.Equal(t, config.LowBatteryPercentage, cfg.LowBatteryMode)
	assert.True(t, cfg.PowerSaverOnLowBattery)
	assert.Empty(t, cfg.PerformanceApps)
	assert.True(t, cfg.NotificationsEnabled)
	assert.False(t, cfg.RememberUserProfile)
	assert.True(t, cfg.LapMode)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel)
	assert.Equal(t, config.PowerSourceAuto, cfg.PowerSource)
	assert.Equal(t, def.Journal.Path, cfg.Journal.Path)
	assert.Equal(t, 2, cfg.Procwatch.Interval)
	assert.Equal(t, 5, cfg.Battery.Interval)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
This is not a valid TOML file
`)
	t.Setenv("AUTOPROFILED_CONFIG", path)

	_, err := config.Load()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrReadConfig))
}

func TestInvalidLogLevel(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
log-level = "invalid"
`)
	t.Setenv("AUTOPROFILED_CONFIG", path)

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")
	assert.True(t, errors.HasCode(err, errors.ErrInvalidLogLevel))
}

func TestInvalidSettings(t *testing.T) {
	tests := map[string]string{
		"threshold": `low-battery-threshold = 120`,
		"mode":      `low-battery-mode = "guess"`,
		"empty ac":  `ac-profile = ""`,
		"source":    `power-source = "acpi"`,
		"interval":  "[procwatch]\ninterval = 0",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir := isolate(t)
			t.Setenv("AUTOPROFILED_CONFIG", writeConfig(t, dir, content))

			_, err := config.Load()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrInvalidConfig), err.Error())
		})
	}
}

func TestEnvironmentOverride(t *testing.T) {
	isolate(t)
	t.Setenv("AUTOPROFILED_BATTERY_PROFILE", "power-saver")
	t.Setenv("AUTOPROFILED_LOW_BATTERY_THRESHOLD", "15")

	store, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "power-saver", store.Settings().BatteryProfile)
	assert.Equal(t, 15, store.Settings().LowBatteryThreshold)
}

func TestLogLevelFlag(t *testing.T) {
	isolate(t)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("log-level", config.DefaultLogLevel, "")
	fs.Bool("debug", false, "")
	require.NoError(t, fs.Parse([]string{"--log-level", "warning"}))

	store, err := config.Load(config.WithFlags(fs))
	require.NoError(t, err)
	assert.Equal(t, "warning", store.Config().LogLevel, "Expected LogLevel to be set by flag")

	require.NoError(t, fs.Parse([]string{"--debug"}))
	store, err = config.Load(config.WithFlags(fs))
	require.NoError(t, err)
	assert.Equal(t, "debug", store.Config().LogLevel)
}

func TestSetACProfilePersists(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
battery-profile = "power-saver"
`)

	store, err := config.Load(config.WithConfigFile(path))
	require.NoError(t, err)

	notified := 0
	sub := store.OnChange(func() { notified++ })
	defer sub.Close()

	require.NoError(t, store.SetACProfile("balanced"))
	assert.Equal(t, "balanced", store.Settings().ACProfile)
	assert.Equal(t, "power-saver", store.Settings().BatteryProfile)
	assert.Equal(t, 1, notified)

	reloaded, err := config.Load(config.WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, "balanced", reloaded.Settings().ACProfile)
	assert.Equal(t, "power-saver", reloaded.Settings().BatteryProfile)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "log-level", "defaults must not be written")
}

func TestSetBatteryProfileCreatesUserFile(t *testing.T) {
	dir := isolate(t)

	store, err := config.Load()
	require.NoError(t, err)

	require.NoError(t, store.SetBatteryProfile("power-saver"))

	expected := filepath.Join(dir, "xdg", "autoprofiled", "config.toml")
	assert.Equal(t, expected, store.ConfigFile())
	assert.FileExists(t, expected)
	assert.Equal(t, "power-saver", store.Settings().BatteryProfile)
}

func TestSetEmptyProfileRejected(t *testing.T) {
	isolate(t)

	store, err := config.Load()
	require.NoError(t, err)

	err = store.SetACProfile("")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidArgument))
}

func TestWatchReloads(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `ac-profile = "performance"`)

	store, err := config.Load(config.WithConfigFile(path))
	require.NoError(t, err)

	changed := make(chan struct{}, 1)
	sub := store.OnChange(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`ac-profile = "balanced"`), 0o600))

	require.Eventually(t, func() bool {
		return store.Settings().ACProfile == "balanced"
	}, 5*time.Second, 10*time.Millisecond)
	select {
	case <-changed:
	default:
		t.Fatal("configuration change was not published")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestSettingsCopyIsolation(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `performance-apps = ["steam"]`)

	store, err := config.Load(config.WithConfigFile(path))
	require.NoError(t, err)

	s := store.Settings()
	s.PerformanceApps[0] = "mutated"
	assert.Equal(t, []string{"steam"}, store.Settings().PerformanceApps)
}

func TestUserFileLayersOverSystemFile(t *testing.T) {
	dir := isolate(t)
	sysDir := filepath.Join(dir, "etc")
	require.NoError(t, os.MkdirAll(sysDir, 0o755))
	sysPath := filepath.Join(sysDir, "config.toml")
	sysContent := "ac-profile = \"balanced\"\nbattery-profile = \"power-saver\"\nlap-mode = false\n"
	require.NoError(t, os.WriteFile(sysPath, []byte(sysContent), 0o644))

	store, err := config.Load(config.WithSystemDir(sysDir))
	require.NoError(t, err)
	assert.Equal(t, "balanced", store.Settings().ACProfile)
	assert.Equal(t, "power-saver", store.Settings().BatteryProfile)

	userPath := filepath.Join(dir, "xdg", "autoprofiled", "config.toml")
	assert.Equal(t, userPath, store.ConfigFile(), "writes never target the system file")

	require.NoError(t, store.SetACProfile("performance"))

	content, err := os.ReadFile(sysPath)
	require.NoError(t, err)
	assert.Equal(t, sysContent, string(content), "the system file is read only")

	content, err = os.ReadFile(userPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "performance")
	assert.NotContains(t, string(content), "power-saver", "system values are not copied")

	s := store.Settings()
	assert.Equal(t, "performance", s.ACProfile)
	assert.Equal(t, "power-saver", s.BatteryProfile)
	assert.False(t, s.LapMode)

	reloaded, err := config.Load(config.WithSystemDir(sysDir))
	require.NoError(t, err)
	assert.Equal(t, s, reloaded.Settings())
}

func TestWatchReloadsSystemFile(t *testing.T) {
	dir := isolate(t)
	sysDir := filepath.Join(dir, "etc")
	require.NoError(t, os.MkdirAll(sysDir, 0o755))

	store, err := config.Load(config.WithSystemDir(sysDir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sysDir, "config.toml"), []byte(`battery-profile = "power-saver"`), 0o644))

	require.Eventually(t, func() bool {
		return store.Settings().BatteryProfile == "power-saver"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
