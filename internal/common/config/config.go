package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

var (
	// ErrInvalidSettings is returned when a settings file decodes but fails validation
	ErrInvalidSettings = errors.New("invalid settings")

	// ErrUnknownSettingsKey is returned when the TOML file carries keys gamepush does not know
	ErrUnknownSettingsKey = errors.New("unknown settings key")
)

const (
	// DefaultNamespace prefixes every version-state key
	DefaultNamespace = "GamePush"

	// DefaultHTTPTimeout bounds each upstream request
	DefaultHTTPTimeout = 15 * time.Second

	// DefaultRenderTimeout bounds a single screenshot request
	DefaultRenderTimeout = 30 * time.Second

	settingsFileName = "gamepush.toml"
	pushFileName     = "push.yaml"
)

// Settings holds process-wide configuration
type Settings struct {
	DataDir     string            `toml:"data_dir"`
	Namespace   string            `toml:"namespace"`
	HTTPTimeout time.Duration     `toml:"http_timeout"`
	PushConfig  string            `toml:"push_config"`
	Render      RenderSettings    `toml:"render"`
	Bots        []BotSettings     `toml:"bots"`
	Telemetry   TelemetrySettings `toml:"telemetry"`
	Upstream    UpstreamSettings  `toml:"upstream"`
}

// RenderSettings configures the HTML screenshot service
type RenderSettings struct {
	Endpoint string        `toml:"endpoint"`
	Timeout  time.Duration `toml:"timeout"`
}

// BotSettings describes one OneBot v11 websocket connection
type BotSettings struct {
	ID          string `toml:"id"`
	URL         string `toml:"url"`
	AccessToken string `toml:"access_token"`
}

// TelemetrySettings configures OTLP trace export. Empty endpoint disables it.
type TelemetrySettings struct {
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	Environment string `toml:"environment"`
}

// UpstreamSettings overrides the upstream base URLs (used by tests and mirrors)
type UpstreamSettings struct {
	HypConnectBase string `toml:"hyp_connect_base"`
	SophonBase     string `toml:"sophon_base"`
	KuroIndexURL   string `toml:"kuro_index_url"`
}

// ConfigDir returns $XDG_CONFIG_HOME/gamepush (or ~/.config/gamepush)
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	return filepath.Join(xdgConfig, "gamepush"), nil
}

// DataDir returns $XDG_DATA_HOME/gamepush (or ~/.local/share/gamepush)
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	xdgData := os.Getenv("XDG_DATA_HOME")
	if xdgData == "" {
		xdgData = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(xdgData, "gamepush"), nil
}

// DefaultSettingsPath returns the settings file location inside ConfigDir
func DefaultSettingsPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, settingsFileName), nil
}

// LoadEnvFiles loads .env files into the process environment.
// Missing files are ignored; variables already set win.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads settings from the default path
func Load() (*Settings, error) {
	path, err := DefaultSettingsPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads settings from path. A missing file yields defaults.
// GAMEPUSH_* environment variables are applied on top of the file.
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		md, derr := toml.Decode(string(data), s)
		if derr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, derr)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w in %s: %s", ErrUnknownSettingsKey, path, strings.Join(keys, ", "))
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	s.applyEnv()
	if err := s.applyDefaults(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) applyEnv() {
	if v := os.Getenv("GAMEPUSH_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("GAMEPUSH_NAMESPACE"); v != "" {
		s.Namespace = v
	}
	if v := os.Getenv("GAMEPUSH_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			s.HTTPTimeout = d
		}
	}
	if v := os.Getenv("GAMEPUSH_PUSH_CONFIG"); v != "" {
		s.PushConfig = v
	}
	if v := os.Getenv("GAMEPUSH_RENDER_ENDPOINT"); v != "" {
		s.Render.Endpoint = v
	}
	if v := os.Getenv("GAMEPUSH_OTLP_ENDPOINT"); v != "" {
		s.Telemetry.Endpoint = v
	}
}

func (s *Settings) applyDefaults(configDir string) error {
	if s.DataDir == "" {
		dir, err := DataDir()
		if err != nil {
			return err
		}
		s.DataDir = dir
	}
	s.DataDir = expandHome(s.DataDir)
	if s.Namespace == "" {
		s.Namespace = DefaultNamespace
	}
	if s.HTTPTimeout <= 0 {
		s.HTTPTimeout = DefaultHTTPTimeout
	}
	if s.Render.Timeout <= 0 {
		s.Render.Timeout = DefaultRenderTimeout
	}
	if s.PushConfig == "" {
		s.PushConfig = filepath.Join(configDir, pushFileName)
	}
	s.PushConfig = expandHome(s.PushConfig)
	if s.Telemetry.Environment == "" {
		s.Telemetry.Environment = "production"
	}
	return nil
}

// Validate checks bot entries for completeness and uniqueness
func (s *Settings) Validate() error {
	seen := make(map[string]bool, len(s.Bots))
	for i, b := range s.Bots {
		if b.ID == "" {
			return fmt.Errorf("%w: bots[%d] has no id", ErrInvalidSettings, i)
		}
		if b.URL == "" {
			return fmt.Errorf("%w: bot %q has no url", ErrInvalidSettings, b.ID)
		}
		if seen[b.ID] {
			return fmt.Errorf("%w: duplicate bot id %q", ErrInvalidSettings, b.ID)
		}
		seen[b.ID] = true
	}
	return nil
}

// StatePath is the JSON version-state file inside DataDir
func (s *Settings) StatePath() string {
	return filepath.Join(s.DataDir, "state.json")
}

// HistoryPath is the sqlite history database inside DataDir
func (s *Settings) HistoryPath() string {
	return filepath.Join(s.DataDir, "history.db")
}

// SaveTo writes settings as TOML, creating parent directories
func (s *Settings) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(s)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
