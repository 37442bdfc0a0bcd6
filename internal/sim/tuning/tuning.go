package tuning

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrRegenerated marks a load that fell back to defaults and rewrote the file.
var ErrRegenerated = errors.New("settings regenerated from defaults")

const (
	MinTickIntervalMs   = 250
	MinSaveDebounceMs   = 100
	MinMaxFillPerTick   = 1
	MinCommandsPerMin   = 1
	DefaultFillItemKind = "water"
)

type Settings struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	TickIntervalMs int  `yaml:"tick_interval_ms" json:"tick_interval_ms"`
	MaxFillPerTick int  `yaml:"max_fill_per_tick" json:"max_fill_per_tick"`
	DefaultEnabled bool `yaml:"default_enabled" json:"default_enabled"`

	FillItemKind  string   `yaml:"fill_item_kind" json:"fill_item_kind"`
	Whitelist     []string `yaml:"whitelist" json:"whitelist"`
	Exclude       []string `yaml:"exclude" json:"exclude"`
	CreateOnEmpty bool     `yaml:"create_on_empty" json:"create_on_empty"`

	CommandCooldownMs    int `yaml:"command_cooldown_ms" json:"command_cooldown_ms"`
	MaxCommandsPerMinute int `yaml:"max_commands_per_minute" json:"max_commands_per_minute"`
	SaveDebounceMs       int `yaml:"save_debounce_ms" json:"save_debounce_ms"`

	ClearOnWipe bool `yaml:"clear_on_wipe" json:"clear_on_wipe"`
	LogChanges  bool `yaml:"log_changes" json:"log_changes"`

	Permissions Permissions `yaml:"permissions" json:"permissions"`
}

type Permissions struct {
	Use   string `yaml:"use" json:"use"`
	Admin string `yaml:"admin" json:"admin"`
}

func Defaults() Settings {
	return Settings{
		Enabled:              true,
		TickIntervalMs:       5000,
		MaxFillPerTick:       1000,
		DefaultEnabled:       true,
		FillItemKind:         DefaultFillItemKind,
		Whitelist:            []string{},
		Exclude:              []string{},
		CommandCooldownMs:    2000,
		MaxCommandsPerMinute: 10,
		SaveDebounceMs:       2000,
		LogChanges:           true,
		Permissions: Permissions{
			Use:   "autorefill.use",
			Admin: "autorefill.admin",
		},
	}
}

func (s Settings) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

func (s Settings) CommandCooldown() time.Duration {
	return time.Duration(s.CommandCooldownMs) * time.Millisecond
}

func (s Settings) SaveDebounce() time.Duration {
	return time.Duration(s.SaveDebounceMs) * time.Millisecond
}

// Normalize clamps every value into its valid range.
func (s *Settings) Normalize() {
	if s == nil {
		return
	}
	def := Defaults()
	if s.TickIntervalMs < MinTickIntervalMs {
		s.TickIntervalMs = MinTickIntervalMs
	}
	if s.MaxFillPerTick < MinMaxFillPerTick {
		s.MaxFillPerTick = MinMaxFillPerTick
	}
	if s.CommandCooldownMs < 0 {
		s.CommandCooldownMs = 0
	}
	if s.MaxCommandsPerMinute < MinCommandsPerMin {
		s.MaxCommandsPerMinute = MinCommandsPerMin
	}
	if s.SaveDebounceMs < MinSaveDebounceMs {
		s.SaveDebounceMs = MinSaveDebounceMs
	}
	s.FillItemKind = strings.TrimSpace(s.FillItemKind)
	if s.FillItemKind == "" {
		s.FillItemKind = DefaultFillItemKind
	}
	s.Whitelist = dedupe(s.Whitelist)
	s.Exclude = dedupe(s.Exclude)
	s.Permissions.Use = strings.TrimSpace(s.Permissions.Use)
	if s.Permissions.Use == "" {
		s.Permissions.Use = def.Permissions.Use
	}
	s.Permissions.Admin = strings.TrimSpace(s.Permissions.Admin)
	if s.Permissions.Admin == "" {
		s.Permissions.Admin = def.Permissions.Admin
	}
}

// Load reads settings from path. A missing or malformed file is replaced with the
// defaults, which are returned together with an ErrRegenerated warning.
func Load(path string) (Settings, error) {
	s := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return regenerate(path, fmt.Errorf("read %s: %w", filepath.Base(path), err))
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return regenerate(path, fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	s.Normalize()
	return s, nil
}

// Save writes settings as YAML, creating parent directories.
func Save(path string, s Settings) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty settings path")
	}
	b, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func regenerate(path string, cause error) (Settings, error) {
	s := Defaults()
	if err := Save(path, s); err != nil {
		return s, fmt.Errorf("%w: %v (write defaults: %v)", ErrRegenerated, cause, err)
	}
	return s, fmt.Errorf("%w: %v", ErrRegenerated, cause)
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
