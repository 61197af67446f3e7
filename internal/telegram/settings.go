package telegram

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// UserSettings are the per-user signal preferences.
type UserSettings struct {
	Horizon string `json:"horizon"` // short | medium | long
	Risk    string `json:"risk"`    // low | medium | high
}

func defaultSettings() UserSettings {
	return UserSettings{Horizon: "medium", Risk: "medium"}
}

var (
	horizonNames = map[string]string{
		"short":  "Short-term (Scalp)",
		"medium": "Mid-term (Swing)",
		"long":   "Long-term (Trend)",
	}
	riskNames = map[string]string{
		"low":    "Low Risk",
		"medium": "Medium Risk",
		"high":   "High Risk",
	}
	horizonTimeframes = map[string][]string{
		"short":  {"1m", "5m", "15m"},
		"medium": {"15m", "1h"},
		"long":   {"1h", "4h", "1d"},
	}
)

// SettingsStore persists per-user horizon/risk choices as a JSON map keyed
// by user id.
type SettingsStore struct {
	path string
	mu   sync.Mutex
	log  zerolog.Logger
}

func NewSettingsStore(path string, logger zerolog.Logger) *SettingsStore {
	return &SettingsStore{
		path: path,
		log:  logger.With().Str("component", "user_settings").Logger(),
	}
}

// Get returns the user's settings, falling back to defaults.
func (s *SettingsStore) Get(userID int64) UserSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.loadLocked()
	if settings, ok := all[userID]; ok {
		return settings
	}
	return defaultSettings()
}

// Set updates one key ("horizon" or "risk") for the user.
func (s *SettingsStore) Set(userID int64, key, value string) error {
	switch key {
	case "horizon":
		if _, ok := horizonNames[value]; !ok {
			return fmt.Errorf("invalid horizon %q (use short, medium or long)", value)
		}
	case "risk":
		if _, ok := riskNames[value]; !ok {
			return fmt.Errorf("invalid risk %q (use low, medium or high)", value)
		}
	default:
		return fmt.Errorf("invalid setting key %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.loadLocked()
	settings, ok := all[userID]
	if !ok {
		settings = defaultSettings()
	}
	if key == "horizon" {
		settings.Horizon = value
	} else {
		settings.Risk = value
	}
	all[userID] = settings
	return s.saveLocked(all)
}

func (s *SettingsStore) loadLocked() map[int64]UserSettings {
	out := make(map[int64]UserSettings)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn().Err(err).Msg("user settings could not be loaded")
		}
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		s.log.Warn().Err(err).Msg("user settings could not be parsed")
	}
	return out
}

func (s *SettingsStore) saveLocked(all map[int64]UserSettings) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// HorizonName returns the display name for a horizon key.
func HorizonName(h string) string {
	if name, ok := horizonNames[h]; ok {
		return name
	}
	return h
}

// RiskName returns the display name for a risk key.
func RiskName(r string) string {
	if name, ok := riskNames[r]; ok {
		return name
	}
	return r
}

// TimeframesForHorizon maps a horizon to its scan timeframes.
func TimeframesForHorizon(h string) []string {
	if tfs, ok := horizonTimeframes[h]; ok {
		return tfs
	}
	return []string{"15m", "1h"}
}
