package workflow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/kiranshivaraju/autolister/internal/filestore"
)

// ConfigFileName is the run configuration file the workflow process reads.
const ConfigFileName = "bot_config.json"

const (
	maxDelaySeconds = 600
	maxGroupsLimit  = 100
	maxRetriesLimit = 10
)

// Delays are per-step pauses in seconds.
type Delays struct {
	BetweenListings int `json:"between_listings"`
	BetweenProfiles int `json:"between_profiles"`
	AfterPublish    int `json:"after_publish"`
	PageLoad        int `json:"page_load"`
	ElementWait     int `json:"element_wait"`
	GroupSelection  int `json:"group_selection"`
}

type RunConfig struct {
	Delays     Delays `json:"delays"`
	MaxGroups  int    `json:"max_groups"`
	Headless   bool   `json:"headless"`
	AutoRetry  bool   `json:"auto_retry"`
	MaxRetries int    `json:"max_retries"`
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Delays: Delays{
			BetweenListings: 5,
			BetweenProfiles: 10,
			AfterPublish:    5,
			PageLoad:        4,
			ElementWait:     2,
			GroupSelection:  1,
		},
		MaxGroups:  20,
		Headless:   false,
		AutoRetry:  false,
		MaxRetries: 2,
	}
}

// ConfigError lists the fields of a config patch that could not be applied.
type ConfigError struct {
	Fields map[string]string
}

func (e *ConfigError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid config: " + strings.Join(parts, "; ")
}

// Apply merges a loosely typed patch into c. Numbers may arrive as JSON
// numbers or numeric strings and flags as booleans, 0/1 or "true"/"false".
// Unknown keys are ignored and absent keys keep their current value. Valid
// fields are applied even when others are rejected.
func (c *RunConfig) Apply(patch map[string]any) error {
	bad := map[string]string{}

	if raw, ok := patch["delays"]; ok {
		delays, isMap := raw.(map[string]any)
		if !isMap {
			bad["delays"] = "must be an object"
		}
		for key, dst := range c.Delays.fields() {
			v, present := delays[key]
			if !present {
				continue
			}
			n, ok := coerceInt(v)
			if !ok || n < 0 || n > maxDelaySeconds {
				bad["delays."+key] = fmt.Sprintf("must be an integer between 0 and %d", maxDelaySeconds)
				continue
			}
			*dst = n
		}
	}

	intField := func(key string, dst *int, max int) {
		v, present := patch[key]
		if !present {
			return
		}
		n, ok := coerceInt(v)
		if !ok || n < 0 || n > max {
			bad[key] = fmt.Sprintf("must be an integer between 0 and %d", max)
			return
		}
		*dst = n
	}
	boolField := func(key string, dst *bool) {
		v, present := patch[key]
		if !present {
			return
		}
		b, ok := coerceBool(v)
		if !ok {
			bad[key] = "must be a boolean"
			return
		}
		*dst = b
	}

	intField("max_groups", &c.MaxGroups, maxGroupsLimit)
	intField("max_retries", &c.MaxRetries, maxRetriesLimit)
	boolField("headless", &c.Headless)
	boolField("auto_retry", &c.AutoRetry)

	if len(bad) > 0 {
		return &ConfigError{Fields: bad}
	}
	return nil
}

func (d *Delays) fields() map[string]*int {
	return map[string]*int{
		"between_listings": &d.BetweenListings,
		"between_profiles": &d.BetweenProfiles,
		"after_publish":    &d.AfterPublish,
		"page_load":        &d.PageLoad,
		"element_wait":     &d.ElementWait,
		"group_selection":  &d.GroupSelection,
	}
}

// LoadRunConfig reads the config file from dir, falling back to defaults for
// a missing file, a corrupt file, or any missing or invalid key.
func LoadRunConfig(dir string) RunConfig {
	cfg := DefaultRunConfig()
	path := filepath.Join(dir, ConfigFileName)

	var patch map[string]any
	if err := filestore.ReadJSON(path, &patch); err != nil {
		if !filestore.IsNotExist(err) {
			slog.Warn("run config unreadable, using defaults", "path", path, "error", err)
		}
		return cfg
	}
	if err := cfg.Apply(patch); err != nil {
		slog.Warn("run config has invalid fields", "path", path, "error", err)
	}
	return cfg
}

// SaveRunConfig writes cfg for the workflow process.
func SaveRunConfig(dir string, cfg RunConfig) error {
	if err := filestore.WriteJSON(filepath.Join(dir, ConfigFileName), cfg); err != nil {
		return fmt.Errorf("save run config: %w", err)
	}
	return nil
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		return coerceInt(string(n))
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return coerceInt(f)
		}
	}
	return 0, false
}

func coerceBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		if b == 0 || b == 1 {
			return b == 1, true
		}
	case int:
		if b == 0 || b == 1 {
			return b == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off", "":
			return false, true
		}
	}
	return false, false
}
