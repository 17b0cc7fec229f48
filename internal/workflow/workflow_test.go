package workflow

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/autolister/pkg/models"
)

func TestWriteInputs(t *testing.T) {
	dir := t.TempDir()
	profiles := []ProfileRef{
		{Path: "/profiles/Default", Location: "Austin, TX", DisplayName: "Jane"},
		{Path: "/profiles/Profile 2", Location: "Dallas, TX", DisplayName: "Sam"},
	}
	listings := []ListingRef{{
		Year: "2019", Make: "Honda", Model: "Civic", Mileage: "42000", Price: "15500",
		Description: "One owner, \"clean\" title,\nno accidents", ImagesPath: "/img/civic",
	}}

	require.NoError(t, WriteInputs(dir, profiles, listings))

	raw, err := os.ReadFile(filepath.Join(dir, ProfilesFileName))
	require.NoError(t, err)
	assert.Equal(t, "/profiles/Default|Austin, TX|Jane\n/profiles/Profile 2|Dallas, TX|Sam\n", string(raw))

	f, err := os.Open(filepath.Join(dir, ListingsFileName))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ListingColumns, rows[0])
	assert.Equal(t, "Civic", rows[1][2])
	assert.Equal(t, listings[0].Description, rows[1][11])

	require.NoError(t, RemoveInputs(dir))
	_, err = os.Stat(filepath.Join(dir, ProfilesFileName))
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, RemoveInputs(dir))
}

func TestListingRefFromModel(t *testing.T) {
	ref := ListingRefFromModel(&models.Listing{Year: 2020, Make: "Toyota", Model: "Camry", Mileage: 1000, Price: 21999})
	assert.Equal(t, "2020 Toyota Camry", ref.Label())
	assert.Equal(t, "21999", ref.Price)
	assert.Equal(t, "1000", ref.Mileage)
}

func TestProfileRef_Name(t *testing.T) {
	assert.Equal(t, "Jane", ProfileRef{DisplayName: "Jane", Path: "/x/Default"}.Name())
	assert.Equal(t, "Default", ProfileRef{Path: "/x/Default"}.Name())
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name                   string
		pIdx, pTotal, lIdx, lT int
		want                   int
	}{
		{"empty", 0, 0, 0, 0, 0},
		{"start", 0, 2, 0, 4, 0},
		{"mid first profile", 0, 2, 2, 4, 25},
		{"second profile", 1, 2, 2, 4, 75},
		{"last listing", 1, 2, 3, 4, 87},
		{"done", 1, 1, 3, 3, 100},
		{"negative index", -1, 2, 0, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProgressPercent(tt.pIdx, tt.pTotal, tt.lIdx, tt.lT))
		})
	}
}

func TestRunConfig_Apply(t *testing.T) {
	cfg := DefaultRunConfig()
	err := cfg.Apply(map[string]any{
		"delays":      map[string]any{"page_load": "7", "element_wait": 3.0},
		"max_groups":  "15",
		"headless":    "true",
		"auto_retry":  float64(1),
		"max_retries": 4,
		"unknown":     "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Delays.PageLoad)
	assert.Equal(t, 3, cfg.Delays.ElementWait)
	assert.Equal(t, 5, cfg.Delays.BetweenListings, "missing keys keep defaults")
	assert.Equal(t, 15, cfg.MaxGroups)
	assert.True(t, cfg.Headless)
	assert.True(t, cfg.AutoRetry)
	assert.Equal(t, 4, cfg.MaxRetries)
}

func TestRunConfig_ApplyRejectsBadValues(t *testing.T) {
	cfg := DefaultRunConfig()
	err := cfg.Apply(map[string]any{
		"max_groups":  "lots",
		"headless":    "maybe",
		"delays":      map[string]any{"page_load": -1},
		"max_retries": 3,
	})
	var cerr *ConfigError
	require.True(t, errors.As(err, &cerr))
	assert.Contains(t, cerr.Fields, "max_groups")
	assert.Contains(t, cerr.Fields, "headless")
	assert.Contains(t, cerr.Fields, "delays.page_load")
	assert.Equal(t, 20, cfg.MaxGroups)
	assert.Equal(t, 3, cfg.MaxRetries, "valid fields still apply")
}

func TestLoadSaveRunConfig(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, DefaultRunConfig(), LoadRunConfig(dir))

	cfg := DefaultRunConfig()
	cfg.MaxGroups = 8
	cfg.Delays.AfterPublish = 9
	require.NoError(t, SaveRunConfig(dir, cfg))
	assert.Equal(t, cfg, LoadRunConfig(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{"max_groups": 3}`), 0o644))
	loaded := LoadRunConfig(dir)
	assert.Equal(t, 3, loaded.MaxGroups)
	assert.Equal(t, DefaultRunConfig().Delays, loaded.Delays)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`garbage`), 0o644))
	assert.Equal(t, DefaultRunConfig(), LoadRunConfig(dir))
}

func TestScreenshots(t *testing.T) {
	dir := t.TempDir()
	shots, err := ListScreenshots(dir)
	require.NoError(t, err)
	assert.Empty(t, shots)

	folder := filepath.Join(dir, ScreenshotDirName)
	require.NoError(t, os.MkdirAll(folder, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "a.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "b.JPG"), []byte("jpg!"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(folder, "notes.txt"), []byte("x"), 0o644))

	shots, err = ListScreenshots(dir)
	require.NoError(t, err)
	assert.Len(t, shots, 2)

	n, err := ClearScreenshots(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = os.Stat(filepath.Join(folder, "notes.txt"))
	assert.NoError(t, err, "non-image files are left alone")
}
