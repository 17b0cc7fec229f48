package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ScreenshotDirName is the folder the workflow process saves screenshots to.
const ScreenshotDirName = "fbmpss"

type Screenshot struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

// ListScreenshots returns the screenshots under dir, newest first. A missing
// folder yields an empty list.
func ListScreenshots(dir string) ([]Screenshot, error) {
	entries, err := os.ReadDir(filepath.Join(dir, ScreenshotDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return []Screenshot{}, nil
		}
		return nil, fmt.Errorf("list screenshots: %w", err)
	}

	shots := make([]Screenshot, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		shots = append(shots, Screenshot{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(shots, func(i, j int) bool {
		return shots[i].Modified.After(shots[j].Modified)
	})
	return shots, nil
}

// ClearScreenshots deletes every screenshot and reports how many were removed.
func ClearScreenshots(dir string) (int, error) {
	shots, err := ListScreenshots(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, s := range shots {
		if err := os.Remove(filepath.Join(dir, ScreenshotDirName, s.Name)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove screenshot %s: %w", s.Name, err)
		}
		removed++
	}
	return removed, nil
}
