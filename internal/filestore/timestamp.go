package filestore

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp marshals as RFC 3339 and unmarshals from RFC 3339, naive ISO 8601
// (local time), or a numeric Unix epoch in seconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` || raw == "" {
		t.Time = time.Time{}
		return nil
	}
	if raw[0] != '"' {
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			t.Time = time.Time{}
			return nil
		}
		whole, frac := math.Modf(secs)
		t.Time = time.Unix(int64(whole), int64(frac*1e9))
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	// An unreadable timestamp must not discard the rest of the document.
	t.Time = time.Time{}
	return nil
}
