package feedback

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/himanishpuri/LoopProfiler/internal/audio"
)

const (
	DocumentVersion = "1.0"
	AppVersion      = "2.0.0"
)

// ErrCorruptDocument marks a feedback file that could not be parsed.
var ErrCorruptDocument = errors.New("corrupt feedback document")

type SystemInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
}

type Metadata struct {
	StoreID    string     `json:"store_id"`
	NextID     uint64     `json:"next_id"`
	SystemInfo SystemInfo `json:"system_info"`
}

// Document is the persisted form of a Store.
type Document struct {
	Version    string     `json:"version"`
	AppVersion string     `json:"app_version"`
	CreatedAt  time.Time  `json:"created_at"`
	Feedbacks  []*Record  `json:"feedbacks"`
	Statistics Statistics `json:"statistics"`
	Metadata   Metadata   `json:"metadata"`
}

func newDocument(now time.Time) *Document {
	return &Document{
		Version:    DocumentVersion,
		AppVersion: AppVersion,
		CreatedAt:  now,
		Feedbacks:  []*Record{},
		Metadata: Metadata{
			StoreID:    uuid.NewString(),
			NextID:     1,
			SystemInfo: currentSystemInfo(),
		},
	}
}

func currentSystemInfo() SystemInfo {
	return SystemInfo{OS: runtime.GOOS, Arch: runtime.GOARCH, GoVersion: runtime.Version()}
}

func (d *Document) clone() *Document {
	c := *d
	c.Feedbacks = make([]*Record, len(d.Feedbacks))
	for i, r := range d.Feedbacks {
		c.Feedbacks[i] = r.clone()
	}
	c.Statistics = d.Statistics.clone()
	return &c
}

func (d *Document) find(id uint64) (int, *Record) {
	for i, r := range d.Feedbacks {
		if r.ID == id {
			return i, r
		}
	}
	return -1, nil
}

func (d *Document) encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// decodeDocument parses data, ignoring unknown fields and filling missing
// optional ones.
func decodeDocument(data []byte, now time.Time) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDocument, err)
	}
	if d.Feedbacks == nil {
		// A document without a feedback list is not one of ours.
		var probe map[string]json.RawMessage
		_ = json.Unmarshal(data, &probe)
		if _, ok := probe["feedbacks"]; !ok {
			return nil, fmt.Errorf("%w: missing feedbacks", ErrCorruptDocument)
		}
		d.Feedbacks = []*Record{}
	}
	d.fillDefaults(now)
	return &d, nil
}

func (d *Document) fillDefaults(now time.Time) {
	if d.Version == "" {
		d.Version = DocumentVersion
	}
	if d.AppVersion == "" {
		d.AppVersion = AppVersion
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.Metadata.StoreID == "" {
		d.Metadata.StoreID = uuid.NewString()
	}
	if d.Metadata.SystemInfo == (SystemInfo{}) {
		d.Metadata.SystemInfo = currentSystemInfo()
	}

	var maxID uint64
	kept := d.Feedbacks[:0]
	for _, r := range d.Feedbacks {
		if r == nil {
			continue
		}
		kept = append(kept, r)
		maxID = max(maxID, r.ID)

		if r.AudioHash == "" && r.AudioFile != "" {
			r.AudioHash = audio.Fingerprint(r.AudioFile)
		}
		if r.AudioMetadata.SampleRate <= 0 {
			r.AudioMetadata.SampleRate = DefaultMetadata().SampleRate
		}
		if r.AudioMetadata.Channels <= 0 {
			r.AudioMetadata.Channels = DefaultMetadata().Channels
		}
		if !r.UserFeedback.Source.Valid() {
			r.UserFeedback.Source = SourceManual
		}
		if r.Timestamps.CreatedAt.IsZero() {
			r.Timestamps.CreatedAt = d.CreatedAt
		}
		if r.Timestamps.UpdatedAt.IsZero() {
			r.Timestamps.UpdatedAt = r.Timestamps.CreatedAt
		}
	}
	d.Feedbacks = kept
	if d.Metadata.NextID <= maxID {
		d.Metadata.NextID = maxID + 1
	}
}
