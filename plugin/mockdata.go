package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// MockDataFileName is the fixture file recorded runs write and mock
// backends replay.
const MockDataFileName = "mock_data.toml"

// Recording is one captured plugin call. Which payload field is set depends
// on the backend category.
type Recording struct {
	Key        string      `toml:"key"`
	Response   string      `toml:"response,omitempty"`
	Embeddings [][]float64 `toml:"embeddings,omitempty"`
	IDs        []string    `toml:"ids,omitempty"`
}

type mockDataFile struct {
	Version float64     `toml:"version"`
	Calls   []Recording `toml:"call"`
}

// Collector owns mock fixtures: in record mode it captures every real
// backend call; in replay mode it serves them back in the same order. Call
// order per (usage, method) is the replay key, so a recorded run replays
// deterministically as long as the pipeline issues calls in the same
// sequence.
type Collector struct {
	mu        sync.Mutex
	recording bool
	entries   map[string][]Recording
	order     []string
	replayPos map[string]int
}

// NewCollector creates a collector. When recording is true, captured calls
// are kept for Flush.
func NewCollector(recording bool) *Collector {
	return &Collector{
		recording: recording,
		entries:   map[string][]Recording{},
		replayPos: map[string]int{},
	}
}

// Recording reports whether capture mode is on.
func (c *Collector) Recording() bool {
	return c.recording
}

func callKey(usage, method string) string {
	return usage + "-" + method
}

// Record captures one call under its (usage, method) slot.
func (c *Collector) Record(usage, method string, rec Recording) {
	if !c.recording {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := callKey(usage, method)
	if _, seen := c.entries[key]; !seen {
		c.order = append(c.order, key)
	}
	rec.Key = fmt.Sprintf("%s-%d", key, len(c.entries[key]))
	c.entries[key] = append(c.entries[key], rec)
}

// NextReplay returns the next recorded call for a (usage, method) slot.
func (c *Collector) NextReplay(usage, method string) (Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := callKey(usage, method)
	recs := c.entries[key]
	pos := c.replayPos[key]
	if pos >= len(recs) {
		return Recording{}, NewBackendError("mock", "no recording for %s call %d", key, pos)
	}
	c.replayPos[key] = pos + 1
	return recs[pos], nil
}

// ResetReplay rewinds all replay positions.
func (c *Collector) ResetReplay() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replayPos = map[string]int{}
}

// LoadFile reads a fixture file into the collector for replay.
func (c *Collector) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mock data: %w", err)
	}

	var file mockDataFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("invalid mock data file %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range file.Calls {
		key, ok := splitRecordingKey(rec.Key)
		if !ok {
			return fmt.Errorf("invalid recording key: %s", rec.Key)
		}
		if _, seen := c.entries[key]; !seen {
			c.order = append(c.order, key)
		}
		c.entries[key] = append(c.entries[key], rec)
	}
	return nil
}

// LoadFromPaths loads the first fixture file found under the given
// directories. Missing fixtures are not an error; the mock backends will
// fail on first use instead.
func (c *Collector) LoadFromPaths(paths []string) (string, error) {
	for _, dir := range paths {
		path := filepath.Join(dir, MockDataFileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := c.LoadFile(path); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", nil
}

// Flush writes the captured calls to a fixture file.
func (c *Collector) Flush(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording || len(c.entries) == 0 {
		return nil
	}

	file := mockDataFile{Version: 1.0}
	for _, key := range c.order {
		file.Calls = append(file.Calls, c.entries[key]...)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("failed to marshal mock data: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create mock data dir: %w", err)
	}
	path := filepath.Join(dir, MockDataFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write mock data: %w", err)
	}
	return nil
}

// splitRecordingKey strips the trailing call index from a recorded key.
func splitRecordingKey(full string) (string, bool) {
	for i := len(full) - 1; i >= 0; i-- {
		if full[i] == '-' {
			return full[:i], i > 0
		}
	}
	return "", false
}
