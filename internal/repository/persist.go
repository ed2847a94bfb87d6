package repository

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marketstructure/sdfib-analyzer/pkg/types"
)

const (
	zoneFileSuffix   = ".zones.json"
	stateUpdatesFile = "state_updates.ndjson"
	testEventsFile   = "test_events.ndjson"
	dirPerm          = 0755
	filePerm         = 0644
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, dirPerm)
}

func zoneFileName(symbol string, tf types.Timeframe) string {
	return fmt.Sprintf("%s_%s%s", symbol, tf, zoneFileSuffix)
}

// load rebuilds the in-memory cache from disk: one zone file per
// (symbol, timeframe) plus the two append-only NDJSON logs keyed by zone_id
// (spec's flat time-ordered log redesign — no back-pointers, no cyclic
// references between zones and their history).
func (r *FileRepository) load() error {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read data dir: %w", err)
	}

	zones := make(map[string]types.SupplyDemandZone)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), zoneFileSuffix) {
			continue
		}
		var batch []types.SupplyDemandZone
		if err := readJSON(filepath.Join(r.dataDir, entry.Name()), &batch); err != nil {
			return err
		}
		for _, z := range batch {
			zones[z.ID] = z
		}
	}

	history, err := readHistoryLog(filepath.Join(r.dataDir, stateUpdatesFile))
	if err != nil {
		return err
	}
	events, err := readEventsLog(filepath.Join(r.dataDir, testEventsFile))
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = zones
	r.history = history
	r.events = events
	return nil
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func readHistoryLog(path string) (map[string][]historyRecord, error) {
	out := make(map[string][]historyRecord)
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		var rec historyRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out[rec.ZoneID] = append(out[rec.ZoneID], rec)
	}
	return out, nil
}

func readEventsLog(path string) (map[string][]types.ZoneTestEvent, error) {
	out := make(map[string][]types.ZoneTestEvent)
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		var e types.ZoneTestEvent
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out[e.ZoneID] = append(out[e.ZoneID], e)
	}
	return out, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// persistZones rewrites every (symbol, timeframe) zone file from the
// current in-memory cache.
func (r *FileRepository) persistZones() error {
	r.mu.RLock()
	grouped := make(map[string][]types.SupplyDemandZone)
	for _, z := range r.zones {
		key := zoneFileName(z.Symbol, z.Timeframe)
		grouped[key] = append(grouped[key], z)
	}
	r.mu.RUnlock()

	// A zone file whose instrument has no zones left is rewritten as an
	// empty list, so deleted zones do not come back on the next load.
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return fmt.Errorf("read data dir: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if _, ok := grouped[name]; !ok && !entry.IsDir() && strings.HasSuffix(name, zoneFileSuffix) {
			grouped[name] = []types.SupplyDemandZone{}
		}
	}

	for file, batch := range grouped {
		if err := writeJSON(filepath.Join(r.dataDir, file), batch); err != nil {
			return err
		}
	}
	return nil
}

// appendHistoryLine appends one NDJSON record to the state-update log.
func appendHistoryLine(path string, rec historyRecord) error {
	return appendLine(path, rec)
}

// appendEventLine appends one NDJSON record to the test-event log.
func appendEventLine(path string, e types.ZoneTestEvent) error {
	return appendLine(path, e)
}

func appendLine(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// rewriteHistoryLog and rewriteEventsLog flush the full in-memory log back
// to disk, used after a delete/cleanup that must drop entries the
// append-only log otherwise never removes.
func (r *FileRepository) rewriteHistoryLog() error {
	r.mu.RLock()
	var all []historyRecord
	for _, recs := range r.history {
		all = append(all, recs...)
	}
	r.mu.RUnlock()
	return rewriteNDJSON(filepath.Join(r.dataDir, stateUpdatesFile), all)
}

func (r *FileRepository) rewriteEventsLog() error {
	r.mu.RLock()
	var all []types.ZoneTestEvent
	for _, evts := range r.events {
		all = append(all, evts...)
	}
	r.mu.RUnlock()
	return rewriteNDJSON(filepath.Join(r.dataDir, testEventsFile), all)
}

func rewriteNDJSON[T any](path string, records []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

func (r *FileRepository) persistAll() error {
	if err := r.persistZones(); err != nil {
		return err
	}
	if err := r.rewriteHistoryLog(); err != nil {
		return err
	}
	return r.rewriteEventsLog()
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return os.WriteFile(path, data, filePerm)
}

type zoneNotFoundError struct {
	zoneID string
}

func (e zoneNotFoundError) Error() string {
	return fmt.Sprintf("zone %s not found", e.zoneID)
}

func errZoneNotFound(zoneID string) error {
	return zoneNotFoundError{zoneID: zoneID}
}
