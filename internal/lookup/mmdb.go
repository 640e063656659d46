package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oschwald/maxminddb-golang"

	"speakquery/internal/logging"
	"speakquery/internal/querylang"
)

// MMDBInfo describes a MaxMind database file.
type MMDBInfo struct {
	DatabaseType string
	BuildTime    time.Time
	NodeCount    uint
}

// mmdbRecord holds the fields decoded from City, Country and ASN
// databases. ASN fields sit at the root, matching GeoLite2-ASN.
type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Location struct {
		Latitude  *float64 `maxminddb:"latitude"`
		Longitude *float64 `maxminddb:"longitude"`
	} `maxminddb:"location"`
	ASNumber       uint   `maxminddb:"autonomous_system_number"`
	ASOrganization string `maxminddb:"autonomous_system_organization"`
}

var mmdbFields = []string{"country", "city", "latitude", "longitude", "asn", "as_org"}

// MMDB is a lookup table backed by a MaxMind MMDB file. It maps IP
// addresses to country, city, location and autonomous system. The reader
// is swapped atomically on reload, so lookups never block.
type MMDB struct {
	reader atomic.Pointer[maxminddb.Reader]
	logger *slog.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewMMDB creates an empty table. Lookup misses until Load succeeds.
func NewMMDB(logger *slog.Logger) *MMDB {
	return &MMDB{logger: logging.Default(logger).With("component", "mmdb")}
}

func (*MMDB) suffixOutputs() {}

// Fields returns the output suffixes.
func (m *MMDB) Fields() []string { return mmdbFields }

// Lookup resolves an IP address. Returns nil on miss, on a value that is
// not an IP, or when no database is loaded.
func (m *MMDB) Lookup(_ context.Context, key querylang.Value) map[string]querylang.Value {
	r := m.reader.Load()
	if r == nil {
		return nil
	}
	ip := net.ParseIP(key.AsText())
	if ip == nil {
		return nil
	}

	var rec mmdbRecord
	if err := r.Lookup(ip, &rec); err != nil {
		return nil
	}

	out := make(map[string]querylang.Value, len(mmdbFields))
	if rec.Country.ISOCode != "" {
		out["country"] = querylang.StrValue(rec.Country.ISOCode)
	}
	if name := rec.City.Names["en"]; name != "" {
		out["city"] = querylang.StrValue(name)
	}
	if rec.Location.Latitude != nil && rec.Location.Longitude != nil {
		out["latitude"] = querylang.NumValue(*rec.Location.Latitude)
		out["longitude"] = querylang.NumValue(*rec.Location.Longitude)
	}
	if rec.ASNumber != 0 {
		out["asn"] = querylang.StrValue("AS" + strconv.FormatUint(uint64(rec.ASNumber), 10))
	}
	if rec.ASOrganization != "" {
		out["as_org"] = querylang.StrValue(rec.ASOrganization)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Load opens an MMDB file and swaps it in. The previous reader is closed.
func (m *MMDB) Load(path string) (MMDBInfo, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return MMDBInfo{}, fmt.Errorf("open mmdb %q: %w", path, err)
	}
	if old := m.reader.Swap(r); old != nil {
		_ = old.Close()
	}
	return infoOf(r), nil
}

func infoOf(r *maxminddb.Reader) MMDBInfo {
	return MMDBInfo{
		DatabaseType: r.Metadata.DatabaseType,
		BuildTime:    time.Unix(int64(r.Metadata.BuildEpoch), 0), //nolint:gosec // BuildEpoch is a uint, safe for unix timestamps
		NodeCount:    r.Metadata.NodeCount,
	}
}

// ValidateMMDB opens an MMDB file, reads its metadata and closes it.
func ValidateMMDB(path string) (MMDBInfo, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return MMDBInfo{}, err
	}
	defer func() { _ = r.Close() }()
	return infoOf(r), nil
}

// WatchFile reloads the database whenever path is written or recreated.
// Calling WatchFile again replaces the previous watch.
func (m *MMDB) WatchFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopWatchLocked()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %q: %w", path, err)
	}

	m.watcher = w
	m.watchDone = make(chan struct{})
	go m.watchLoop(w, path, m.watchDone)
	return nil
}

func (m *MMDB) watchLoop(w *fsnotify.Watcher, path string, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if info, err := m.Load(path); err != nil {
				m.logger.Warn("mmdb reload failed", "path", path, "error", err)
			} else {
				m.logger.Info("mmdb reloaded", "path", path, "type", info.DatabaseType)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.logger.Warn("mmdb watch error", "path", path, "error", err)
		}
	}
}

func (m *MMDB) stopWatchLocked() {
	if m.watcher != nil {
		_ = m.watcher.Close()
		<-m.watchDone
		m.watcher = nil
		m.watchDone = nil
	}
}

// Close stops the watcher and closes the reader.
func (m *MMDB) Close() {
	m.mu.Lock()
	m.stopWatchLocked()
	m.mu.Unlock()

	if r := m.reader.Swap(nil); r != nil {
		_ = r.Close()
	}
}
