// Package jobstore persists query results so later queries can reload them
// with loadjob.
//
// Each job is one msgpack file named <id>.mpk in the store directory. IDs
// are UUIDv7, so lexical order is creation order. Writes go to a temporary
// file that is renamed into place; a reader never sees a partial job.
package jobstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"speakquery/internal/dataset"
	"speakquery/internal/logging"
)

const fileExt = ".mpk"

// ErrNotFound is returned when no job has the requested ID.
var ErrNotFound = errors.New("job not found")

// ErrInvalidID is returned for IDs that are not UUIDs.
var ErrInvalidID = errors.New("invalid job id")

// Info describes a stored job without its rows.
type Info struct {
	ID      uuid.UUID
	Query   string
	Created time.Time
	Rows    int
	Columns []string
}

// record is the on-disk form of a job.
type record struct {
	ID      string           `msgpack:"id"`
	Query   string           `msgpack:"query"`
	Created int64            `msgpack:"created"` // unix nanoseconds
	Rows    int              `msgpack:"rows"`
	Data    *dataset.Dataset `msgpack:"data"`
}

// header decodes everything but the rows.
type header struct {
	ID      string             `msgpack:"id"`
	Query   string             `msgpack:"query"`
	Created int64              `msgpack:"created"`
	Rows    int                `msgpack:"rows"`
	Data    msgpack.RawMessage `msgpack:"data"`
}

// Store is a directory of persisted jobs. Safe for concurrent use; distinct
// jobs never share a file.
type Store struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// Open returns a store rooted at dir, creating it if needed.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logging.Default(logger).With("component", "jobstore"),
		now:    time.Now,
	}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+fileExt)
}

// ParseID validates a job ID as written in a query.
func ParseID(text string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(text))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, text)
	}
	return id, nil
}

// Save stores ds as a new job and returns its ID.
func (s *Store) Save(query string, ds *dataset.Dataset) (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate job id: %w", err)
	}
	rec := record{
		ID:      id.String(),
		Query:   query,
		Created: s.now().UnixNano(),
		Rows:    ds.Len(),
		Data:    ds,
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode job: %w", err)
	}

	path := s.path(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return uuid.Nil, fmt.Errorf("write job: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return uuid.Nil, fmt.Errorf("rename job file: %w", err)
	}
	s.logger.Info("job saved", "id", id, "rows", rec.Rows)
	return id, nil
}

// Load returns the dataset saved under id.
func (s *Store) Load(id uuid.UUID) (*dataset.Dataset, error) {
	data, err := s.read(id)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	if rec.Data == nil {
		return dataset.New(), nil
	}
	return rec.Data, nil
}

// Stat returns a job's metadata without decoding its rows.
func (s *Store) Stat(id uuid.UUID) (Info, error) {
	data, err := s.read(id)
	if err != nil {
		return Info{}, err
	}
	return decodeInfo(id, data)
}

func (s *Store) read(id uuid.UUID) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	return data, nil
}

func decodeInfo(id uuid.UUID, data []byte) (Info, error) {
	var h header
	if err := msgpack.Unmarshal(data, &h); err != nil {
		return Info{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	info := Info{
		ID:      id,
		Query:   h.Query,
		Created: time.Unix(0, h.Created),
		Rows:    h.Rows,
	}
	if len(h.Data) > 0 {
		var ds dataset.Dataset
		if err := msgpack.Unmarshal(h.Data, &ds); err == nil {
			info.Columns = ds.Columns
		}
	}
	return info, nil
}

// List returns every job, oldest first. Unreadable files are logged and
// skipped.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	var out []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		info, err := s.Stat(id)
		if err != nil {
			s.logger.Warn("skipping unreadable job", "file", name, "error", err)
			continue
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b Info) int {
		if c := a.Created.Compare(b.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// Delete removes a job.
func (s *Store) Delete(id uuid.UUID) error {
	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// Prune deletes jobs created before cutoff and returns how many were
// removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	jobs, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if !j.Created.Before(cutoff) {
			continue
		}
		if err := s.Delete(j.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info("jobs pruned", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
