package site

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"plenario/internal/headers"

	"golang.org/x/sync/singleflight"
)

// Source yields the full record list. store.SQLite satisfies it.
type Source interface {
	All(ctx context.Context) ([]headers.Record, error)
}

// JSONFile reads the unified records file, re-reading it only when its
// modification time or size changes. Requests that find the cache stale at
// the same time share a single re-read.
type JSONFile struct {
	Path string

	mu      sync.Mutex
	modTime time.Time
	size    int64
	cached  []headers.Record

	reload singleflight.Group
	// read defaults to headers.ReadRecords.
	read func(path string) ([]headers.Record, error)
}

func (j *JSONFile) All(ctx context.Context) ([]headers.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(j.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoRecords, j.Path)
	}
	if err != nil {
		return nil, err
	}

	if records, ok := j.fresh(info); ok {
		return records, nil
	}
	v, err, _ := j.reload.Do(j.Path, func() (any, error) {
		return j.load(info)
	})
	if err != nil {
		return nil, err
	}
	return v.([]headers.Record), nil
}

func (j *JSONFile) fresh(info fs.FileInfo) ([]headers.Record, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cached != nil && info.ModTime().Equal(j.modTime) && info.Size() == j.size {
		return j.cached, true
	}
	return nil, false
}

func (j *JSONFile) load(info fs.FileInfo) ([]headers.Record, error) {
	read := j.read
	if read == nil {
		read = headers.ReadRecords
	}
	records, err := read(j.Path)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []headers.Record{}
	}

	j.mu.Lock()
	j.cached, j.modTime, j.size = records, info.ModTime(), info.Size()
	j.mu.Unlock()
	return records, nil
}

// ErrNoRecords means the pipeline has not produced the records yet.
var ErrNoRecords = errors.New("records not available")
