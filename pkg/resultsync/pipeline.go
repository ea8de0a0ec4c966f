// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package resultsync drains pending contribution events from the
// coordination store into the relational results table. Every batch is
// spooled to a local buffer file before the coordination keys are deleted,
// so a crash between merge and delete never loses contributions.
package resultsync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/crowdtiles/crowdtiles/pkg/project"
	"github.com/crowdtiles/crowdtiles/storage"
)

var (
	// Error is the errs class for result sync failures.
	Error = errs.Class("resultsync error")

	mon = monkit.Package()
)

// DB is the relational store surface the pipeline needs.
type DB interface {
	MergeResults(ctx context.Context, results []project.Result) (fresh, duplicates int64, err error)
}

// Stats summarizes one pipeline run.
type Stats struct {
	Fetched    int
	Resumed    int
	Fresh      int64
	Duplicates int64
}

// Pipeline moves contribution events from the coordination store into the
// relational store.
type Pipeline struct {
	log       *zap.Logger
	coord     storage.KeyValueStore
	db        DB
	bufferDir string
}

// NewPipeline creates a result sync pipeline spooling through bufferDir.
func NewPipeline(log *zap.Logger, coord storage.KeyValueStore, db DB, bufferDir string) *Pipeline {
	return &Pipeline{
		log:       log,
		coord:     coord,
		db:        db,
		bufferDir: bufferDir,
	}
}

// record is one buffered contribution event together with its coordination
// key, so a resumed run knows what to delete.
type record struct {
	Key    string         `json:"key"`
	Result project.Result `json:"result"`
}

// Run replays leftover buffers from a previous crash, then drains the
// pending events. Running with nothing pending is a no-op.
func (pipeline *Pipeline) Run(ctx context.Context) (stats Stats, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := pipeline.resume(ctx, &stats); err != nil {
		return stats, err
	}

	keys, err := pipeline.coord.List(project.ResultsPrefix())
	if err != nil {
		return stats, err
	}
	if len(keys) == 0 {
		return stats, nil
	}

	values, err := pipeline.coord.GetAll(keys)
	if err != nil {
		return stats, err
	}

	records := make([]record, 0, len(keys))
	for i, key := range keys {
		rec, ok := pipeline.decode(key, values[i])
		if !ok {
			// an undecodable event can never merge; drop it instead of
			// retrying it forever
			if err := pipeline.coord.Delete(key); err != nil && !storage.ErrKeyNotFound.Has(err) {
				pipeline.log.Warn("undecodable event not removed", zap.Stringer("key", key), zap.Error(err))
			}
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return stats, nil
	}

	path, err := pipeline.writeBuffer(records)
	if err != nil {
		return stats, err
	}
	stats.Fetched = len(records)

	fresh, duplicates, err := pipeline.flush(ctx, path, records)
	if err != nil {
		return stats, err
	}
	stats.Fresh += fresh
	stats.Duplicates += duplicates

	pipeline.log.Info("results synced",
		zap.Int("fetched", stats.Fetched),
		zap.Int64("fresh", stats.Fresh),
		zap.Int64("duplicates", stats.Duplicates))
	return stats, nil
}

// decode parses one coordination event. The path segments are authoritative
// for the identifying fields.
func (pipeline *Pipeline) decode(key storage.Key, value storage.Value) (record, bool) {
	var result project.Result
	if len(value) > 0 {
		if err := json.Unmarshal(value, &result); err != nil {
			pipeline.log.Warn("event undecodable, dropping", zap.Stringer("key", key), zap.Error(err))
			return record{}, false
		}
	}

	rest := strings.TrimPrefix(key.String(), project.ResultsPrefix().String())
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		pipeline.log.Warn("event key malformed, dropping", zap.Stringer("key", key))
		return record{}, false
	}
	result.ProjectID, result.TaskID, result.UserID = parts[0], parts[1], parts[2]
	return record{Key: key.String(), Result: result}, true
}

// writeBuffer spools the batch to a new buffer file and fsyncs it before
// returning.
func (pipeline *Pipeline) writeBuffer(records []record) (_ string, err error) {
	if err := os.MkdirAll(pipeline.bufferDir, 0755); err != nil {
		return "", Error.Wrap(err)
	}

	path := filepath.Join(pipeline.bufferDir,
		fmt.Sprintf("results-%d.jsonl", time.Now().UnixNano()))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = Error.Wrap(errs.Combine(err, file.Close(), os.Remove(path)))
		}
	}()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, rec := range records {
		if err = encoder.Encode(rec); err != nil {
			return "", err
		}
	}
	if err = writer.Flush(); err != nil {
		return "", err
	}
	if err = file.Sync(); err != nil {
		return "", err
	}
	if err = file.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// flush merges the batch into the relational store, deletes the drained
// coordination keys and finally removes the buffer file. A failure leaves
// the buffer in place for the next run.
func (pipeline *Pipeline) flush(ctx context.Context, path string, records []record) (fresh, duplicates int64, err error) {
	results := make([]project.Result, 0, len(records))
	for _, rec := range records {
		results = append(results, rec.Result)
	}

	fresh, duplicates, err = pipeline.db.MergeResults(ctx, results)
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range records {
		if err := pipeline.coord.Delete(storage.Key(rec.Key)); err != nil && !storage.ErrKeyNotFound.Has(err) {
			return fresh, duplicates, err
		}
	}
	return fresh, duplicates, Error.Wrap(os.Remove(path))
}

// resume replays buffer files a previous run left behind. The merge is
// idempotent, so replaying an already merged buffer only bumps duplicate
// counters it already bumped; what matters is that the events reach the
// results table at least once.
func (pipeline *Pipeline) resume(ctx context.Context, stats *Stats) error {
	paths, err := filepath.Glob(filepath.Join(pipeline.bufferDir, "results-*.jsonl"))
	if err != nil {
		return Error.Wrap(err)
	}

	for _, path := range paths {
		records, err := pipeline.readBuffer(path)
		if err != nil {
			pipeline.log.Error("leftover buffer unreadable", zap.String("path", path), zap.Error(err))
			continue
		}
		if len(records) == 0 {
			_ = os.Remove(path)
			continue
		}

		fresh, duplicates, err := pipeline.flush(ctx, path, records)
		if err != nil {
			return err
		}
		stats.Resumed += len(records)
		stats.Fresh += fresh
		stats.Duplicates += duplicates
		pipeline.log.Info("leftover buffer replayed",
			zap.String("path", path), zap.Int("events", len(records)))
	}
	return nil
}

func (pipeline *Pipeline) readBuffer(path string) (_ []record, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, file.Close()) }()

	var records []record
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var rec record
		if err := decoder.Decode(&rec); err != nil {
			return nil, Error.Wrap(err)
		}
		records = append(records, rec)
	}
	return records, nil
}
