// Package store persists runs, reviews and evaluations on the shared run
// tree. Every record has a YAML text form and a protobuf wire sidecar; reads
// go through the sidecar and in-process caches, writes rewrite both forms
// and invalidate both caches.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/tira-io/tirad/internal/model"
	"github.com/tira-io/tirad/internal/shell"
)

// File names inside a run directory.
const (
	FileRunText        = "run.txt"
	FileRunBin         = "run.bin"
	FileReviewText     = "review.txt"
	FileReviewBin      = "review.bin"
	FileStdout         = "stdout.txt"
	FileStderr         = "stderr.txt"
	FileRuntime        = "runtime.txt"
	FileSize           = "size.txt"
	FileFileList       = "file-list.txt"
	DirOutput          = "output"
	FileEvaluationText = "evaluation.txt"
	FileEvaluationBin  = "evaluation.bin"
)

const (
	dirPerm  = 0o775
	filePerm = 0o664

	reviewDateLayout = time.RFC3339
)

// Config sizes the store.
type Config struct {
	RunsRoot           string
	TextCacheBytes     int64
	RecordCacheEntries int

	// OutputTailBytes bounds stdout, stderr and file list reads for
	// readers allowed to see the full output.
	OutputTailBytes int64
}

// RunStore reads and writes the run tree under Config.RunsRoot.
type RunStore struct {
	cfg    Config
	exec   shell.Executor
	logger *slog.Logger
	now    func() time.Time

	text        *TextCache
	runs        *recordCache[model.Run]
	reviews     *recordCache[model.RunReview]
	evaluations *recordCache[model.Evaluation]
}

// New creates a run store. ex is used to refresh shared-filesystem
// metadata before writes.
func New(cfg Config, ex shell.Executor, logger *slog.Logger) *RunStore {
	return &RunStore{
		cfg:         cfg,
		exec:        ex,
		logger:      logger,
		now:         time.Now,
		text:        NewTextCache(cfg.TextCacheBytes),
		runs:        newRecordCache[model.Run](recordRun, cfg.RecordCacheEntries),
		reviews:     newRecordCache[model.RunReview](recordReview, cfg.RecordCacheEntries),
		evaluations: newRecordCache[model.Evaluation](recordEvaluation, cfg.RecordCacheEntries),
	}
}

// Dir returns the directory of the run identified by key. key must pass
// RunKey.Validate; keys returned by FindRun and ListUserRuns always do.
func (s *RunStore) Dir(key model.RunKey) string {
	return filepath.Join(s.cfg.RunsRoot, key.Dataset, key.User, key.RunID)
}

// runDir is Dir for keys from outside the store.
func (s *RunStore) runDir(key model.RunKey) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	return s.Dir(key), nil
}

// CreateRun builds a fresh run record. Nothing is written to disk.
func (s *RunStore) CreateRun(taskID, softwareID, runID, inputRun string, dataset model.Dataset) model.Run {
	if inputRun == "" {
		inputRun = model.NoInputRun
	}
	return model.Run{
		TaskID:       taskID,
		SoftwareID:   softwareID,
		RunID:        runID,
		InputDataset: dataset.ID,
		InputRun:     inputRun,
		Deleted:      false,
		Downloadable: !dataset.Confidential,
		AccessToken:  model.NewAccessToken(),
	}
}

// RunHandle is a resolved run directory.
type RunHandle struct {
	store *RunStore
	key   model.RunKey
	dir   string
}

// Key returns the run's identity.
func (h *RunHandle) Key() model.RunKey { return h.key }

// Dir returns the run directory.
func (h *RunHandle) Dir() string { return h.dir }

// SaveRun refreshes the directory's metadata and writes both forms of r.
func (h *RunHandle) SaveRun(ctx context.Context, r model.Run) error {
	if err := shell.RefreshDir(ctx, h.store.exec, h.dir); err != nil {
		return err
	}
	return writeRecord(h.store, h.store.runs,
		filepath.Join(h.dir, FileRunText), filepath.Join(h.dir, FileRunBin),
		r, marshalRun)
}

// RunHandle resolves the run directory of key. With create set, the
// directory is created and an existing run is model.ErrConflict; otherwise
// a missing run is model.ErrNotFound.
func (s *RunStore) RunHandle(ctx context.Context, key model.RunKey, create bool) (*RunHandle, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return nil, err
	}
	if create {
		if err := os.MkdirAll(filepath.Dir(dir), dirPerm); err != nil {
			return nil, fmt.Errorf("create run dir %s: %w", dir, err)
		}
		if err := os.Mkdir(dir, dirPerm); errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("run %s already exists: %w", dir, model.ErrConflict)
		} else if err != nil {
			return nil, fmt.Errorf("create run dir %s: %w", dir, err)
		}
		s.logger.Debug("run dir ready", "dir", dir)
	} else if err := requireDir(dir); err != nil {
		return nil, err
	}
	return &RunHandle{store: s, key: key, dir: dir}, nil
}

// ReadRun reads the run record of key.
func (s *RunStore) ReadRun(key model.RunKey) (model.Run, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return model.Run{}, err
	}
	return readRecord(s, s.runs,
		filepath.Join(dir, FileRunText), filepath.Join(dir, FileRunBin),
		unmarshalRun, marshalRun)
}

// ReadReview reads the review of key. A run without review yields
// model.ErrNotFound.
func (s *RunStore) ReadReview(key model.RunKey) (model.RunReview, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return model.RunReview{}, err
	}
	return readRecord(s, s.reviews,
		filepath.Join(dir, FileReviewText), filepath.Join(dir, FileReviewBin),
		unmarshalReview, marshalReview)
}

// UpdateReviewCriteria merges c into the run's review, carrying forward
// published and blinded, and rewrites it.
func (s *RunStore) UpdateReviewCriteria(ctx context.Context, key model.RunKey, reviewerID string, c model.ReviewCriteria) (model.RunReview, error) {
	return s.updateReview(ctx, key, reviewerID, func(rr *model.RunReview) {
		c.Apply(rr)
	})
}

// UpdateReviewVisibility sets published and blinded, carrying forward the
// review criteria. Nil arguments keep their previous values.
func (s *RunStore) UpdateReviewVisibility(ctx context.Context, key model.RunKey, reviewerID string, published, blinded *bool) (model.RunReview, error) {
	return s.updateReview(ctx, key, reviewerID, func(rr *model.RunReview) {
		if published != nil {
			rr.Published = model.Bool(*published)
		}
		if blinded != nil {
			rr.Blinded = model.Bool(*blinded)
		}
	})
}

func (s *RunStore) updateReview(ctx context.Context, key model.RunKey, reviewerID string, merge func(*model.RunReview)) (model.RunReview, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return model.RunReview{}, err
	}
	if err := requireDir(dir); err != nil {
		return model.RunReview{}, err
	}

	rr, err := s.ReadReview(key)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return model.RunReview{}, err
	}
	rr.RunID = key.RunID
	rr.ReviewerID = reviewerID
	rr.ReviewDate = s.now().UTC().Format(reviewDateLayout)
	merge(&rr)
	rr.Derive()

	if err := shell.RefreshDir(ctx, s.exec, dir); err != nil {
		return model.RunReview{}, err
	}
	if err := writeRecord(s, s.reviews,
		filepath.Join(dir, FileReviewText), filepath.Join(dir, FileReviewBin),
		rr, marshalReview); err != nil {
		return model.RunReview{}, err
	}
	s.logger.Info("review updated", "dataset", key.Dataset, "user", key.User, "run_id", key.RunID, "reviewer", reviewerID)
	return rr, nil
}

// ReadEvaluation reads the evaluator output of key projected on the
// declared measure keys. An empty key list returns the measures as stored.
func (s *RunStore) ReadEvaluation(key model.RunKey, measureKeys []string) (model.Evaluation, error) {
	dir, err := s.runDir(key)
	if err != nil {
		return model.Evaluation{}, err
	}
	out := filepath.Join(dir, DirOutput)
	e, err := readRecord(s, s.evaluations,
		filepath.Join(out, FileEvaluationText), filepath.Join(out, FileEvaluationBin),
		unmarshalEvaluation, marshalEvaluation)
	if err != nil {
		return model.Evaluation{}, err
	}
	// Cached values are shared; never hand out their backing array.
	e.Measures = append([]model.Measure(nil), e.Measures...)
	return e.Project(measureKeys), nil
}

// DeleteRun removes the run directory and everything cached from it.
func (s *RunStore) DeleteRun(key model.RunKey) error {
	dir, err := s.runDir(key)
	if err != nil {
		return err
	}
	if err := requireDir(dir); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("delete run %s: %w", dir, err)
	}

	out := filepath.Join(dir, DirOutput)
	s.runs.invalidate(filepath.Join(dir, FileRunBin))
	s.reviews.invalidate(filepath.Join(dir, FileReviewBin))
	s.evaluations.invalidate(filepath.Join(out, FileEvaluationBin))
	for _, p := range []string{
		filepath.Join(dir, FileRunText),
		filepath.Join(dir, FileReviewText),
		filepath.Join(dir, FileRuntime),
		filepath.Join(dir, FileSize),
		filepath.Join(out, FileEvaluationText),
	} {
		s.text.Invalidate(p)
	}

	s.logger.Info("run deleted", "dataset", key.Dataset, "user", key.User, "run_id", key.RunID)
	return nil
}

// FindRun locates a user's run by id across all datasets.
func (s *RunStore) FindRun(user, runID string) (model.RunKey, error) {
	if !model.ValidSegment(user) || !model.ValidSegment(runID) {
		return model.RunKey{}, fmt.Errorf("run %q of %q: %w", runID, user, model.ErrInvalid)
	}
	datasets, err := s.datasets()
	if err != nil {
		return model.RunKey{}, err
	}
	for _, ds := range datasets {
		key := model.RunKey{Dataset: ds, User: user, RunID: runID}
		if info, err := os.Stat(s.Dir(key)); err == nil && info.IsDir() {
			return key, nil
		}
	}
	return model.RunKey{}, fmt.Errorf("run %s of %s: %w", runID, user, model.ErrNotFound)
}

// ListUserRuns returns the keys of all runs of user, newest first.
func (s *RunStore) ListUserRuns(user string) ([]model.RunKey, error) {
	if !model.ValidSegment(user) {
		return nil, fmt.Errorf("user %q: %w", user, model.ErrInvalid)
	}
	datasets, err := s.datasets()
	if err != nil {
		return nil, err
	}
	var keys []model.RunKey
	for _, ds := range datasets {
		entries, err := os.ReadDir(filepath.Join(s.cfg.RunsRoot, ds, user))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list runs of %s in %s: %w", user, ds, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				keys = append(keys, model.RunKey{Dataset: ds, User: user, RunID: e.Name()})
			}
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return keys[i].RunID > keys[j].RunID
	})
	return keys, nil
}

// HasOutput reports whether the run left any trace of completion: a
// runtime measurement or a non-empty output directory.
func (s *RunStore) HasOutput(key model.RunKey) bool {
	dir, err := s.runDir(key)
	if err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, FileRuntime)); err == nil {
		return true
	}
	entries, err := os.ReadDir(filepath.Join(dir, DirOutput))
	return err == nil && len(entries) > 0
}

func (s *RunStore) datasets() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.RunsRoot)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// readText returns the contents of path through the text cache.
func (s *RunStore) readText(path string) (string, error) {
	if text, ok := s.text.Get(path); ok {
		cacheLookups.WithLabelValues(recordText, resultHit).Inc()
		return text, nil
	}
	cacheLookups.WithLabelValues(recordText, resultMiss).Inc()

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%s: %w", path, model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text := string(b)
	s.text.Put(path, text)
	return text, nil
}

// readRecord serves a record from its cache, its sidecar, or its text form.
// Parsing the text form materializes the sidecar.
func readRecord[T any](s *RunStore, cache *recordCache[T], textPath, binPath string,
	unmarshal func([]byte) (T, error), marshal func(T) []byte) (T, error) {
	var zero T
	if v, ok := cache.get(binPath); ok {
		return v, nil
	}

	b, err := os.ReadFile(binPath)
	if err == nil {
		v, err := unmarshal(b)
		if err != nil {
			return zero, fmt.Errorf("decode %s: %w", binPath, err)
		}
		cache.put(binPath, v)
		return v, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return zero, fmt.Errorf("read %s: %w", binPath, err)
	}

	text, err := s.readText(textPath)
	if err != nil {
		return zero, err
	}
	var v T
	if err := decodeText([]byte(text), &v); err != nil {
		return zero, fmt.Errorf("decode %s: %w", textPath, err)
	}
	if err := os.WriteFile(binPath, marshal(v), filePerm); err != nil {
		return zero, fmt.Errorf("materialize %s: %w", binPath, err)
	}
	s.logger.Debug("sidecar materialized", "path", binPath)
	cache.put(binPath, v)
	return v, nil
}

// writeRecord rewrites both forms of a record, then invalidates both
// cache entries.
func writeRecord[T any](s *RunStore, cache *recordCache[T], textPath, binPath string, v T, marshal func(T) []byte) error {
	text, err := encodeText(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(textPath, text, filePerm); err != nil {
		return fmt.Errorf("write %s: %w", textPath, err)
	}
	if err := os.WriteFile(binPath, marshal(v), filePerm); err != nil {
		return fmt.Errorf("write %s: %w", binPath, err)
	}
	s.text.Invalidate(textPath)
	cache.invalidate(binPath)
	return nil
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("run %s: %w", dir, model.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("run %s is not a directory: %w", dir, model.ErrNotFound)
	}
	return nil
}
