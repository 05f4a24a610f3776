package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/aatumaykin/nexbackup/internal/logger"
	"github.com/aatumaykin/nexbackup/internal/tasks"
)

const (
	// TasksFilename holds one task definition per line.
	TasksFilename = "tasks.jsonl"
	// StatusFilename holds one status record per line.
	StatusFilename = "status.jsonl"
)

// JSONLStore keeps task definitions and the status log in two JSON Lines
// files under one directory.
type JSONLStore struct {
	dir    string
	logger *logger.Logger
	mu     sync.Mutex
}

var _ tasks.Store = (*JSONLStore)(nil)

// NewJSONLStore creates the directory if needed.
func NewJSONLStore(dir string, log *logger.Logger) (*JSONLStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonl store directory is required")
	}
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &JSONLStore{dir: dir, logger: log.Component("storage.jsonl")}, nil
}

func (s *JSONLStore) Create(_ context.Context, d tasks.Definition) error {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := loadLines[tasks.Definition](s, TasksFilename)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID == d.ID {
			return fmt.Errorf("%w: %s", tasks.ErrDuplicate, d.ID)
		}
	}
	return s.appendLine(TasksFilename, d)
}

func (s *JSONLStore) ListByOwner(_ context.Context, userID string) ([]tasks.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := loadLines[tasks.Definition](s, TasksFilename)
	if err != nil {
		return nil, err
	}
	var out []tasks.Definition
	for _, d := range all {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *JSONLStore) AppendStatus(_ context.Context, r tasks.StatusRecord) error {
	r.Prepare(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLine(StatusFilename, r)
}

func (s *JSONLStore) ListStatus(_ context.Context, f tasks.StatusFilter) ([]tasks.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := loadLines[tasks.StatusRecord](s, StatusFilename)
	if err != nil {
		return nil, err
	}
	var out []tasks.StatusRecord
	for _, r := range all {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return tasks.Tail(out, f.Limit), nil
}

func (s *JSONLStore) Close() error {
	return nil
}

// loadLines reads every record of a JSONL file. A missing file is empty;
// lines that fail to decode are logged and skipped.
func loadLines[T any](s *JSONLStore, name string) ([]T, error) {
	path := filepath.Join(s.dir, name)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		s.logger.Error("failed to open storage file", err, logger.Field{Key: "file", Value: path})
		return nil, err
	}
	defer file.Close()

	var out []T
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			s.logger.Error("failed to unmarshal line", err,
				logger.Field{Key: "file", Value: path},
				logger.Field{Key: "line", Value: lineNum})
			continue
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Error("error scanning storage file", err, logger.Field{Key: "file", Value: path})
		return nil, err
	}
	return out, nil
}

func (s *JSONLStore) appendLine(name string, v any) error {
	path := filepath.Join(s.dir, name)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Error("failed to open storage file for append", err, logger.Field{Key: "file", Value: path})
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		s.logger.Error("failed to write record", err, logger.Field{Key: "file", Value: path})
		return err
	}
	return file.Sync()
}
