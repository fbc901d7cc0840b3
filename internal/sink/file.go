package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ahobbs/domainwatch/internal/aggregate"
	"github.com/ahobbs/domainwatch/internal/probe"
)

// FileSink persists the result table as one JSON document on disk. A
// missing file yields an empty table; a malformed one yields an empty
// table and a warning, never a fatal error.
type FileSink struct {
	Path   string
	Kind   probe.Kind
	Logger *zap.Logger
}

func NewFileSink(path string, kind probe.Kind, logger *zap.Logger) *FileSink {
	return &FileSink{Path: path, Kind: kind, Logger: logger}
}

func (s *FileSink) Load(ctx context.Context) (aggregate.Table, error) {
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return aggregate.Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read result file %s: %w", s.Path, err)
	}

	table, err := UnmarshalTable(s.Kind, data)
	if err != nil {
		s.Logger.Warn("result_file_malformed",
			zap.String("path", s.Path),
			zap.Error(err),
		)
		return aggregate.Table{}, nil
	}
	return table, nil
}

// Store writes the whole table; the changed set is irrelevant for a
// local document. The write goes through a temp file and rename so a
// crash mid-write never corrupts the previous document.
func (s *FileSink) Store(ctx context.Context, table aggregate.Table, changed []aggregate.Key) (Report, error) {
	data, err := MarshalTable(s.Kind, table)
	if err != nil {
		return Report{Failed: len(table)}, fmt.Errorf("marshal result table: %w", err)
	}

	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.Path)+".tmp*")
	if err != nil {
		return Report{Failed: len(table)}, fmt.Errorf("write result file %s: %w", s.Path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Report{Failed: len(table)}, fmt.Errorf("write result file %s: %w", s.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return Report{Failed: len(table)}, fmt.Errorf("write result file %s: %w", s.Path, err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return Report{Failed: len(table)}, fmt.Errorf("write result file %s: %w", s.Path, err)
	}

	return Report{Written: len(table)}, nil
}
