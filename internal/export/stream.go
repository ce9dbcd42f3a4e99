package export

import (
	"encoding/csv"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/reactorsim/internal/sim"
)

// Stream appends one row per sample to a live export file. The file is
// created on the first sample.
type Stream struct {
	path   string
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex
	file   io.WriteCloser
	w      *csv.Writer
	rows   int
	err    error
	closed bool
}

func NewStream(path string, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{path: path, now: time.Now, logger: logger}
}

func (s *Stream) open() error {
	f, err := os.Create(s.path)
	if err != nil {
		return err
	}
	if err := writeHeader(f, s.now()); err != nil {
		f.Close()
		return err
	}
	s.file = f
	s.w = csv.NewWriter(f)
	return s.w.Write(Columns)
}

// OnSample writes the row and flushes it. The first I/O error disables the
// stream; the simulation carries on.
func (s *Stream) OnSample(sample sim.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.closed {
		return
	}
	if s.w == nil {
		if err := s.open(); err != nil {
			s.fail(err)
			return
		}
	}
	if err := s.w.Write(row(sample)); err != nil {
		s.fail(err)
		return
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.fail(err)
		return
	}
	s.rows++
}

func (s *Stream) fail(err error) {
	s.err = err
	s.logger.Error("live export disabled", zap.String("path", s.path), zap.Error(err))
}

func (s *Stream) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.file == nil {
		return nil
	}
	s.w.Flush()
	err := s.file.Close()
	s.file, s.w = nil, nil
	return err
}
