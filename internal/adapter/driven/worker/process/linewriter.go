package process

import (
	"bytes"
	"sync"

	"github.com/rs/zerolog"
)

// lineWriter logs every complete line written to it.
type lineWriter struct {
	mu     sync.Mutex
	logger zerolog.Logger
	level  zerolog.Level
	buf    bytes.Buffer
}

func newLineWriter(logger zerolog.Logger, level zerolog.Level, stream string) *lineWriter {
	return &lineWriter{
		logger: logger.With().Str("stream", stream).Logger(),
		level:  level,
	}
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(w.buf.Next(i+1), "\r\n"))
		if line != "" {
			w.logger.WithLevel(w.level).Msg(line)
		}
	}
	return len(p), nil
}
