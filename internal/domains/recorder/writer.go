package recorder

import (
	"bufio"
	"os"
	"sync"
	"sync/atomic"
)

// streamWriter owns one NDJSON file. Records arrive on a bounded queue so
// producers never block on disk; overflow is reported once via onOverflow.
// mu orders enqueue against close: a batch racing the seal is dropped, never
// sent on the closed queue.
type streamWriter struct {
	path    string
	file    *os.File
	bw      *bufio.Writer
	queue   chan []byte
	done    chan struct{}
	records atomic.Int64
	samples atomic.Int64

	mu     sync.Mutex
	closed bool

	onOverflow func()
	overflowed atomic.Bool
}

func newStreamWriter(path string, queueLen int, onOverflow func()) (*streamWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &streamWriter{
		path:       path,
		file:       f,
		bw:         bufio.NewWriterSize(f, 64*1024),
		queue:      make(chan []byte, queueLen),
		done:       make(chan struct{}),
		onOverflow: onOverflow,
	}
	go w.run()
	return w, nil
}

// enqueue hands one serialized record (without trailing newline) to the
// writer. Never blocks; a full queue fails the recording. Records arriving
// after close are dropped.
func (w *streamWriter) enqueue(line []byte, sampleCount int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- line:
		w.records.Add(1)
		w.samples.Add(sampleCount)
	default:
		if w.overflowed.CompareAndSwap(false, true) && w.onOverflow != nil {
			w.onOverflow()
		}
	}
}

func (w *streamWriter) run() {
	defer close(w.done)
	for line := range w.queue {
		w.bw.Write(line)
		w.bw.WriteByte('\n')
	}
	w.bw.Flush()
	w.file.Sync()
	w.file.Close()
}

// close drains the queue, flushes and closes the file. Returns final size.
func (w *streamWriter) close() int64 {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	if info, err := os.Stat(w.path); err == nil {
		return info.Size()
	}
	return 0
}
