// Package counting tracks how many bytes have been committed to an archive
// output, so that header writers know the offset of the next entry.
package counting

import "io"

// Sink is the output a Writer counts bytes for.
//
// A split sink distributes its bytes over numbered volumes and answers
// offset queries itself. A plain sink reports Split() == false and the
// remaining methods are never consulted.
type Sink interface {
	io.Writer

	// Split reports whether the sink is currently writing a split archive.
	Split() bool
	// VolumeIndex returns the number of the volume being written.
	VolumeIndex() int
	// Offset returns the current write position as tracked by the sink.
	Offset() (int64, error)
	// VolumeSize returns the configured size of each volume.
	VolumeSize() int64
	// CheckCapacity reports whether writing n more bytes needs a new
	// volume, starting it if so.
	CheckCapacity(n int) (bool, error)
}

// Plain wraps an ordinary writer as a non-split Sink.
func Plain(w io.Writer) Sink {
	return plainSink{w}
}

type plainSink struct {
	io.Writer
}

func (plainSink) Split() bool                     { return false }
func (plainSink) VolumeIndex() int                { return 0 }
func (plainSink) Offset() (int64, error)          { return 0, nil }
func (plainSink) VolumeSize() int64               { return 0 }
func (plainSink) CheckCapacity(int) (bool, error) { return false, nil }

// Writer counts bytes written to a Sink.
type Writer struct {
	sink         Sink
	bytesWritten int64
}

// NewWriter returns a Writer counting bytes written to s.
func NewWriter(s Sink) *Writer {
	return &Writer{sink: s}
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.sink.Write(p)
	w.bytesWritten += int64(n)
	return n, err
}

// IsSplit reports whether queries are answered by the split sink.
func (w *Writer) IsSplit() bool {
	return w.sink.Split()
}

// VolumeIndex returns the volume being written, 0 for a plain sink.
func (w *Writer) VolumeIndex() int {
	if w.sink.Split() {
		return w.sink.VolumeIndex()
	}
	return 0
}

// OffsetForNextEntry returns where the next local header will start.
func (w *Writer) OffsetForNextEntry() (int64, error) {
	if w.sink.Split() {
		return w.sink.Offset()
	}
	return w.bytesWritten, nil
}

// VolumeSize returns the volume size of a split sink, 0 otherwise.
func (w *Writer) VolumeSize() int64 {
	if w.sink.Split() {
		return w.sink.VolumeSize()
	}
	return 0
}

// BytesWritten returns the bytes committed to the current output.
func (w *Writer) BytesWritten() (int64, error) {
	if w.sink.Split() {
		return w.sink.Offset()
	}
	return w.bytesWritten, nil
}

// CheckCapacity reports whether a write of n bytes starts a new volume.
// A plain sink never does.
func (w *Writer) CheckCapacity(n int) (bool, error) {
	if w.sink.Split() {
		return w.sink.CheckCapacity(n)
	}
	return false, nil
}

// Position returns the current write position.
func (w *Writer) Position() (int64, error) {
	if w.sink.Split() {
		return w.sink.Offset()
	}
	return w.bytesWritten, nil
}
