package httpout

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/roach88/radstore/internal/fault"
)

// Compression selects how SendBody encodes the body.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionDeflate
	CompressionGzip
)

// Output is the convenience layer routes use to answer a request.
// Every helper goes through the StateMachine, so framing rules hold for
// all of them.
type Output struct {
	sm *StateMachine
}

// NewOutput creates an Output framing onto sink.
func NewOutput(sink Sink, keepAlive bool, opts ...Option) *Output {
	return &Output{sm: NewStateMachine(sink, keepAlive, opts...)}
}

// StateMachine exposes the underlying framing state machine.
func (o *Output) StateMachine() *StateMachine {
	return o.sm
}

func (o *Output) SetContentType(contentType string) error {
	return o.sm.SetContentType(contentType)
}

func (o *Output) SetContentFilename(filename string) error {
	return o.sm.SetContentFilename(filename)
}

func (o *Output) SetCookie(name, value string) error {
	return o.sm.SetCookie(name, value)
}

func (o *Output) AddHeader(name, value string) error {
	return o.sm.AddHeader(name, value)
}

// SendStatus answers with an empty body. The statuses that need extra
// headers have dedicated helpers and are rejected here.
func (o *Output) SendStatus(status Status) error {
	switch status {
	case StatusOK, StatusMovedPermanently, StatusUnauthorized, StatusMethodNotAllowed:
		return fault.New(fault.CodeParameterOutOfRange,
			"status %d must be sent with its dedicated method", int(status))
	}
	return o.emptyAnswer(status)
}

// Redirect answers 301 with a Location header.
func (o *Output) Redirect(path string) error {
	return o.emptyAnswer(StatusMovedPermanently, "Location", path)
}

// SendUnauthorized answers 401 with a Basic authentication challenge.
func (o *Output) SendUnauthorized(realm string) error {
	return o.emptyAnswer(StatusUnauthorized, "WWW-Authenticate", `Basic realm="`+realm+`"`)
}

// SendMethodNotAllowed answers 405 with the allowed methods.
func (o *Output) SendMethodNotAllowed(allowed string) error {
	return o.emptyAnswer(StatusMethodNotAllowed, "Allow", allowed)
}

func (o *Output) emptyAnswer(status Status, header ...string) error {
	if err := o.sm.ClearHeaders(); err != nil {
		return err
	}
	if err := o.sm.SetStatus(status); err != nil {
		return err
	}
	if len(header) == 2 {
		if err := o.sm.AddHeader(header[0], header[1]); err != nil {
			return err
		}
	}
	return o.sm.SendBody(nil)
}

// SendBody sends the whole body at once, optionally compressed.
func (o *Output) SendBody(body []byte, compression Compression) error {
	if len(body) == 0 {
		return o.sm.SendBody(nil)
	}

	switch compression {
	case CompressionNone:
		return o.sm.SendBody(body)

	case CompressionDeflate:
		compressed, err := deflate(body)
		if err != nil {
			return fmt.Errorf("deflate body: %w", err)
		}
		if len(compressed) == 0 {
			return o.sm.SendBody(nil)
		}
		if err := o.sm.AddHeader("Content-Encoding", "deflate"); err != nil {
			return err
		}
		return o.sm.SendBody(compressed)

	default:
		return fault.New(fault.CodeNotImplemented, "body compression %d", int(compression))
	}
}

func (o *Output) StartMultipart(subtype, itemContentType string) error {
	return o.sm.StartMultipart(subtype, itemContentType)
}

func (o *Output) SendMultipartItem(item []byte) error {
	return o.sm.SendMultipartItem(item)
}

func (o *Output) CloseMultipart() error {
	return o.sm.CloseMultipart()
}

// IsWritingMultipart reports whether a multipart answer is in progress.
func (o *Output) IsWritingMultipart() bool {
	return o.sm.State() == StateWritingMultipart
}

// Finish reports framing anomalies, see StateMachine.Finish.
func (o *Output) Finish() {
	o.sm.Finish()
}

// deflate produces an HTTP "deflate" body, which is the zlib format.
func deflate(p []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(p); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriterSink adapts an io.Writer into a Sink.
type WriterSink struct {
	w      io.Writer
	status Status

	HeaderBytes int64
	BodyBytes   int64
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) NotifyStatus(status Status) {
	s.status = status
}

func (s *WriterSink) Write(isHeader bool, p []byte) error {
	n, err := s.w.Write(p)
	if isHeader {
		s.HeaderBytes += int64(n)
	} else {
		s.BodyBytes += int64(n)
	}
	return err
}

// Status returns the status announced by the state machine, or 0.
func (s *WriterSink) Status() Status {
	return s.status
}
