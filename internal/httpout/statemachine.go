package httpout

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/roach88/radstore/internal/fault"
)

// State is the framing state of one response.
type State int

const (
	// StateWritingHeader accepts status, header and content-length changes.
	StateWritingHeader State = iota
	// StateWritingBody appends body bytes until the declared length is reached.
	StateWritingBody
	// StateWritingMultipart accepts multipart items until CloseMultipart.
	StateWritingMultipart
	// StateDone is terminal.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateWritingHeader:
		return "writing-header"
	case StateWritingBody:
		return "writing-body"
	case StateWritingMultipart:
		return "writing-multipart"
	case StateDone:
		return "done"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Sink is the byte-stream a response is framed onto.
//
// The isHeader flag distinguishes the header block for logging and
// metrics only. Both methods may fail when the peer is gone.
type Sink interface {
	NotifyStatus(status Status)
	Write(isHeader bool, p []byte) error
}

const setCookiePrefix = "Set-Cookie: "

// StateMachine frames exactly one response onto a Sink.
//
// Legal paths are WritingHeader → WritingBody → Done (content-length
// responses) and WritingHeader → WritingMultipart → Done. A StateMachine
// belongs to one in-flight response and is not safe for concurrent use.
type StateMachine struct {
	sink      Sink
	keepAlive bool
	boundary  func() string

	state            State
	status           Status
	headers          []string
	hasContentLength bool
	contentLength    uint64
	contentPosition  uint64

	multipartBoundary    string
	multipartContentType string
}

// Option configures a StateMachine.
type Option func(*StateMachine)

// WithBoundaryGenerator overrides the multipart boundary source.
// Default: a random UUID per response.
func WithBoundaryGenerator(gen func() string) Option {
	return func(sm *StateMachine) {
		sm.boundary = gen
	}
}

// NewStateMachine creates a state machine writing to sink.
func NewStateMachine(sink Sink, keepAlive bool, opts ...Option) *StateMachine {
	sm := &StateMachine{
		sink:      sink,
		keepAlive: keepAlive,
		boundary:  uuid.NewString,
		state:     StateWritingHeader,
		status:    StatusOK,
	}
	for _, opt := range opts {
		opt(sm)
	}
	return sm
}

// State returns the current framing state.
func (sm *StateMachine) State() State {
	return sm.state
}

// IsKeepAlive reports whether the connection is persistent.
func (sm *StateMachine) IsKeepAlive() bool {
	return sm.keepAlive
}

func (sm *StateMachine) requireHeaderState(op string) error {
	if sm.state != StateWritingHeader {
		return fault.New(fault.CodeSequencing, "%s called in state %s", op, sm.state)
	}
	return nil
}

// SetStatus sets the status code of the response.
func (sm *StateMachine) SetStatus(status Status) error {
	if err := sm.requireHeaderState("SetStatus"); err != nil {
		return err
	}
	sm.status = status
	return nil
}

// SetContentLength declares the total body length.
func (sm *StateMachine) SetContentLength(length uint64) error {
	if err := sm.requireHeaderState("SetContentLength"); err != nil {
		return err
	}
	sm.hasContentLength = true
	sm.contentLength = length
	return nil
}

// AddHeader appends a header line.
func (sm *StateMachine) AddHeader(name, value string) error {
	if err := sm.requireHeaderState("AddHeader"); err != nil {
		return err
	}
	sm.headers = append(sm.headers, name+": "+value+"\r\n")
	return nil
}

// ClearHeaders drops every header added so far.
func (sm *StateMachine) ClearHeaders() error {
	if err := sm.requireHeaderState("ClearHeaders"); err != nil {
		return err
	}
	sm.headers = nil
	return nil
}

// SetContentType adds a Content-Type header.
func (sm *StateMachine) SetContentType(contentType string) error {
	return sm.AddHeader("Content-Type", contentType)
}

// SetContentFilename adds a Content-Disposition header.
func (sm *StateMachine) SetContentFilename(filename string) error {
	return sm.AddHeader("Content-Disposition", `filename="`+strings.ReplaceAll(filename, `"`, `\"`)+`"`)
}

// SetCookie adds a Set-Cookie header. Cookies are the only headers
// allowed in multipart responses.
func (sm *StateMachine) SetCookie(name, value string) error {
	return sm.AddHeader("Set-Cookie", name+"="+value)
}

// SendBody writes a chunk of the body.
//
// The first call emits the status line and the header block. Without a
// declared length the Content-Length header is the size of this first
// chunk and no further non-empty chunk is accepted, since a keep-alive
// peer has no other end-of-body marker. With a declared length, chunks
// accumulate until the declared length is reached. A non-success status
// discards the declared length.
func (sm *StateMachine) SendBody(p []byte) error {
	switch sm.state {
	case StateDone:
		if len(p) == 0 {
			return nil
		}
		slog.Error("the entire body must be sent at once or Content-Length must be given",
			"status", int(sm.status), "bytes", len(p))
		return fault.New(fault.CodeSequencing, "body already complete, %d extra bytes", len(p))

	case StateWritingMultipart:
		return fault.New(fault.CodeSequencing, "SendBody called in state %s", sm.state)

	case StateWritingHeader:
		if sm.status != StatusOK {
			sm.hasContentLength = false
		}
		if sm.hasContentLength && uint64(len(p)) > sm.contentLength {
			return sm.overflow(len(p))
		}
		if err := sm.writeHeader(uint64(len(p))); err != nil {
			return err
		}
		sm.state = StateWritingBody
	}

	if sm.hasContentLength && sm.contentPosition+uint64(len(p)) > sm.contentLength {
		return sm.overflow(len(p))
	}

	if len(p) > 0 {
		if err := sm.write(false, p); err != nil {
			return err
		}
		sm.contentPosition += uint64(len(p))
	}

	if !sm.hasContentLength || sm.contentPosition == sm.contentLength {
		sm.state = StateDone
	}
	return nil
}

func (sm *StateMachine) overflow(n int) error {
	slog.Error("body size exceeds the declared content length",
		"declared", sm.contentLength, "written", sm.contentPosition, "chunk", n)
	return &fault.Error{
		Code:    fault.CodeSequencing,
		Message: "body exceeds declared content length",
		Details: map[string]string{
			"declared": strconv.FormatUint(sm.contentLength, 10),
			"written":  strconv.FormatUint(sm.contentPosition, 10),
			"chunk":    strconv.Itoa(n),
		},
	}
}

func (sm *StateMachine) writeHeader(firstChunk uint64) error {
	sm.sink.NotifyStatus(sm.status)

	var b strings.Builder
	b.WriteString(sm.status.statusLine())
	if sm.keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
	}
	for _, h := range sm.headers {
		b.WriteString(h)
	}

	length := firstChunk
	if sm.hasContentLength {
		length = sm.contentLength
	}
	b.WriteString("Content-Length: " + strconv.FormatUint(length, 10) + "\r\n\r\n")

	return sm.write(true, []byte(b.String()))
}

// StartMultipart emits the header block of a multipart/related response.
//
// subtype must be "mixed" or "related". Multipart answers are not
// defined over keep-alive connections, and only Set-Cookie headers may
// precede them. A non-success status degrades to an empty body.
func (sm *StateMachine) StartMultipart(subtype, itemContentType string) error {
	if subtype != "mixed" && subtype != "related" {
		return fault.New(fault.CodeParameterOutOfRange, "unknown multipart subtype %q", subtype)
	}
	if sm.keepAlive {
		slog.Error("multipart answers are not implemented together with keep-alive connections")
		return fault.New(fault.CodeNotImplemented, "multipart answer over keep-alive connection")
	}
	if err := sm.requireHeaderState("StartMultipart"); err != nil {
		return err
	}

	if sm.status != StatusOK {
		return sm.SendBody(nil)
	}

	for _, h := range sm.headers {
		if !strings.HasPrefix(h, setCookiePrefix) {
			slog.Error("only Set-Cookie headers can be set in multipart answers",
				"header", strings.TrimSuffix(h, "\r\n"))
			return fault.New(fault.CodeSequencing, "header %q not allowed in multipart answer",
				strings.TrimSuffix(h, "\r\n"))
		}
	}

	sm.sink.NotifyStatus(sm.status)

	boundary := sm.boundary()

	var b strings.Builder
	b.WriteString(StatusOK.statusLine())
	for _, h := range sm.headers {
		b.WriteString(h)
	}
	b.WriteString("Content-Type: multipart/related; type=multipart/" + subtype +
		"; boundary=" + boundary + "\r\n\r\n")

	if err := sm.write(true, []byte(b.String())); err != nil {
		return err
	}

	sm.multipartBoundary = boundary
	sm.multipartContentType = itemContentType
	sm.state = StateWritingMultipart
	return nil
}

// SendMultipartItem writes one part of the multipart body.
func (sm *StateMachine) SendMultipartItem(p []byte) error {
	if sm.state != StateWritingMultipart {
		return fault.New(fault.CodeSequencing, "SendMultipartItem called in state %s", sm.state)
	}

	header := "--" + sm.multipartBoundary + "\n" +
		"Content-Type: " + sm.multipartContentType + "\n" +
		"Content-Length: " + strconv.Itoa(len(p)) + "\n" +
		"MIME-Version: 1.0\n\n"

	if err := sm.write(false, []byte(header)); err != nil {
		return err
	}
	if len(p) > 0 {
		if err := sm.write(false, p); err != nil {
			return err
		}
	}
	return sm.write(false, []byte("\n"))
}

// CloseMultipart writes the closing boundary. The response is complete
// whatever happens, so a sink failure here is ignored.
func (sm *StateMachine) CloseMultipart() error {
	if sm.state != StateWritingMultipart {
		return fault.New(fault.CodeSequencing, "CloseMultipart called in state %s", sm.state)
	}

	if err := sm.write(false, []byte("--"+sm.multipartBoundary+"--\n")); err != nil {
		slog.Debug("ignoring failure while closing multipart answer", "error", err)
	}

	sm.state = StateDone
	return nil
}

// Finish reports framing anomalies once the caller is done with the
// response. It never fails: an anomaly is a bug in the code building the
// response, not something the peer can observe.
func (sm *StateMachine) Finish() {
	if sm.state != StateDone {
		slog.Warn("HTTP answer finished without a complete body", "state", sm.state.String())
	}
	if sm.hasContentLength && sm.contentPosition != sm.contentLength {
		slog.Error("HTTP answer has not sent the proper number of bytes in its body",
			"declared", sm.contentLength, "written", sm.contentPosition)
	}
}

func (sm *StateMachine) write(isHeader bool, p []byte) error {
	err := sm.sink.Write(isHeader, p)
	if err == nil {
		return nil
	}
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Wrap(fault.CodeConnection, err, "write to output sink")
}
