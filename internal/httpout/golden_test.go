package httpout

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// Regenerate with: go test ./internal/httpout -update
func newGoldie(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestGolden_ContentLengthKeepAlive(t *testing.T) {
	sink := newRecordingSink()
	sm := NewStateMachine(sink, true)

	require.NoError(t, sm.SetContentType("text/plain"))
	require.NoError(t, sm.SetContentLength(11))
	require.NoError(t, sm.SendBody([]byte("hello ")))
	require.NoError(t, sm.SendBody([]byte("world")))

	newGoldie(t).Assert(t, "content_length_keepalive", sink.buf.Bytes())
}

func TestGolden_MultipartRelated(t *testing.T) {
	sink := newRecordingSink()
	out := NewOutput(sink, false, fixedBoundary("BOUNDARY"))

	require.NoError(t, out.SetCookie("session", "abc"))
	require.NoError(t, out.StartMultipart("related", "application/dicom"))
	require.True(t, out.IsWritingMultipart())
	require.NoError(t, out.SendMultipartItem([]byte("abc")))
	require.NoError(t, out.SendMultipartItem(nil))
	require.NoError(t, out.CloseMultipart())
	out.Finish()

	newGoldie(t).Assert(t, "multipart_related", sink.buf.Bytes())
}

func TestGolden_ErrorStatusIgnoresLength(t *testing.T) {
	sink := newRecordingSink()
	sm := NewStateMachine(sink, false)

	require.NoError(t, sm.SetContentLength(100))
	require.NoError(t, sm.SetStatus(StatusNotFound))
	require.NoError(t, sm.SendBody(nil))

	newGoldie(t).Assert(t, "error_status_ignores_length", sink.buf.Bytes())
}

func TestGolden_Redirect(t *testing.T) {
	sink := newRecordingSink()
	out := NewOutput(sink, false)

	require.NoError(t, out.AddHeader("X-Dropped", "1"))
	require.NoError(t, out.Redirect("/app/explorer.html"))

	newGoldie(t).Assert(t, "redirect", sink.buf.Bytes())
}

func TestGolden_UnauthorizedKeepAlive(t *testing.T) {
	sink := newRecordingSink()
	out := NewOutput(sink, true)

	require.NoError(t, out.SendUnauthorized("radstore"))

	newGoldie(t).Assert(t, "unauthorized_keepalive", sink.buf.Bytes())
}
