package loader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/tracehost/errors"
	"github.com/wippyai/tracehost/handle"
)

func TestReaderSource(t *testing.T) {
	ctx := context.Background()
	src := NewReaderSource("r", 6, strings.NewReader("abcdef"), 4)

	b, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(b))

	b, err = src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(b))

	_, err = src.Next(ctx)
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, src.Close())
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.json")
	data := payload(3000)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	src, err := OpenFile(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "trace.json", src.Name())
	assert.Equal(t, int64(3000), src.Size())
	assert.Equal(t, "", src.Encoding())

	_, g, l := setup()
	require.NoError(t, l.Load(ctx, src))
	assert.Equal(t, data, g.received())
	assert.Len(t, g.chunks, 3)

	_, err = OpenFile(filepath.Join(dir, "missing"), 0)
	assert.Equal(t, errors.KindIO, errors.KindOf(err))
}

func TestOpenFile_BrotliSuffix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json.br")
	require.NoError(t, os.WriteFile(path, []byte{1}, 0o644))
	src, err := OpenFile(path, 0)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "br", src.Encoding())
}

func TestOpenURL(t *testing.T) {
	ctx := context.Background()
	data := payload(4096)
	compressed := gzipBytes(t, data)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/traces/run.json.gz":
			w.Header().Set("Content-Length", strconv.Itoa(len(compressed)))
			_, _ = w.Write(compressed)
		case "/stream":
			w.(http.Flusher).Flush()
			_, _ = w.Write(data)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("gzip with length", func(t *testing.T) {
		src, err := OpenURL(ctx, srv.Client(), srv.URL+"/traces/run.json.gz", 512)
		require.NoError(t, err)
		assert.Equal(t, "run.json.gz", src.Name())
		assert.Equal(t, int64(len(compressed)), src.Size())

		_, g, l := setup()
		require.NoError(t, l.Load(ctx, src))
		assert.Equal(t, data, g.received())
		assert.Equal(t, uint64(len(compressed)), g.total)
		assert.Equal(t, "gzip", l.Progress().Encoding)
	})

	t.Run("unknown length", func(t *testing.T) {
		src, err := OpenURL(ctx, srv.Client(), srv.URL+"/stream", 0)
		require.NoError(t, err)

		_, g, l := setup()
		require.NoError(t, l.Load(ctx, src))
		assert.Equal(t, data, g.received())
		assert.Equal(t, uint64(0), g.total)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := OpenURL(ctx, srv.Client(), srv.URL+"/missing", 0)
		require.Error(t, err)
		assert.Equal(t, errors.KindIO, errors.KindOf(err))
		assert.Contains(t, err.Error(), "404")
	})
}

func TestURLName(t *testing.T) {
	assert.Equal(t, "a.json", urlName("https://example.com/x/a.json?q=1"))
	assert.Equal(t, "example.com", urlName("https://example.com/"))
	assert.Equal(t, "example.com:8080", urlName("ws://example.com:8080"))
}

func TestWebSocketSource(t *testing.T) {
	ctx := context.Background()
	messages := [][]byte{payload(10), payload(20), payload(5)}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		for _, m := range messages {
			if err := conn.Write(r.Context(), websocket.MessageBinary, m); err != nil {
				return
			}
		}
		_ = conn.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/live"
	src, err := Open(ctx, url, Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "live", src.Name())
	assert.Equal(t, int64(0), src.Size())

	_, g, l := setup()
	require.NoError(t, l.Load(ctx, src))

	var want []byte
	for _, m := range messages {
		want = append(want, m...)
	}
	assert.Equal(t, want, g.received())
	assert.Equal(t, 1, g.done)
}

func TestPrefetch(t *testing.T) {
	ctx := context.Background()
	data := payload(50)
	inner := newSliceSource("pre", split(data, 5)...)
	inner.enc = "identity"

	src := Prefetch(inner, 2)
	assert.Equal(t, "pre", src.Name())
	assert.Equal(t, int64(50), src.Size())
	assert.Equal(t, "identity", src.Encoding())

	_, g, l := setup()
	require.NoError(t, l.Load(ctx, src))
	assert.Equal(t, data, g.received())
	assert.True(t, inner.closed)
}

func TestPrefetch_ErrorIsSticky(t *testing.T) {
	ctx := context.Background()
	inner := newSliceSource("bad", []byte("a"))
	inner.errAt = 1
	inner.err = io.ErrClosedPipe

	src := Prefetch(inner, 4)
	defer src.Close()

	b, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), b)

	_, err = src.Next(ctx)
	assert.Equal(t, io.ErrClosedPipe, err)
	_, err = src.Next(ctx)
	assert.Equal(t, io.ErrClosedPipe, err)
}

func TestPrefetch_CloseEarly(t *testing.T) {
	inner := &blockingSource{release: make(chan struct{})}
	src := Prefetch(inner, 1)
	require.NoError(t, src.Close())
	assert.True(t, inner.closed)
	require.NoError(t, src.Close())
}

// blockingSource blocks in Next until closed or cancelled.
type blockingSource struct {
	release chan struct{}
	closed  bool
}

func (b *blockingSource) Name() string { return "block" }
func (b *blockingSource) Size() int64  { return 0 }
func (b *blockingSource) Close() error {
	if !b.closed {
		b.closed = true
		close(b.release)
	}
	return nil
}

func (b *blockingSource) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-b.release:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestOpen_FileWithPrefetch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "t.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	src, err := Open(ctx, path, Options{Prefetch: 2, ChunkSize: 1})
	require.NoError(t, err)
	_, ok := src.(*PrefetchSource)
	assert.True(t, ok)

	table := handle.NewTable()
	g := newFakeGuest(table)
	require.NoError(t, New(g, table).Load(ctx, src))
	assert.Equal(t, "{}", string(g.received()))
}
