package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/wippyai/tracehost/errors"
)

// Source is a pull-based byte source.
type Source interface {
	// Name is shown to the guest as the file name.
	Name() string
	// Size is the declared raw size, 0 or negative when unknown.
	Size() int64
	// Next blocks until the next chunk is available. It returns io.EOF
	// (possibly with a final chunk) at the end of the source. Returned
	// slices are owned by the caller.
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// EncodedSource is implemented by sources that declare a content encoding.
type EncodedSource interface {
	Source
	Encoding() string
}

// ReaderSource adapts an io.Reader.
type ReaderSource struct {
	r         io.Reader
	closer    io.Closer
	name      string
	encoding  string
	size      int64
	chunkSize int
}

// NewReaderSource creates a source reading chunkSize bytes per Next.
// If r implements io.Closer it is closed with the source.
func NewReaderSource(name string, size int64, r io.Reader, chunkSize int) *ReaderSource {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	s := &ReaderSource{r: r, name: name, size: size, chunkSize: chunkSize}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// WithEncoding declares a content encoding such as "br".
func (s *ReaderSource) WithEncoding(enc string) *ReaderSource {
	s.encoding = enc
	return s
}

func (s *ReaderSource) Name() string     { return s.name }
func (s *ReaderSource) Size() int64      { return s.size }
func (s *ReaderSource) Encoding() string { return s.encoding }

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	buf := make([]byte, s.chunkSize)
	n, err := s.r.Read(buf)
	if n == 0 && err == nil {
		return nil, nil
	}
	return buf[:n], err
}

func (s *ReaderSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// OpenFile opens a local file.
func OpenFile(name string, chunkSize int) (*ReaderSource, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, errors.IO(err, "open "+name)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.IO(err, "stat "+name)
	}
	src := NewReaderSource(filepath.Base(name), info.Size(), f, chunkSize)
	if strings.HasSuffix(name, ".br") {
		src.WithEncoding("br")
	}
	return src, nil
}

// OpenURL issues a GET request and streams the response body.
// The size comes from Content-Length and is 0 when the server omits it.
// A "br" Content-Encoding inserts a brotli stage; gzip is detected by magic.
func OpenURL(ctx context.Context, client *http.Client, rawURL string, chunkSize int) (*ReaderSource, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseStream, errors.KindInvalidInput, err, "build request")
	}
	// Setting the header ourselves keeps the transport from decoding gzip,
	// so the loader sees raw bytes and counts wire offsets.
	req.Header.Set("Accept-Encoding", "gzip, br")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.IO(err, "fetch "+rawURL)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, errors.IO(fmt.Errorf("unexpected status %s", resp.Status), "fetch "+rawURL)
	}

	src := NewReaderSource(urlName(rawURL), max(resp.ContentLength, 0), resp.Body, chunkSize)
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		src.WithEncoding("br")
	}
	return src, nil
}

func urlName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if base := path.Base(u.Path); base != "/" && base != "." && base != "" {
		return base
	}
	return u.Host
}

// WebSocketSource streams messages of a WebSocket connection. Each message
// is one chunk; a normal closure ends the source.
type WebSocketSource struct {
	conn *websocket.Conn
	name string
}

// maxMessageBytes bounds a single WebSocket message.
const maxMessageBytes = 64 << 20

// DialWebSocket connects to a ws:// or wss:// URL.
func DialWebSocket(ctx context.Context, rawURL string, timeout time.Duration) (*WebSocketSource, error) {
	dialCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(dialCtx, rawURL, nil)
	if err != nil {
		return nil, errors.IO(err, "dial "+rawURL)
	}
	conn.SetReadLimit(maxMessageBytes)
	return &WebSocketSource{conn: conn, name: urlName(rawURL)}, nil
}

func (s *WebSocketSource) Name() string { return s.name }
func (s *WebSocketSource) Size() int64  { return 0 }

func (s *WebSocketSource) Next(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

func (s *WebSocketSource) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Options configures Open.
type Options struct {
	Client    *http.Client
	ChunkSize int
	Prefetch  int
	Timeout   time.Duration
}

// Open picks a source by scheme: http(s) URLs, ws(s) URLs or local paths.
func Open(ctx context.Context, target string, opts Options) (Source, error) {
	var src Source
	var err error
	switch {
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		client := opts.Client
		if client == nil {
			client = &http.Client{Timeout: opts.Timeout}
		}
		src, err = OpenURL(ctx, client, target, opts.ChunkSize)
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		src, err = DialWebSocket(ctx, target, opts.Timeout)
	default:
		src, err = OpenFile(target, opts.ChunkSize)
	}
	if err != nil {
		return nil, err
	}
	if opts.Prefetch > 0 {
		src = Prefetch(src, opts.Prefetch)
	}
	return src, nil
}
