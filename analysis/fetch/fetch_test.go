package fetch

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

func newTestCache(t *testing.T, opts ...CacheOption) *Cache {
	t.Helper()

	c, err := New(t.TempDir(), logger.Test(t), opts...)
	require.NoError(t, err)

	return c
}

func readAll(t *testing.T, path string) string {
	t.Helper()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	return string(raw)
}

func Test_Cache_Fetch_HTTP(t *testing.T) {
	t.Parallel()

	t.Run("downloads once and serves from cache", func(t *testing.T) {
		t.Parallel()

		const body = "gene\tc1\tc2\nGCG\t5\t0\n"

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			fmt.Fprint(w, body)
		}))
		defer srv.Close()

		c := newTestCache(t)

		p1, err := c.Fetch(t.Context(), srv.URL+"/counts.tsv")
		require.NoError(t, err)
		assert.Equal(t, body, readAll(t, p1))

		p2, err := c.Fetch(t.Context(), srv.URL+"/counts.tsv")
		require.NoError(t, err)
		assert.Equal(t, p1, p2)
		assert.Equal(t, int32(1), hits.Load())

		meta, err := c.Info(srv.URL + "/counts.tsv")
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/counts.tsv", meta.URL)
		assert.Equal(t, int64(len(body)), meta.Size)

		sum := sha256.Sum256([]byte(body))
		assert.Equal(t, hex.EncodeToString(sum[:]), meta.SHA256)
		assert.False(t, meta.FetchedAt.IsZero())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		c := newTestCache(t, WithRetry(3, time.Millisecond))

		_, err := c.Fetch(t.Context(), srv.URL+"/missing.tsv")
		require.Error(t, err)
		assert.ErrorContains(t, err, "status 404")
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("server errors are retried until attempts run out", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := newTestCache(t, WithRetry(3, time.Millisecond))

		_, err := c.Fetch(t.Context(), srv.URL+"/flaky.tsv")
		require.Error(t, err)
		assert.ErrorContains(t, err, "status 502")
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("recovers after transient server errors", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hits.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, "eventually fine")
		}))
		defer srv.Close()

		c := newTestCache(t, WithRetry(5, time.Millisecond))

		p, err := c.Fetch(t.Context(), srv.URL+"/flaky.tsv")
		require.NoError(t, err)
		assert.Equal(t, "eventually fine", readAll(t, p))
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("concurrent fetches of one URL share a download", func(t *testing.T) {
		t.Parallel()

		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			time.Sleep(50 * time.Millisecond)
			fmt.Fprint(w, "slow body")
		}))
		defer srv.Close()

		c := newTestCache(t)

		var wg sync.WaitGroup
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()

				p, err := c.Fetch(context.Background(), srv.URL+"/slow.tsv")
				assert.NoError(t, err)
				assert.Equal(t, "slow body", readAll(t, p))
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), hits.Load())
	})
}

func Test_Cache_Fetch_Checksum(t *testing.T) {
	t.Parallel()

	const body = "checked content"
	sum := sha256.Sum256([]byte(body))
	hexSum := hex.EncodeToString(sum[:])

	newSrv := func(t *testing.T) *httptest.Server {
		t.Helper()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		t.Cleanup(srv.Close)

		return srv
	}

	t.Run("matching checksum passes", func(t *testing.T) {
		t.Parallel()

		c := newTestCache(t)
		p, err := c.Fetch(t.Context(), newSrv(t).URL+"/a.tsv", WithChecksum(hexSum))
		require.NoError(t, err)
		assert.Equal(t, body, readAll(t, p))
	})

	t.Run("mismatch fails and nothing is committed", func(t *testing.T) {
		t.Parallel()

		c := newTestCache(t)
		_, err := c.Fetch(t.Context(), newSrv(t).URL+"/a.tsv", WithChecksum(strings.Repeat("0", 64)))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrChecksumMismatch)

		entries, err := c.Entries()
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func Test_Cache_Fetch_File(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "local.tsv")
	require.NoError(t, os.WriteFile(src, []byte("local content"), 0o644))

	c := newTestCache(t)

	p, err := c.Fetch(t.Context(), "file://"+src)
	require.NoError(t, err)
	assert.Equal(t, "local content", readAll(t, p))

	// The cache keeps its own copy: changing the source does not change the
	// cached entry.
	require.NoError(t, os.WriteFile(src, []byte("changed"), 0o644))
	p2, err := c.Fetch(t.Context(), "file://"+src)
	require.NoError(t, err)
	assert.Equal(t, p, p2)
	assert.Equal(t, "local content", readAll(t, p2))
}

type stubS3 struct {
	bucket string
	key    string
	body   string
}

func (s *stubS3) DownloadWithContext(
	_ aws.Context, w io.WriterAt, in *s3.GetObjectInput, _ ...func(*s3manager.Downloader),
) (int64, error) {
	s.bucket = aws.StringValue(in.Bucket)
	s.key = aws.StringValue(in.Key)

	n, err := w.WriteAt([]byte(s.body), 0)

	return int64(n), err
}

func Test_Cache_Fetch_S3(t *testing.T) {
	t.Parallel()

	stub := &stubS3{body: "s3 bytes"}
	c := newTestCache(t, WithS3Downloader(stub))

	p, err := c.Fetch(t.Context(), "s3://mirror-bucket/pancreas/muraro.tsv.gz")
	require.NoError(t, err)
	assert.Equal(t, "s3 bytes", readAll(t, p))
	assert.Equal(t, "mirror-bucket", stub.bucket)
	assert.Equal(t, "pancreas/muraro.tsv.gz", stub.key)
}

type stubFTP struct {
	host string
	path string
	body string
}

func (s *stubFTP) Retrieve(_ context.Context, host, remotePath string) (io.ReadCloser, error) {
	s.host = host
	s.path = remotePath

	return io.NopCloser(strings.NewReader(s.body)), nil
}

func Test_Cache_Fetch_FTP(t *testing.T) {
	t.Parallel()

	stub := &stubFTP{body: "ftp bytes"}
	c := newTestCache(t, WithFTPDialer(stub))

	p, err := c.Fetch(t.Context(), "ftp://ftp.example.org/geo/series/GSE81076/suppl/counts.csv")
	require.NoError(t, err)
	assert.Equal(t, "ftp bytes", readAll(t, p))
	assert.Equal(t, "ftp.example.org:21", stub.host)
	assert.Equal(t, "/geo/series/GSE81076/suppl/counts.csv", stub.path)
}

func Test_Cache_Open(t *testing.T) {
	t.Parallel()

	t.Run("gzip URLs decompress transparently", func(t *testing.T) {
		t.Parallel()

		const body = "gene\tc1\nINS\t9\n"

		var buf strings.Builder
		gz := gzip.NewWriter(&buf)
		_, err := gz.Write([]byte(body))
		require.NoError(t, err)
		require.NoError(t, gz.Close())

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, buf.String())
		}))
		defer srv.Close()

		c := newTestCache(t)

		r, err := c.Open(t.Context(), srv.URL+"/counts.tsv.gz")
		require.NoError(t, err)
		defer r.Close()

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("plain URLs pass through", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "plain")
		}))
		defer srv.Close()

		c := newTestCache(t)

		r, err := c.Open(t.Context(), srv.URL+"/counts.tsv")
		require.NoError(t, err)
		defer r.Close()

		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "plain", string(got))
	})
}

func Test_Cache_FetchAll(t *testing.T) {
	t.Parallel()

	t.Run("returns paths in input order", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, "body of %s", r.URL.Path)
		}))
		defer srv.Close()

		c := newTestCache(t, WithConcurrency(2))

		urls := []string{srv.URL + "/a", srv.URL + "/b", srv.URL + "/c"}
		paths, err := c.FetchAll(t.Context(), urls)
		require.NoError(t, err)
		require.Len(t, paths, 3)

		assert.Equal(t, "body of /a", readAll(t, paths[0]))
		assert.Equal(t, "body of /b", readAll(t, paths[1]))
		assert.Equal(t, "body of /c", readAll(t, paths[2]))
	})

	t.Run("one failure reports its URL", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/bad" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			fmt.Fprint(w, "ok")
		}))
		defer srv.Close()

		c := newTestCache(t)

		_, err := c.FetchAll(t.Context(), []string{srv.URL + "/good", srv.URL + "/bad"})
		require.Error(t, err)
		assert.ErrorContains(t, err, "/bad")
		assert.ErrorContains(t, err, "status 404")
	})
}

func Test_Cache_Fetch_Errors(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)

	t.Run("unsupported scheme", func(t *testing.T) {
		t.Parallel()

		_, err := c.Fetch(t.Context(), "gopher://example.org/data")
		require.Error(t, err)
		assert.ErrorContains(t, err, `unsupported URL scheme "gopher"`)
	})

	t.Run("missing scheme", func(t *testing.T) {
		t.Parallel()

		_, err := c.Fetch(t.Context(), "/just/a/path")
		require.Error(t, err)
		assert.ErrorContains(t, err, "has no scheme")
	})

	t.Run("canceled context aborts the download", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(time.Second)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Fetch(ctx, srv.URL+"/never")
		require.Error(t, err)
	})
}
