// Package fetch downloads remote dataset files into a local cache.
//
// Cache entries are keyed by the SHA-256 of the canonical source URL so
// repeated pipeline runs reuse completed downloads. A download is staged in a
// temporary file and renamed into place only once it has fully succeeded,
// alongside a JSON sidecar recording its origin, size and checksum.
package fetch

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/jlaffaye/ftp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/crossbatch/scrna-integration-framework/pkg/logger"
)

// ErrChecksumMismatch is returned when a downloaded file does not match the
// checksum requested with WithChecksum.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Meta is the sidecar written next to every cache entry.
type Meta struct {
	URL       string    `json:"url"`
	FetchedAt time.Time `json:"fetched_at"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
}

// S3Downloader is the subset of s3manager's downloader used by the cache.
// It matches s3manageriface so tests can substitute a stub.
type S3Downloader interface {
	DownloadWithContext(
		ctx aws.Context, w io.WriterAt, input *s3.GetObjectInput, opts ...func(*s3manager.Downloader),
	) (int64, error)
}

// FTPDialer retrieves a remote path from an FTP host. The production
// implementation performs an anonymous login.
type FTPDialer interface {
	Retrieve(ctx context.Context, host, remotePath string) (io.ReadCloser, error)
}

// retryConfig defines how HTTP downloads are retried. Server side failures
// and transport errors are retried with exponential backoff; client errors
// are not.
type retryConfig struct {
	Attempts uint
	Delay    time.Duration
}

// RetryOpts returns the retry options for a single download.
func (c retryConfig) RetryOpts(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.Attempts),
		retry.Delay(c.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	}
}

var defaultRetryConfig = retryConfig{
	Attempts: 3,
	Delay:    500 * time.Millisecond,
}

// Cache is a content cache of downloaded files rooted at a directory.
type Cache struct {
	root        string
	lggr        logger.Logger
	client      *http.Client
	s3          S3Downloader
	ftp         FTPDialer
	retry       retryConfig
	concurrency int

	sf singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHTTPClient overrides the HTTP client used for http(s) downloads.
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) { c.client = client }
}

// WithRetry sets the attempt count and base delay for HTTP downloads.
func WithRetry(attempts uint, delay time.Duration) CacheOption {
	return func(c *Cache) {
		c.retry.Attempts = attempts
		c.retry.Delay = delay
	}
}

// WithS3Downloader overrides the s3 transfer manager, primarily for tests.
func WithS3Downloader(d S3Downloader) CacheOption {
	return func(c *Cache) { c.s3 = d }
}

// WithFTPDialer overrides the FTP transport, primarily for tests.
func WithFTPDialer(d FTPDialer) CacheOption {
	return func(c *Cache) { c.ftp = d }
}

// WithConcurrency bounds the number of parallel downloads in FetchAll.
func WithConcurrency(n int) CacheOption {
	return func(c *Cache) { c.concurrency = n }
}

// New creates a Cache rooted at the given directory, creating it if needed.
func New(root string, lggr logger.Logger, opts ...CacheOption) (*Cache, error) {
	if root == "" {
		return nil, errors.New("cache root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache root: %w", err)
	}

	c := &Cache{
		root:        root,
		lggr:        lggr,
		client:      &http.Client{Timeout: 10 * time.Minute},
		ftp:         &anonymousFTP{},
		retry:       defaultRetryConfig,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// fetchConfig holds per-call options.
type fetchConfig struct {
	checksum string
}

// FetchOption configures a single Fetch, FetchAll or Open call.
type FetchOption func(*fetchConfig)

// WithChecksum verifies the downloaded file against a hex encoded SHA-256.
// A mismatch fails the fetch with ErrChecksumMismatch.
func WithChecksum(hexSHA256 string) FetchOption {
	return func(cfg *fetchConfig) { cfg.checksum = strings.ToLower(hexSHA256) }
}

// Fetch returns the local path of the file at rawURL, downloading it on a
// cache miss. Concurrent fetches of the same URL share one download.
func (c *Cache) Fetch(ctx context.Context, rawURL string, opts ...FetchOption) (string, error) {
	cfg := fetchConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	u, canon, err := canonicalURL(rawURL)
	if err != nil {
		return "", err
	}

	p, err, _ := c.sf.Do(canon, func() (any, error) {
		return c.fetchOne(ctx, u, canon, cfg)
	})
	if err != nil {
		return "", err
	}

	return p.(string), nil
}

// FetchAll downloads every URL, bounding concurrency, and returns local
// paths in input order. The first failure cancels the remaining downloads.
func (c *Cache) FetchAll(ctx context.Context, urls []string, opts ...FetchOption) ([]string, error) {
	paths := make([]string, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, rawURL := range urls {
		g.Go(func() error {
			p, err := c.Fetch(gctx, rawURL, opts...)
			if err != nil {
				return fmt.Errorf("%s: %w", rawURL, err)
			}
			paths[i] = p

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return paths, nil
}

// Open fetches rawURL and returns a reader over its contents, transparently
// decompressing when the URL path ends in .gz.
func (c *Cache) Open(ctx context.Context, rawURL string, opts ...FetchOption) (io.ReadCloser, error) {
	p, err := c.Fetch(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open cached file: %w", err)
	}

	u, _, err := canonicalURL(rawURL)
	if err != nil {
		f.Close()
		return nil, err
	}
	if strings.HasSuffix(u.Path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}

		return &gzipReadCloser{gz: gz, f: f}, nil
	}

	return f, nil
}

// Info returns the sidecar metadata of a cached URL.
func (c *Cache) Info(rawURL string) (Meta, error) {
	_, canon, err := canonicalURL(rawURL)
	if err != nil {
		return Meta{}, err
	}

	return readMeta(c.metaPath(keyFor(canon)))
}

// Entries returns the sidecar metadata of every cache entry.
func (c *Cache) Entries() ([]Meta, error) {
	matches, err := filepath.Glob(filepath.Join(c.root, "*"+metaSuffix))
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(matches))
	for _, m := range matches {
		meta, err := readMeta(m)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}

	return metas, nil
}

const metaSuffix = ".meta.json"

func (c *Cache) dataPath(key string) string {
	return filepath.Join(c.root, key)
}

func (c *Cache) metaPath(key string) string {
	return filepath.Join(c.root, key+metaSuffix)
}

func (c *Cache) fetchOne(ctx context.Context, u *url.URL, canon string, cfg fetchConfig) (string, error) {
	key := keyFor(canon)
	dataPath := c.dataPath(key)

	if meta, err := readMeta(c.metaPath(key)); err == nil {
		if _, serr := os.Stat(dataPath); serr == nil {
			if cfg.checksum == "" || cfg.checksum == meta.SHA256 {
				c.lggr.Debugw("Cache hit", "url", canon, "path", dataPath)
				return dataPath, nil
			}
			c.lggr.Infow("Cached checksum differs, refetching", "url", canon)
		}
	}

	c.lggr.Infow("Fetching", "url", canon, "scheme", u.Scheme)

	tmp, err := os.CreateTemp(c.root, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("failed to create staging file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err = c.download(ctx, u, tmp); err != nil {
		return "", err
	}

	sum, size, err := hashFile(tmp)
	if err != nil {
		return "", err
	}
	if cfg.checksum != "" && cfg.checksum != sum {
		return "", fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, cfg.checksum)
	}

	meta := Meta{
		URL:       canon,
		FetchedAt: time.Now().UTC(),
		Size:      size,
		SHA256:    sum,
	}
	if err = c.commit(tmp, meta, key); err != nil {
		return "", err
	}

	c.lggr.Infow("Fetched", "url", canon, "path", dataPath, "size", size)

	return dataPath, nil
}

// commit atomically moves the staged download and its sidecar into place.
func (c *Cache) commit(tmp *os.File, meta Meta, key string) error {
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close staging file: %w", err)
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	metaTmp := tmp.Name() + metaSuffix
	if err = os.WriteFile(metaTmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write sidecar: %w", err)
	}
	defer os.Remove(metaTmp)

	if err = os.Rename(tmp.Name(), c.dataPath(key)); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	if err = os.Rename(metaTmp, c.metaPath(key)); err != nil {
		return fmt.Errorf("failed to finalize sidecar: %w", err)
	}

	return nil
}

func (c *Cache) download(ctx context.Context, u *url.URL, f *os.File) error {
	switch u.Scheme {
	case "http", "https":
		return c.downloadHTTP(ctx, u, f)
	case "ftp":
		return c.downloadFTP(ctx, u, f)
	case "s3":
		return c.downloadS3(ctx, u, f)
	case "file":
		return c.downloadLocal(u, f)
	default:
		return fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
}

// downloadHTTP streams the response body into f, retrying transport errors
// and 5xx responses. 4xx responses fail immediately.
func (c *Cache) downloadHTTP(ctx context.Context, u *url.URL, f *os.File) error {
	return retry.Do(func() error {
		if err := rewind(f); err != nil {
			return retry.Unrecoverable(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to execute request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("server returned status %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return retry.Unrecoverable(fmt.Errorf("request failed with status %d", resp.StatusCode))
		}

		if _, err = io.Copy(f, resp.Body); err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}

		return nil
	}, c.retry.RetryOpts(ctx)...)
}

func (c *Cache) downloadFTP(ctx context.Context, u *url.URL, f *os.File) error {
	host := u.Host
	if u.Port() == "" {
		host += ":21"
	}

	r, err := c.ftp.Retrieve(ctx, host, u.Path)
	if err != nil {
		return fmt.Errorf("ftp retrieve failed: %w", err)
	}
	defer r.Close()

	if _, err = io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to read ftp stream: %w", err)
	}

	return nil
}

func (c *Cache) downloadS3(ctx context.Context, u *url.URL, f *os.File) error {
	d, err := c.s3Downloader()
	if err != nil {
		return err
	}

	_, err = d.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(u.Host),
		Key:    aws.String(strings.TrimPrefix(u.Path, "/")),
	})
	if err != nil {
		return fmt.Errorf("s3 download failed: %w", err)
	}

	return nil
}

func (c *Cache) downloadLocal(u *url.URL, f *os.File) error {
	src, err := os.Open(u.Path)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	if _, err = io.Copy(f, src); err != nil {
		return fmt.Errorf("failed to copy local file: %w", err)
	}

	return nil
}

// s3Downloader lazily builds the production transfer manager so that caches
// never touching s3 need no AWS configuration.
func (c *Cache) s3Downloader() (S3Downloader, error) {
	if c.s3 != nil {
		return c.s3, nil
	}

	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	c.s3 = s3manager.NewDownloader(sess)

	return c.s3, nil
}

// anonymousFTP is the production FTP transport.
type anonymousFTP struct{}

func (anonymousFTP) Retrieve(ctx context.Context, host, remotePath string) (io.ReadCloser, error) {
	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", host, err)
	}
	if err = conn.Login("anonymous", "anonymous"); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("anonymous login failed: %w", err)
	}

	resp, err := conn.Retr(remotePath)
	if err != nil {
		conn.Quit()
		return nil, fmt.Errorf("failed to retrieve %s: %w", remotePath, err)
	}

	return &ftpResponse{resp: resp, conn: conn}, nil
}

// ftpResponse ties the data connection's lifetime to the control connection.
type ftpResponse struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpResponse) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpResponse) Close() error {
	rerr := r.resp.Close()
	qerr := r.conn.Quit()
	if rerr != nil {
		return rerr
	}

	return qerr
}

type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (r *gzipReadCloser) Read(p []byte) (int, error) {
	return r.gz.Read(p)
}

func (r *gzipReadCloser) Close() error {
	gzErr := r.gz.Close()
	fErr := r.f.Close()
	if gzErr != nil {
		return gzErr
	}

	return fErr
}

// canonicalURL parses rawURL and returns it with its canonical string form,
// the form cache keys are derived from.
func canonicalURL(rawURL string) (*url.URL, string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return nil, "", fmt.Errorf("URL %q has no scheme", rawURL)
	}
	u.Host = strings.ToLower(u.Host)

	return u, u.String(), nil
}

func keyFor(canon string) string {
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

func readMeta(path string) (Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, err
	}

	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Meta{}, fmt.Errorf("failed to parse sidecar %s: %w", path, err)
	}

	return meta, nil
}

func hashFile(f *os.File) (string, int64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", 0, err
	}

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, fmt.Errorf("failed to hash download: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// rewind discards any partial write so a retried download starts clean.
func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	return nil
}
