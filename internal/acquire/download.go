package acquire

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aktagon/image-harvester/internal/chain"
	"github.com/aktagon/image-harvester/internal/store"
)

// FetchFunc issues the GET for one image.
type FetchFunc func(ctx context.Context, url string) (*http.Response, error)

// Artifact is a downloaded image under its positional name.
type Artifact struct {
	Name      string
	Path      string
	Size      int64
	Hash      string
	MIME      string
	Candidate Candidate
}

// DownloadFailure records a candidate that could not be fetched.
type DownloadFailure struct {
	Candidate Candidate
	URL       string
	Err       error
}

// DownloadConfig tunes the worker pool.
type DownloadConfig struct {
	Concurrency     int
	Delay           time.Duration // minimum spacing between request starts
	Retries         int           // extra tries per image on transient failure
	RetryDelay      time.Duration
	MaxBytes        int64
	NameFormat      string // positional name pattern taking the 1-based index, e.g. "image_%03d"
	CollisionFormat string
	DedupeContent   bool
}

// Downloader fetches candidates into the artifact directory.
type Downloader struct {
	dir     *store.Dir
	cfg     DownloadConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDownloader creates a downloader. The rate limiter is shared by every
// Download call so the inter-request delay holds across strategies.
func NewDownloader(dir *store.Dir, cfg DownloadConfig, logger *slog.Logger) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.NameFormat == "" {
		cfg.NameFormat = "image_%03d"
	}
	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}
	return &Downloader{
		dir:     dir,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Download fetches every candidate with bounded parallelism. Per-image
// failures are returned in the failure list; the error is non-nil only for
// cancellation or a fatal storage failure, which stops the remaining work.
func (d *Downloader) Download(ctx context.Context, cands []Candidate, fetch FetchFunc) ([]Artifact, []DownloadFailure, error) {
	var (
		mu        sync.Mutex
		artifacts []Artifact
		failures  []DownloadFailure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, c := range cands {
		g.Go(func() error {
			a, err := d.downloadOne(gctx, c, fetch)
			if err != nil {
				if chain.IsFatal(err) {
					return err
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				d.logger.Warn("✗ Failed to download", "url", c.URL(), "error", err)
				mu.Lock()
				failures = append(failures, DownloadFailure{Candidate: c, URL: c.URL(), Err: err})
				mu.Unlock()
				return nil
			}
			d.logger.Info("✓ Downloaded", "name", a.Name, "size", humanize.Bytes(uint64(a.Size)))
			mu.Lock()
			artifacts = append(artifacts, *a)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return artifacts, failures, err
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Candidate.Index < artifacts[j].Candidate.Index })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Candidate.Index < failures[j].Candidate.Index })

	if d.cfg.DedupeContent {
		artifacts = d.dedupe(artifacts)
	}
	return artifacts, failures, nil
}

func (d *Downloader) downloadOne(ctx context.Context, c Candidate, fetch FetchFunc) (*Artifact, error) {
	backoff := retry.WithMaxRetries(uint64(max(d.cfg.Retries, 0)), chain.Exponential(d.cfg.RetryDelay)())
	return retry.DoValue(ctx, backoff, func(ctx context.Context) (*Artifact, error) {
		a, err := d.fetchOnce(ctx, c, fetch)
		if err != nil && chain.KindOf(err) == chain.KindTransient {
			return nil, retry.RetryableError(err)
		}
		return a, err
	})
}

func (d *Downloader) fetchOnce(ctx context.Context, c Candidate, fetch FetchFunc) (*Artifact, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.URL()
	resp, err := fetch(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, u)
	}
	ctype := mediaType(resp.Header.Get("Content-Type"))
	if ctype != "" && !strings.HasPrefix(ctype, "image/") && ctype != "application/octet-stream" && ctype != "binary/octet-stream" {
		return nil, chain.Permanent(fmt.Errorf("%s is %s, not an image", u, ctype))
	}

	body := bufio.NewReaderSize(resp.Body, 512)
	head, _ := body.Peek(512)
	if len(head) == 0 {
		return nil, chain.Permanent(fmt.Errorf("%s: empty body", u))
	}

	var r io.Reader = body
	if d.cfg.MaxBytes > 0 {
		r = &limitReader{r: body, left: d.cfg.MaxBytes}
	}

	ext := extensionFor(ctype, u, head)
	name := fmt.Sprintf(d.cfg.NameFormat, c.Index+1) + ext

	f, err := d.dir.WriteUnique(ctx, name, d.cfg.CollisionFormat, r)
	if err != nil {
		if store.IsFatal(err) {
			return nil, chain.Fatal(err)
		}
		if errors.Is(err, errTooLarge) {
			return nil, chain.Permanent(fmt.Errorf("%s: %w", u, err))
		}
		return nil, fmt.Errorf("downloading %s: %w", u, err)
	}

	return &Artifact{
		Name:      f.Name,
		Path:      f.Path,
		Size:      f.Size,
		Hash:      f.Hash,
		MIME:      mimeFor(ext),
		Candidate: c,
	}, nil
}

// dedupe removes artifacts whose bytes match an earlier one.
func (d *Downloader) dedupe(artifacts []Artifact) []Artifact {
	seen := make(map[string]string)
	out := artifacts[:0]
	for _, a := range artifacts {
		if first, ok := seen[a.Hash]; ok {
			if err := d.dir.Remove(a.Name); err != nil {
				d.logger.Warn("removing duplicate", "name", a.Name, "error", err)
			}
			d.logger.Info("→ Removed duplicate", "name", a.Name, "same_as", first)
			continue
		}
		seen[a.Hash] = a.Name
		out = append(out, a)
	}
	return out
}

var errTooLarge = errors.New("image exceeds size limit")

type limitReader struct {
	r    io.Reader
	left int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.left -= int64(n)
	if l.left < 0 {
		return n, errTooLarge
	}
	return n, err
}

var extByMIME = map[string]string{
	"image/jpeg":               ".jpg",
	"image/jpg":                ".jpg",
	"image/png":                ".png",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
	"image/svg+xml":            ".svg",
	"image/avif":               ".avif",
	"image/bmp":                ".bmp",
	"image/tiff":               ".tiff",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
}

var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".avif": "image/avif",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".ico":  "image/x-icon",
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

// extensionFor picks a file extension from the Content-Type, then the URL
// path, then the leading bytes. Unknown images get ".jpg".
func extensionFor(ctype, rawURL string, head []byte) string {
	if ext, ok := extByMIME[ctype]; ok {
		return ext
	}
	if u, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		if ext == ".jpeg" {
			ext = ".jpg"
		}
		if _, ok := mimeByExt[ext]; ok {
			return ext
		}
	}
	if looksLikeSVG(head) {
		return ".svg"
	}
	if ext, ok := extByMIME[http.DetectContentType(head)]; ok {
		return ext
	}
	return ".jpg"
}

func mimeFor(ext string) string {
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

func looksLikeSVG(head []byte) bool {
	trimmed := bytes.TrimSpace(head)
	if bytes.HasPrefix(trimmed, []byte("<svg")) {
		return true
	}
	return bytes.HasPrefix(trimmed, []byte("<?xml")) && bytes.Contains(head, []byte("<svg"))
}
