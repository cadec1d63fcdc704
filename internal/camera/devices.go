package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"guardian/internal/models"
)

// SchemeOpener picks a device implementation from the scheme of the camera
// source URL. A bare path is treated as dir://.
type SchemeOpener struct {
	openers map[string]Opener
}

func NewSchemeOpener() *SchemeOpener {
	o := &SchemeOpener{openers: make(map[string]Opener)}
	o.Register("dir", OpenerFunc(openDir))
	httpOpener := NewHTTPOpener(nil)
	o.Register("http", httpOpener)
	o.Register("https", httpOpener)
	return o
}

func (o *SchemeOpener) Register(scheme string, opener Opener) {
	o.openers[strings.ToLower(scheme)] = opener
}

func (o *SchemeOpener) Open(ctx context.Context, cfg models.CameraConfig) (Device, error) {
	scheme := "dir"
	if i := strings.Index(cfg.Source, "://"); i > 0 {
		scheme = strings.ToLower(cfg.Source[:i])
	}
	opener, ok := o.openers[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported camera source scheme %q", scheme)
	}
	return opener.Open(ctx, cfg)
}

// DirDevice replays the image files of a directory in name order, looping
// forever.
type DirDevice struct {
	mu    sync.Mutex
	files []string
	next  int
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true}

func openDir(_ context.Context, cfg models.CameraConfig) (Device, error) {
	return NewDirDevice(strings.TrimPrefix(cfg.Source, "dir://"))
}

func NewDirDevice(dir string) (*DirDevice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)
	return &DirDevice{files: files}, nil
}

func (d *DirDevice) Read() ([]byte, error) {
	d.mu.Lock()
	if d.files == nil {
		d.mu.Unlock()
		return nil, ErrSourceClosed
	}
	path := d.files[d.next]
	d.next = (d.next + 1) % len(d.files)
	d.mu.Unlock()

	return os.ReadFile(path)
}

func (d *DirDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files = nil
	return nil
}

// HTTPOpener opens snapshot cameras: every Read fetches the source URL.
type HTTPOpener struct {
	client *http.Client
}

func NewHTTPOpener(client *http.Client) *HTTPOpener {
	if client == nil {
		client = &http.Client{
			Timeout: 10 * time.Second,
		}
	}
	return &HTTPOpener{client: client}
}

func (o *HTTPOpener) Open(ctx context.Context, cfg models.CameraConfig) (Device, error) {
	if _, err := url.Parse(cfg.Source); err != nil {
		return nil, fmt.Errorf("invalid snapshot url: %w", err)
	}
	devCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &HTTPDevice{url: cfg.Source, client: o.client, ctx: devCtx, cancel: cancel}, nil
}

type HTTPDevice struct {
	url    string
	client *http.Client
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *HTTPDevice) Read() ([]byte, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot returned status: %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Close aborts any in-flight request.
func (d *HTTPDevice) Close() error {
	d.cancel()
	return nil
}
