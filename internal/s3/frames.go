package s3

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"guardian/internal/camera"
	"guardian/internal/models"
)

type objectStore interface {
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

// ParseObjectURL splits s3://bucket/prefix into its bucket and prefix.
func ParseObjectURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not an s3 url: %q", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// FrameOpener opens s3:// camera sources. The objects under the prefix are
// replayed as frames in key order, looping forever.
type FrameOpener struct {
	store objectStore
}

func NewFrameOpener(c *Client) *FrameOpener {
	return &FrameOpener{store: c}
}

func (o *FrameOpener) Open(ctx context.Context, cfg models.CameraConfig) (camera.Device, error) {
	bucket, prefix, err := ParseObjectURL(cfg.Source)
	if err != nil {
		return nil, err
	}
	keys, err := o.store.ListKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no frames under %s", cfg.Source)
	}

	devCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &FrameDevice{
		store:  o.store,
		bucket: bucket,
		keys:   keys,
		ctx:    devCtx,
		cancel: cancel,
	}, nil
}

type FrameDevice struct {
	store  objectStore
	bucket string

	mu   sync.Mutex
	keys []string
	next int

	ctx    context.Context
	cancel context.CancelFunc
}

func (d *FrameDevice) Read() ([]byte, error) {
	d.mu.Lock()
	if d.keys == nil {
		d.mu.Unlock()
		return nil, camera.ErrSourceClosed
	}
	key := d.keys[d.next]
	d.next = (d.next + 1) % len(d.keys)
	d.mu.Unlock()

	data, err := d.store.Get(d.ctx, d.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch frame %s: %w", key, err)
	}
	return data, nil
}

func (d *FrameDevice) Close() error {
	d.cancel()
	d.mu.Lock()
	d.keys = nil
	d.mu.Unlock()
	return nil
}
