package generate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/genloop-ai/genloop/internal/consts"
	"github.com/genloop-ai/genloop/internal/llm"
	"github.com/genloop-ai/genloop/internal/logger"
)

const maxAttachmentBytes = 20 << 20 // 20 MiB

// attachmentFetcher downloads request attachments in parallel before the
// stream opens. A per-request cache keyed by URL hash avoids fetching the
// same blob twice; concurrent fetches of the same URL collapse into one
// in-flight download.
type attachmentFetcher struct {
	client *http.Client
	flight singleflight.Group

	mu    sync.Mutex
	cache map[uint64][]byte
}

func newAttachmentFetcher(client *http.Client) *attachmentFetcher {
	if client == nil {
		client = &http.Client{Timeout: consts.DefaultAttachmentTimeout}
	}
	return &attachmentFetcher{
		client: client,
		cache:  make(map[uint64][]byte),
	}
}

// Prefetch fills Data on every attachment that has a URL but no bytes yet.
func (f *attachmentFetcher) Prefetch(ctx context.Context, attachments []*llm.Attachment) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, att := range attachments {
		att := att
		if att == nil || att.URL == "" || len(att.Data) > 0 {
			continue
		}
		g.Go(func() error {
			data, err := f.fetch(ctx, att.URL)
			if err != nil {
				return fmt.Errorf("attachment %s: %w", att.URL, err)
			}
			att.Data = data
			return nil
		})
	}
	return g.Wait()
}

func (f *attachmentFetcher) fetch(ctx context.Context, url string) ([]byte, error) {
	key := xxhash.Sum64String(url)

	f.mu.Lock()
	if data, ok := f.cache[key]; ok {
		f.mu.Unlock()
		logger.Debug("attachment cache hit for %s", url)
		return data, nil
	}
	f.mu.Unlock()

	v, err, _ := f.flight.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		data, err := f.download(ctx, url)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.cache[key] = data
		f.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *attachmentFetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", maxAttachmentBytes)
	}
	return data, nil
}
