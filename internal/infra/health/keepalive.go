package health

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"nft-sales-monitor/internal/infra/log"
)

// RunKeepAlive requests url every interval so the hosting platform does not
// idle the service. It returns when ctx is cancelled; failures are only logged.
func RunKeepAlive(ctx context.Context, url string, interval time.Duration) error {
	url = strings.TrimSpace(url)
	if url == "" || interval <= 0 {
		return nil
	}
	client := &http.Client{Timeout: 10 * time.Second}

	log.LogInfo("Keep-alive enabled", zap.String("url", url), zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ping(ctx, client, url)
		}
	}
}

func ping(ctx context.Context, client *http.Client, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.LogWarn("Keep-alive request invalid", zap.String("url", url), zap.Error(err))
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			log.LogWarn("Keep-alive ping failed", zap.String("url", url), zap.Error(err))
		}
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	log.LogDebug("Keep-alive ping", zap.String("url", url), zap.Int("status", resp.StatusCode))
}
