package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medvoice/internal/domain"
)

// Config controls the translation backend connection.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	RequestsPerMinute int
	BurstLimit        int
	CacheSize         int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 50
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = 10
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
}

// Client translates finalized transcript segments over HTTP. Identical
// segments hit an LRU cache, and outbound traffic is rate limited with
// adaptive backoff so a struggling backend is not hammered.
type Client struct {
	cfg     Config
	log     zerolog.Logger
	client  *http.Client
	limiter *rateLimiter
	cache   *lruCache
}

func NewClient(cfg Config, log zerolog.Logger) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		log:     log,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: newRateLimiter(cfg.RequestsPerMinute, cfg.BurstLimit),
		cache:   newLRUCache(cfg.CacheSize),
	}
}

const maxAttempts = 3

func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (domain.Translation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Translation{SourceLang: sourceLang, TargetLang: targetLang}, nil
	}

	key := cacheKey(text, sourceLang, targetLang)
	if cached, ok := c.cache.get(key); ok {
		return cached, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if !c.limiter.allow() {
			wait := c.limiter.waitTime()
			c.log.Debug().Dur("wait", wait).Msg("translation rate limited")
			if err := sleepCtx(ctx, wait); err != nil {
				return domain.Translation{}, err
			}
			continue
		}

		result, err := c.request(ctx, text, sourceLang, targetLang)
		if err == nil {
			c.limiter.recordSuccess()
			c.cache.set(key, result)
			return result, nil
		}
		lastErr = err
		c.limiter.recordFailure()

		if ctx.Err() != nil {
			return domain.Translation{}, ctx.Err()
		}
		if attempt < maxAttempts {
			backoff := c.limiter.backoffDelay()
			c.log.Warn().Err(err).Dur("backoff", backoff).Int("attempt", attempt).Msg("translation attempt failed")
			if err := sleepCtx(ctx, backoff); err != nil {
				return domain.Translation{}, err
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("rate limit window never opened")
	}
	return domain.Translation{}, fmt.Errorf("translation failed after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) request(ctx context.Context, text, sourceLang, targetLang string) (domain.Translation, error) {
	payload, err := json.Marshal(map[string]string{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"context":     "medical",
	})
	if err != nil {
		return domain.Translation{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/v1/translate", bytes.NewReader(payload))
	if err != nil {
		return domain.Translation{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.Translation{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Translation{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded struct {
		TranslatedText string  `json:"translated_text"`
		Confidence     float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Translation{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.TrimSpace(decoded.TranslatedText) == "" {
		return domain.Translation{}, fmt.Errorf("backend returned an empty translation")
	}

	return domain.Translation{
		Original:   text,
		Translated: decoded.TranslatedText,
		SourceLang: sourceLang,
		TargetLang: targetLang,
		Confidence: decoded.Confidence,
	}, nil
}

func cacheKey(text, sourceLang, targetLang string) string {
	return text + ":" + sourceLang + ":" + targetLang
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
