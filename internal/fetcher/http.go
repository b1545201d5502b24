package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/jdholdren/digest/internal/digest"
)

// HTTPClient is a [Client] for a JSON endpoint authenticated with an API key.
type HTTPClient struct {
	baseURL string
	apiKey  string
	hydrate bool
	client  *http.Client
}

type HTTPConfig struct {
	BaseURL string
	APIKey  string
	// Hydrate fills in empty item content by fetching the item's page and extracting its text.
	Hydrate bool
	Timeout time.Duration
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing api key for the fetch source: %w", digest.ErrConfiguration)
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid fetch source url %q: %w", cfg.BaseURL, digest.ErrConfiguration)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hydrate: cfg.Hydrate,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *HTTPClient) Fetch(ctx context.Context, params map[string]any) (*Response, error) {
	u, _ := url.Parse(c.baseURL)
	q := u.Query()
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	q.Set("apiKey", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %s", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &digest.ServiceError{Msg: "Failed to fetch from external API", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &digest.ServiceError{Msg: fmt.Sprintf("external API responded with status %d", resp.StatusCode)}
	}

	var payload *Response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &digest.ServiceError{Msg: "Failed to decode external API response", Err: err}
	}

	if c.hydrate && payload != nil {
		for i := range payload.Items {
			if payload.Items[i].Content != "" {
				continue
			}
			text, err := c.readerText(ctx, payload.Items[i].URL)
			if err != nil {
				slog.WarnContext(ctx, "could not hydrate item content", "url", payload.Items[i].URL, "err", err)
				continue
			}
			payload.Items[i].Content = text
		}
	}

	return payload, nil
}

// readerText downloads the page and returns its main text.
func (c *HTTPClient) readerText(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("error parsing item url: %s", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %s", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching item page: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	parser := readability.NewParser()
	article, err := parser.Parse(resp.Body, u)
	if err != nil {
		return "", fmt.Errorf("error extracting item text: %s", err)
	}

	return article.TextContent, nil
}
