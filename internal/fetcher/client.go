package fetcher

import (
	"context"
	"fmt"
	"time"
)

// Item is a single entry in an upstream payload.
type Item struct {
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	URL         string  `json:"url"`
	PublishedAt string  `json:"publishedAt"`
	Author      *string `json:"author"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`
	URLToImage  *string `json:"urlToImage"`
	Description *string `json:"description"`
}

// Response is an upstream payload. A nil Items means the payload had no items list at all.
type Response struct {
	Status       string `json:"status"`
	TotalResults int    `json:"totalResults"`
	Items        []Item `json:"items"`
}

// Client retrieves a payload from the upstream source.
//
// A nil Response with a nil error means the upstream had nothing to say.
type Client interface {
	Fetch(ctx context.Context, params map[string]any) (*Response, error)
}

// Canned is a [Client] that always returns the same two items, stamped with the current time.
type Canned struct {
	Now func() time.Time
}

func (c Canned) Fetch(ctx context.Context, params map[string]any) (*Response, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	published := now().UTC().Format(time.RFC3339)

	items := make([]Item, 0, 2)
	for i := 1; i <= 2; i++ {
		var (
			author = "Example Author"
			image  = fmt.Sprintf("https://example.com/image%d.jpg", i)
			desc   = fmt.Sprintf("Example description for item %d.", i)
		)
		item := Item{
			Title:       fmt.Sprintf("Example Item %d", i),
			Content:     fmt.Sprintf("This is example content for item %d.", i),
			URL:         fmt.Sprintf("https://example.com/item%d", i),
			PublishedAt: published,
			Author:      &author,
			URLToImage:  &image,
			Description: &desc,
		}
		item.Source.Name = "Example Source"
		items = append(items, item)
	}

	return &Response{
		Status:       "ok",
		TotalResults: 5,
		Items:        items,
	}, nil
}
