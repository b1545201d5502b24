package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/jdholdren/digest/internal/digest"
)

// ErrRateLimited is returned by a [Generator] whose backend asked it to slow down.
var ErrRateLimited = errors.New("generator rate limited")

// Models are the processing model keys the template generator knows about.
var Models = []string{
	"example-model-v1",
	"example-model-v2",
	"example-model-pro",
	"example-model-lite",
}

// ValidModel reports whether key names a known model, or a Claude model passed through directly.
func ValidModel(key string) bool {
	return slices.Contains(Models, key) || strings.HasPrefix(key, "claude-")
}

type GenerateArgs struct {
	Title    string
	Content  string
	Model    string
	MaxWords int
}

// Generation is a produced summary and what it cost, in credits.
type Generation struct {
	Text string
	Cost float64
}

// Generator turns an article into a summary.
type Generator interface {
	Generate(ctx context.Context, args GenerateArgs) (Generation, error)
}

// Template is a [Generator] that fills in a fixed sentence, charging 0.001 per content word.
type Template struct{}

func (Template) Generate(ctx context.Context, args GenerateArgs) (Generation, error) {
	text := fmt.Sprintf(
		"This is an example summary of '%s' with approximately %d words. The content has been processed using %s.",
		args.Title, args.MaxWords, args.Model,
	)

	return Generation{
		Text: strings.TrimSpace(text),
		Cost: 0.001 * float64(len(strings.Fields(args.Content))),
	}, nil
}

type ClaudeConfig struct {
	APIKey string
	// Model is used for every processing model key that doesn't name a Claude model itself.
	Model anthropic.Model
	// Prices in credits per million tokens.
	InputPrice  float64
	OutputPrice float64
	// Extra request options, like a base URL.
	Options []option.RequestOption
}

// Claude is a [Generator] backed by the Anthropic messages API.
type Claude struct {
	client anthropic.Client
	cfg    ClaudeConfig
}

const claudeSystemPrompt = `You summarize articles for a reading digest.
Reply with the summary text only: no preamble, no headings, no markdown.`

func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing anthropic api key: %w", digest.ErrConfiguration)
	}
	if cfg.Model == "" {
		cfg.Model = anthropic.ModelClaudeHaiku4_5
	}
	if cfg.InputPrice == 0 && cfg.OutputPrice == 0 {
		cfg.InputPrice, cfg.OutputPrice = 1, 5
	}

	// Retries belong to the job dispatcher
	opts := append([]option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}, cfg.Options...)

	return &Claude{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (c *Claude) Generate(ctx context.Context, args GenerateArgs) (Generation, error) {
	model := c.cfg.Model
	if strings.HasPrefix(args.Model, "claude-") {
		model = anthropic.Model(args.Model)
	}

	prompt := fmt.Sprintf("Summarize the following article in at most %d words.\n\nTitle: %s\n\n%s", args.MaxWords, args.Title, args.Content)
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(args.MaxWords*2 + 64),
		System: []anthropic.TextBlockParam{{
			Text: claudeSystemPrompt,
		}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return Generation{}, fmt.Errorf("%w: %s", ErrRateLimited, err)
	}
	if err != nil {
		return Generation{}, &digest.ServiceError{Msg: "claude request failed", Err: err}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Generation{}, &digest.ServiceError{Msg: "claude returned an empty summary"}
	}

	cost := (float64(msg.Usage.InputTokens)*c.cfg.InputPrice + float64(msg.Usage.OutputTokens)*c.cfg.OutputPrice) / 1_000_000
	return Generation{
		Text: strings.TrimSpace(text.String()),
		Cost: cost,
	}, nil
}
