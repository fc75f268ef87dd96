// Package classifier asks a language model what the user wants and turns
// the answer into an ActionIntent. Upstream trouble never escapes as an
// error: it becomes an unknown intent carrying an apology.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/abbyhq/abby/pkg/artifacts"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/intent"
	"github.com/abbyhq/abby/pkg/llm"
)

// MaxInputRunes is the longest accepted message.
const MaxInputRunes = 4000

// ErrInvalidInput marks problems with the request itself.
var ErrInvalidInput = errors.New("invalid input")

// Request is one classification call.
type Request struct {
	Input   string          `json:"input"`
	Context json.RawMessage `json:"context,omitempty"`
	Images  []string        `json:"images,omitempty"`
	// ConversationalMode defaults to true. When false, small talk is
	// turned into a clarification instead of a reply.
	ConversationalMode *bool `json:"conversationalMode,omitempty"`
}

func (r Request) conversational() bool {
	return r.ConversationalMode == nil || *r.ConversationalMode
}

// Outcome is the result of Classify.
type Outcome struct {
	Intent    contracts.ActionIntent
	Reply     string
	Reasoning *contracts.ReasoningResult
	ImageRefs []string
	// Failure is set when the model could not be used; Intent is then the
	// apology intent.
	Failure error
}

// Classifier wraps an llm.Client.
type Classifier struct {
	client   llm.Client
	images   artifacts.Store
	schema   *jsonschema.Schema
	timeout  time.Duration
	sampling llm.SamplingOptions
	clock    func() time.Time
	logger   *slog.Logger
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout bounds each model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// WithClock sets the time source used for "today" in the prompt.
func WithClock(clock func() time.Time) Option {
	return func(c *Classifier) { c.clock = clock }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// New creates a Classifier. images may be nil, in which case attachments
// are forwarded to the model but not kept.
func New(client llm.Client, images artifacts.Store, opts ...Option) (*Classifier, error) {
	schema, err := compileReasoningSchema()
	if err != nil {
		return nil, err
	}
	c := &Classifier{
		client:   client,
		images:   images,
		schema:   schema,
		timeout:  30 * time.Second,
		sampling: llm.SamplingOptions{Temperature: 0.1, JSONMode: true},
		clock:    time.Now,
		logger:   slog.Default().With("component", "classifier"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Normalize applies the input rules: NFC, trimmed, non-empty, bounded.
func Normalize(input string) (string, error) {
	s := strings.TrimSpace(norm.NFC.String(input))
	if s == "" {
		return "", fmt.Errorf("%w: input is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(s); n > MaxInputRunes {
		return "", fmt.Errorf("%w: input is %d characters, limit is %d", ErrInvalidInput, n, MaxInputRunes)
	}
	return s, nil
}

// Classify interprets req. The returned error is only ever ErrInvalidInput;
// model and network failures are reported through Outcome.Failure.
func (c *Classifier) Classify(ctx context.Context, req Request) (Outcome, error) {
	input, err := Normalize(req.Input)
	if err != nil {
		return Outcome{Intent: intent.Failed(req.Input)}, err
	}

	images := make([]llm.Image, 0, len(req.Images))
	for i, s := range req.Images {
		data, mime, err := decodeImage(s)
		if err != nil {
			return Outcome{Intent: intent.Failed(input)}, fmt.Errorf("%w: images[%d]: %v", ErrInvalidInput, i, err)
		}
		images = append(images, llm.Image{MIMEType: mime, Data: data})
	}

	out := Outcome{}
	if c.images != nil {
		for _, img := range images {
			ref, err := c.images.Put(ctx, img.Data)
			if err != nil {
				// Keeping the attachment is best effort.
				c.logger.WarnContext(ctx, "image not stored", "error", err)
				continue
			}
			out.ImageRefs = append(out.ImageRefs, ref)
		}
	}

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: buildSystemPrompt(c.clock())}}
	if block := contextBlock(req.Context); block != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: block})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: input, Images: images})

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	sampling := c.sampling
	resp, err := c.client.Chat(callCtx, msgs, &sampling)
	if err != nil {
		return c.fail(ctx, out, input, fmt.Errorf("model call: %w", err)), nil
	}

	reasoning, err := decodeReasoning(c.schema, resp.Content)
	if err != nil {
		return c.fail(ctx, out, input, err), nil
	}

	if reasoning.IsConversation() && !req.conversational() {
		reasoning = contracts.ReasoningResult{
			Kind:      contracts.ReasoningKindReasoning,
			Action:    string(contracts.ActionClarification),
			Reasoning: reasoning.Reply,
		}
	}

	out.Reasoning = &reasoning
	out.Intent = intent.ConvertReasoningToIntent(reasoning, input)
	out.Reply = out.Intent.Reply
	return out, nil
}

func (c *Classifier) fail(ctx context.Context, out Outcome, input string, err error) Outcome {
	c.logger.WarnContext(ctx, "classification failed", "error", err)
	out.Intent = intent.Failed(input)
	out.Failure = err
	return out
}
