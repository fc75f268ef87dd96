package classifier

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abbyhq/abby/pkg/artifacts"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/intent"
	"github.com/abbyhq/abby/pkg/llm"
)

// scriptedClient replies with a fixed answer and records what it was sent.
type scriptedClient struct {
	reply string
	err   error
	block bool
	got   []llm.Message
	opts  *llm.SamplingOptions
}

func (s *scriptedClient) Chat(ctx context.Context, msgs []llm.Message, opts *llm.SamplingOptions) (*llm.Response, error) {
	s.got = msgs
	s.opts = opts
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.reply}, nil
}

func newTestClassifier(t *testing.T, client llm.Client, images artifacts.Store, opts ...Option) *Classifier {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time {
		return time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	})}, opts...)
	c, err := New(client, images, opts...)
	require.NoError(t, err)
	return c
}

func TestClassify_Reminder(t *testing.T) {
	client := &scriptedClient{reply: `{"kind":"reasoning","action":"create_reminder","data":{"title":"call the dentist","date":"2026-03-10"},"confidence":0.9,"missing_fields":[]}`}
	c := newTestClassifier(t, client, nil)

	out, err := c.Classify(context.Background(), Request{Input: "remind me to call the dentist tomorrow"})
	require.NoError(t, err)
	require.NoError(t, out.Failure)

	assert.Equal(t, contracts.IntentReminder, out.Intent.Type)
	assert.Equal(t, contracts.ActionCreateReminder, out.Intent.Action)
	assert.InDelta(t, 0.9, out.Intent.Confidence, 1e-9)
	assert.Equal(t, "call the dentist", out.Intent.Payload["title"])
	assert.Equal(t, "remind me to call the dentist tomorrow", out.Intent.Raw)

	require.Len(t, client.got, 2)
	assert.Equal(t, llm.RoleSystem, client.got[0].Role)
	assert.Contains(t, client.got[0].Content, "Monday 2026-03-09")
	assert.Contains(t, client.got[0].Content, "create_reminder")
	assert.True(t, client.opts.JSONMode)
}

func TestClassify_FencedReplyWithoutKind(t *testing.T) {
	client := &scriptedClient{reply: "Sure!\n```json\n{\"action\":\"create_task\",\"data\":{\"title\":\"mow lawn\"}}\n```"}
	c := newTestClassifier(t, client, nil)

	out, err := c.Classify(context.Background(), Request{Input: "mow the lawn"})
	require.NoError(t, err)
	require.NoError(t, out.Failure)
	assert.Equal(t, contracts.IntentTask, out.Intent.Type)
	assert.InDelta(t, intent.DefaultConfidence, out.Intent.Confidence, 1e-9)
	require.NotNil(t, out.Reasoning)
	assert.Equal(t, contracts.ReasoningKindReasoning, out.Reasoning.Kind)
}

func TestClassify_MissingFields(t *testing.T) {
	client := &scriptedClient{reply: `{"kind":"reasoning","action":"create_appointment","data":{},"missing_fields":["What time is the appointment?"]}`}
	c := newTestClassifier(t, client, nil)

	out, err := c.Classify(context.Background(), Request{Input: "book the vet"})
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentClarification, out.Intent.Type)
	assert.Equal(t, "What time is the appointment?", out.Intent.FollowUpQuestion)
}

func TestClassify_Conversation(t *testing.T) {
	reply := `{"kind":"conversation","reply":"Hello! How can I help?"}`

	c := newTestClassifier(t, &scriptedClient{reply: reply}, nil)
	out, err := c.Classify(context.Background(), Request{Input: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentUnknown, out.Intent.Type)
	assert.Equal(t, "Hello! How can I help?", out.Reply)

	off := false
	out, err = c.Classify(context.Background(), Request{Input: "hi there", ConversationalMode: &off})
	require.NoError(t, err)
	assert.Equal(t, contracts.IntentClarification, out.Intent.Type)
	assert.Equal(t, "Hello! How can I help?", out.Intent.FollowUpQuestion)
	assert.Empty(t, out.Reply)
}

func TestClassify_FailsSoft(t *testing.T) {
	cases := map[string]*scriptedClient{
		"network":     {err: errors.New("connection refused")},
		"not json":    {reply: "I think you want a task"},
		"bad shape":   {reply: `{"kind":"reasoning","confidence":"high"}`},
		"unknown tag": {reply: `{"kind":"poem","text":"roses"}`},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			c := newTestClassifier(t, client, nil)
			out, err := c.Classify(context.Background(), Request{Input: "add milk"})
			require.NoError(t, err)
			require.Error(t, out.Failure)
			assert.Equal(t, contracts.IntentUnknown, out.Intent.Type)
			assert.Zero(t, out.Intent.Confidence)
			assert.Equal(t, intent.Apology, out.Intent.FollowUpQuestion)
		})
	}
}

func TestClassify_Timeout(t *testing.T) {
	c := newTestClassifier(t, &scriptedClient{block: true}, nil, WithTimeout(10*time.Millisecond))
	out, err := c.Classify(context.Background(), Request{Input: "add milk"})
	require.NoError(t, err)
	assert.ErrorIs(t, out.Failure, context.DeadlineExceeded)
	assert.Equal(t, contracts.IntentUnknown, out.Intent.Type)
}

func TestClassify_InvalidInput(t *testing.T) {
	client := &scriptedClient{reply: `{"kind":"conversation","reply":"x"}`}
	c := newTestClassifier(t, client, nil)

	for _, in := range []string{"", "   \n\t", strings.Repeat("a", MaxInputRunes+1)} {
		_, err := c.Classify(context.Background(), Request{Input: in})
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
	assert.Nil(t, client.got, "model must not be called for invalid input")

	_, err := c.Classify(context.Background(), Request{Input: "look", Images: []string{"%%%"}})
	assert.ErrorIs(t, err, ErrInvalidInput)

	text := base64.StdEncoding.EncodeToString([]byte("just some text"))
	_, err = c.Classify(context.Background(), Request{Input: "look", Images: []string{text}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestClassify_Images(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	client := &scriptedClient{reply: `{"kind":"reasoning","action":"create_meal","data":{"name":"pasta"}}`}
	images := artifacts.NewMemoryStore()
	c := newTestClassifier(t, client, images)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	out, err := c.Classify(context.Background(), Request{Input: "plan this for dinner", Images: []string{dataURL}})
	require.NoError(t, err)
	require.Len(t, out.ImageRefs, 1)
	assert.Equal(t, artifacts.Ref(png), out.ImageRefs[0])

	stored, err := images.Get(context.Background(), out.ImageRefs[0])
	require.NoError(t, err)
	assert.Equal(t, png, stored)

	user := client.got[len(client.got)-1]
	require.Len(t, user.Images, 1)
	assert.Equal(t, "image/png", user.Images[0].MIMEType)
}

func TestClassify_ContextAndNormalization(t *testing.T) {
	client := &scriptedClient{reply: `{"kind":"conversation","reply":"ok"}`}
	c := newTestClassifier(t, client, nil)

	// "e" + combining acute composes to a single rune under NFC.
	_, err := c.Classify(context.Background(), Request{
		Input:   "  café ",
		Context: []byte(`[{"role":"user","content":"earlier"}]`),
	})
	require.NoError(t, err)
	require.Len(t, client.got, 3)
	assert.Contains(t, client.got[1].Content, "earlier")
	assert.Equal(t, "caf\u00e9", client.got[2].Content)
}
