package ocr

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/cancel"
	"github.com/Lllllllleong/pagetranslationflow/internal/llm"
	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/Lllllllleong/pagetranslationflow/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const transcript = "यह एक परीक्षण पृष्ठ है। This page has enough characters to count as a transcription."

// scriptedModel replies with queued responses in order and records prompts.
type scriptedModel struct {
	mu      sync.Mutex
	replies []reply
	prompts []llm.Request
}

type reply struct {
	resp *llm.Response
	err  error
}

func ok(text string) reply {
	return reply{resp: &llm.Response{Text: text, FinishReason: llm.FinishStop, CompletionTokens: 40}}
}

func (m *scriptedModel) Call(_ context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, req)
	if len(m.replies) == 0 {
		return &llm.Response{Text: transcript, FinishReason: llm.FinishStop, CompletionTokens: 40}, nil
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.resp, r.err
}

func (m *scriptedModel) prompt(i int) string {
	var parts []string
	for _, msg := range m.prompts[i].Messages {
		parts = append(parts, msg.Text)
	}
	return strings.Join(parts, "\n")
}

func page(n int) models.RasterizedPage {
	return models.RasterizedPage{PageNumber: n, Image: bytes.Repeat([]byte{0xFF}, 200), Width: 850, Height: 1100}
}

func newEngine(m llm.Model) *Engine {
	return New(m, WithRetryPolicy(llm.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}))
}

func TestExtractText_AllSucceed(t *testing.T) {
	m := &scriptedModel{}
	log := progress.NewLog("c", nil)

	out, err := newEngine(m).ExtractText(context.Background(), []models.RasterizedPage{page(1), page(2), page(3)}, "hindi", log.Span(50, 75), "", nil)
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, o := range out {
		assert.Equal(t, i+1, o.PageNumber)
		assert.Equal(t, models.OCRSuccess, o.Status)
		assert.Equal(t, transcript, o.Text)
	}
	assert.Len(t, m.prompts, 3)
	assert.Contains(t, m.prompt(0), "Devanagari")
	assert.Contains(t, m.prompt(0), Marker)
	assert.Equal(t, 75, log.Last())
}

func TestExtractPage_MarkerMeansMasked(t *testing.T) {
	m := &scriptedModel{replies: []reply{ok("Line one\n" + Marker + "\nLine three of the page, long enough to be kept.")}}
	o := newEngine(m).ExtractPage(context.Background(), page(1), "sanskrit", "")
	assert.Equal(t, models.OCRMasked, o.Status)
}

func TestExtractPage_RefusalRecoveredByMasking(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		ok("I cannot assist with transcribing violent content."),
		ok("Verse one\n" + Marker + "\nVerse three continues the narrative at length."),
	}}
	o := newEngine(m).ExtractPage(context.Background(), page(4), "sanskrit", "")

	assert.Equal(t, models.OCRMasked, o.Status)
	assert.Equal(t, "Content Policy Violation", o.FailureType)
	assert.Contains(t, o.Text, "Verse three")
	require.Len(t, m.prompts, 2)
	assert.Contains(t, m.prompt(1), "battles, conflict, or violence")
}

func TestExtractPage_CascadeEscalatesInOrder(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		ok("I cannot assist with this."),
		ok("This violates guidelines."),
		ok("I must decline."),
		ok(transcript),
	}}
	o := newEngine(m).ExtractPage(context.Background(), page(1), "", "")

	assert.Equal(t, models.OCRSuccess, o.Status)
	assert.Equal(t, transcript, o.Text)
	require.Len(t, m.prompts, 4)
	assert.Contains(t, m.prompt(2), "Extract only the text")
	assert.Contains(t, m.prompt(3), "Copy the printed words")
}

func TestExtractPage_AllStrategiesRefuse(t *testing.T) {
	refusal := ok("I cannot assist with this request.")
	m := &scriptedModel{replies: []reply{
		refusal, refusal, refusal, refusal, refusal,
		ok("The page depicts graphic scenes."),
	}}
	o := newEngine(m).ExtractPage(context.Background(), page(7), "hindi", "")

	assert.Equal(t, models.OCRModerated, o.Status)
	assert.True(t, strings.HasPrefix(o.Text, Marker))
	assert.Contains(t, o.Text, "Page 7")
	assert.Contains(t, o.Text, "The page depicts graphic scenes.")
	require.Len(t, m.prompts, 6)
	// The last-resort strategy reinforces with a system message.
	assert.Equal(t, llm.RoleSystem, m.prompts[4].Messages[0].Role)
	assert.Contains(t, m.prompt(5), "explain")
}

func TestExtractPage_ContentFilterEntersCascade(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		{resp: &llm.Response{Text: "", FinishReason: llm.FinishContentFilter}},
		ok(transcript),
	}}
	o := newEngine(m).ExtractPage(context.Background(), page(2), "", "")

	assert.Equal(t, models.OCRSuccess, o.Status)
	assert.Equal(t, "Content Filter Triggered", o.FailureType)
	assert.Len(t, m.prompts, 2)
}

func TestExtractPage_QualityIssueDiagnosed(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		ok("No text detected"),
		ok("The image is a blank scan with a faint border."),
	}}
	o := newEngine(m).ExtractPage(context.Background(), page(3), "", "")

	assert.Equal(t, models.OCRFailedEmpty, o.Status)
	assert.Contains(t, o.Text, "blank scan")
	assert.Contains(t, o.Text, "No text detected")
	assert.Len(t, m.prompts, 2)
}

func TestExtractPage_TruncatedKept(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		{resp: &llm.Response{Text: transcript, FinishReason: llm.FinishLength, CompletionTokens: DefaultMaxTokens}},
	}}
	o := newEngine(m).ExtractPage(context.Background(), page(1), "", "")
	assert.Equal(t, models.OCRSuccess, o.Status)
	assert.Equal(t, "Truncated Response", o.FailureType)
	assert.Equal(t, transcript, o.Text)
}

func TestExtractText_TechnicalErrorDoesNotBlockNextPage(t *testing.T) {
	m := &scriptedModel{replies: []reply{
		{err: &llm.StatusError{StatusCode: 400}},
		ok(transcript),
	}}
	out, err := newEngine(m).ExtractText(context.Background(), []models.RasterizedPage{page(1), page(2)}, "", progress.Span{}, "", nil)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.OCRTechnicalError, out[0].Status)
	assert.Equal(t, models.OCRSuccess, out[1].Status)
}

func TestExtractPage_InvalidImage(t *testing.T) {
	m := &scriptedModel{}
	o := newEngine(m).ExtractPage(context.Background(), models.RasterizedPage{PageNumber: 1, Image: []byte("tiny")}, "", "")
	assert.Equal(t, models.OCRTechnicalError, o.Status)
	assert.Empty(t, m.prompts)
}

func TestExtractText_UserCancellation(t *testing.T) {
	m := &scriptedModel{}
	tok := cancel.NewToken()
	calls := 0
	check := cancel.CheckFunc(func() error {
		calls++
		if calls == 2 {
			tok.Cancel(cancel.ReasonUser)
		}
		return tok.Check()
	})

	_, err := newEngine(m).ExtractText(context.Background(), []models.RasterizedPage{page(1), page(2), page(3)}, "", progress.Span{}, "", check)
	assert.ErrorIs(t, err, cancel.ErrCancelled)
	assert.Len(t, m.prompts, 1)
}

func TestExtractText_DisconnectDoesNotAbort(t *testing.T) {
	tok := cancel.NewToken()
	tok.Cancel(cancel.ReasonDisconnect)
	out, err := newEngine(&scriptedModel{}).ExtractText(context.Background(), []models.RasterizedPage{page(1)}, "", progress.Span{}, "", tok)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestBasePrompt(t *testing.T) {
	custom := BasePrompt("hindi", "Read the handwritten ledger.")
	assert.True(t, strings.HasPrefix(custom, "Read the handwritten ledger."))
	assert.Contains(t, custom, Marker)

	assert.Contains(t, BasePrompt("Hindi", ""), "Hindi")
	assert.Contains(t, BasePrompt("sa", ""), "Sanskrit")
	generic := BasePrompt("Tamil", "")
	assert.Contains(t, generic, "Tamil")
	assert.Contains(t, generic, Marker)
}
