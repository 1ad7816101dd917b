package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/driver"
	"github.com/xkilldash9x/hostkeep/internal/mocks"
	"github.com/xkilldash9x/hostkeep/internal/notify"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CheckboxSelector = "#cf-box"
	cfg.ElementTimeout = 20 * time.Millisecond
	cfg.ClickTimeout = 20 * time.Millisecond
	cfg.SettleTimeout = 20 * time.Millisecond
	return cfg
}

func TestClassify_None(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zaptest.NewLogger(t))
	page := mocks.NewPage("https://panel.test/login")
	page.TitleText = "Client Login"

	state, err := r.Classify(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeNone, state.Kind)
	assert.False(t, state.Blocking())
	assert.Empty(t, sink.Messages())
}

func TestClassify_BlockTitleEscalates(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zaptest.NewLogger(t))
	page := mocks.NewPage("https://panel.test/login")
	page.TitleText = "Just a moment..."
	page.ScreenshotPath = "shots/block.png"
	page.Show("#cf-box")

	ctx := WithSubject(context.Background(), "b@x.com")
	state, err := r.Classify(ctx, page)
	require.NoError(t, err)

	assert.Equal(t, schemas.ChallengeManualRequired, state.Kind, "a full-page block wins over a checkbox")
	assert.Equal(t, "shots/block.png", state.Evidence)

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "shots/block.png", msgs[0].Attachment)
	assert.Contains(t, msgs[0].Text, "b@x.com")
	assert.Contains(t, msgs[0].Text, "Just a moment")
}

func TestClassify_BlockHeading(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Show("h1")
	page.Texts["h1"] = "ATTENTION REQUIRED! | Cloudflare"

	state, err := r.Classify(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeManualRequired, state.Kind)
	assert.Len(t, sink.Messages(), 1)
}

func TestClassify_Checkbox(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Show("#cf-box")

	state, err := r.Classify(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeAutoResolvable, state.Kind)
	assert.Empty(t, sink.Messages())
}

func TestClassify_UnreadableHeadingIsNotABlock(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Counts["h1"] = 1
	page.Errs["text"] = &driver.Error{Op: "text", Target: "h1", Err: driver.ErrTimeout}

	state, err := r.Classify(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeNone, state.Kind)
	assert.Empty(t, sink.Messages())
	assert.Contains(t, page.Calls(), "count #cf-box", "checkbox detection still runs")
}

func TestClassify_UnreadableHeadingStillFindsCheckbox(t *testing.T) {
	r := NewResolver(testConfig(), &mocks.RecordingSink{}, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Counts["h1"] = 1
	page.Errs["text"] = &driver.Error{Op: "text", Target: "h1", Err: driver.ErrTimeout}
	page.Show("#cf-box")

	state, err := r.Classify(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeAutoResolvable, state.Kind)
}

func TestClassify_DriverErrorPropagates(t *testing.T) {
	r := NewResolver(testConfig(), &mocks.RecordingSink{}, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Errs["title"] = &driver.Error{Op: "title", Err: driver.ErrTimeout}

	_, err := r.Classify(context.Background(), page)
	require.Error(t, err)
	assert.True(t, driver.IsTimeout(err))
}

func TestAttemptResolve_RejectsOtherStates(t *testing.T) {
	r := NewResolver(testConfig(), &mocks.RecordingSink{}, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")

	for _, kind := range []schemas.ChallengeKind{schemas.ChallengeNone, schemas.ChallengeManualRequired} {
		in := schemas.ChallengeState{Kind: kind}
		out, err := r.AttemptResolve(context.Background(), page, in)
		assert.ErrorIs(t, err, ErrNotAutoResolvable)
		assert.Equal(t, in, out)
	}
	assert.Empty(t, page.Calls())
}

func TestAttemptResolve_Clears(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Show("#cf-box")
	page.OnClick["#cf-box"] = func(p *mocks.Page) { p.Hide("#cf-box") }

	state, err := r.AttemptResolve(context.Background(), page, schemas.ChallengeState{Kind: schemas.ChallengeAutoResolvable})
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeNone, state.Kind)
	assert.Empty(t, sink.Messages())

	calls := page.Calls()
	require.GreaterOrEqual(t, len(calls), 4)
	assert.Equal(t, []string{"scroll #cf-box", "wait #cf-box", "click #cf-box", "load "}, calls[:4])
}

func TestAttemptResolve_StillPresent(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Show("#cf-box")

	state, err := r.AttemptResolve(context.Background(), page, schemas.ChallengeState{Kind: schemas.ChallengeAutoResolvable})
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeAutoResolvable, state.Kind)
	assert.True(t, state.Blocking())
	assert.Empty(t, sink.Messages())
}

func TestAttemptResolve_DriverErrorBecomesManual(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Show("#cf-box")
	page.Errs["click"] = &driver.Error{Op: "click", Target: "#cf-box", Err: errors.New("node detached")}

	state, err := r.AttemptResolve(context.Background(), page, schemas.ChallengeState{Kind: schemas.ChallengeAutoResolvable})
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeManualRequired, state.Kind)
	assert.Equal(t, "screenshot.png", state.Evidence)
	assert.Contains(t, state.Description, "node detached")

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "screenshot.png", msgs[0].Attachment)
}

func TestAttemptResolve_InvisibleControlTimesOutToManual(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Counts["#cf-box"] = 1 // present but never visible

	state, err := r.AttemptResolve(context.Background(), page, schemas.ChallengeState{Kind: schemas.ChallengeAutoResolvable})
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeManualRequired, state.Kind)
	assert.Len(t, sink.Messages(), 1)
}

func TestAttemptResolve_CancelledRunDoesNotEscalate(t *testing.T) {
	sink := &mocks.RecordingSink{}
	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.Show("#cf-box")
	page.Errs["click"] = &driver.Error{Op: "click", Target: "#cf-box", Err: context.Canceled}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := schemas.ChallengeState{Kind: schemas.ChallengeAutoResolvable, Description: "verification checkbox present"}
	state, err := r.AttemptResolve(ctx, page, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, in, state)
	assert.Empty(t, sink.Messages())
	assert.NotContains(t, page.Calls(), "screenshot ")
}

func TestEscalate_DeliveryFailureIsNotFatal(t *testing.T) {
	sink := new(mocks.MockSink)
	sink.On("Send", mock.Anything, mock.AnythingOfType("notify.Message")).
		Return(notify.DeliveryResult{Channel: "telegram"}, &notify.DeliveryError{Channel: "telegram", Err: errors.New("boom")}).
		Once()

	r := NewResolver(testConfig(), sink, zap.NewNop())
	page := mocks.NewPage("https://panel.test/login")
	page.TitleText = "Checking your browser before accessing"
	page.Errs["screenshot"] = errors.New("target closed")

	state, err := r.Classify(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, schemas.ChallengeManualRequired, state.Kind)
	assert.Empty(t, state.Evidence)
	sink.AssertExpectations(t)
}
