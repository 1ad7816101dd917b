package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/hostkeep/api/schemas"
	"github.com/xkilldash9x/hostkeep/internal/mocks"
	"github.com/xkilldash9x/hostkeep/internal/notify"
)

func result(id string, max int, outcomes ...schemas.OutcomeKind) schemas.AccountResult {
	acc := schemas.Account{Identifier: id, Secret: "s3cret-" + id}
	var history []schemas.AttemptRecord
	for i, o := range outcomes {
		history = append(history, schemas.AttemptRecord{Account: acc, Index: i + 1, Outcome: o, Detail: "detail " + string(o)})
	}
	return schemas.NewAccountResult(acc, max, history)
}

func TestReport_PreservesOrderAndSendsOnce(t *testing.T) {
	sink := &mocks.RecordingSink{}
	agg := NewAggregator(sink, zap.NewNop(), time.Second)

	results := []schemas.AccountResult{
		result("z@x.com", 3, schemas.OutcomeSuccess),
		result("a@x.com", 2, schemas.OutcomeTimeout, schemas.OutcomeCredentialRejected),
		result("m@x.com", 3, schemas.OutcomeChallengeBlocked, schemas.OutcomeSuccess),
	}
	started := time.Now().Add(-time.Minute)
	rep := agg.Report(context.Background(), started, results, nil)

	require.Len(t, rep.Results, 3)
	assert.Equal(t, "z@x.com", rep.Results[0].Account.Identifier)
	assert.Equal(t, "a@x.com", rep.Results[1].Account.Identifier)
	assert.Equal(t, "m@x.com", rep.Results[2].Account.Identifier)
	assert.Equal(t, 2, rep.Succeeded())
	assert.NotEmpty(t, rep.ID)
	assert.Equal(t, started, rep.StartedAt)

	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	lines := strings.Split(msgs[0].Text, "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Hostkeep: 2/3 accounts logged in"))
	assert.Equal(t, "✅ z@x.com — success (1/3 attempts)", lines[1])
	assert.Equal(t, "❌ a@x.com — credential_rejected (2/2 attempts): detail credential_rejected", lines[2])
	assert.Equal(t, "✅ m@x.com — success (2/3 attempts)", lines[3])
	assert.NotContains(t, msgs[0].Text, "s3cret")
}

func TestReport_NoAccounts(t *testing.T) {
	sink := &mocks.RecordingSink{}
	agg := NewAggregator(sink, zap.NewNop(), 0)

	rep := agg.Report(context.Background(), time.Now(), nil, nil)

	assert.Empty(t, rep.Results)
	assert.NotNil(t, rep.Results)
	msgs := sink.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, strings.ToLower(msgs[0].Text), "no accounts configured")
}

func TestReport_SkippedEntries(t *testing.T) {
	sink := &mocks.RecordingSink{}
	agg := NewAggregator(sink, zap.NewNop(), 0)

	rep := agg.Report(context.Background(), time.Now(), nil, []schemas.SkippedEntry{
		{Position: 2, Reason: "account #2: expected identifier:secret"},
	})

	require.Len(t, rep.Skipped, 1)
	text := sink.Messages()[0].Text
	assert.Contains(t, text, "no accounts configured (1 malformed entry skipped)")
	assert.Contains(t, text, "⚠️ #2: account #2: expected identifier:secret")
}

func TestReport_SkippedProxies(t *testing.T) {
	sink := &mocks.RecordingSink{}
	agg := NewAggregator(sink, zap.NewNop(), 0).SkipProxies([]schemas.SkippedProxy{
		{Position: 3, Input: "http://***@proxy.example:abc", Reason: "invalid port"},
	})

	for i := 0; i < 2; i++ {
		rep := agg.Report(context.Background(), time.Now(),
			[]schemas.AccountResult{result("a@x.com", 1, schemas.OutcomeSuccess)}, nil)
		require.Len(t, rep.SkippedProxies, 1)
		assert.Empty(t, rep.Skipped)
	}

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	lines := strings.Split(msgs[1].Text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Skipped proxies:", lines[2])
	assert.Equal(t, "⚠️ #3 http://***@proxy.example:abc: invalid port", lines[3])
}

func TestFormat_NoSkippedProxiesSection(t *testing.T) {
	text := Format(schemas.RunReport{Results: []schemas.AccountResult{result("a@x.com", 1, schemas.OutcomeSuccess)}})
	assert.NotContains(t, text, "Skipped proxies")
}

func TestReport_DeliveredDespiteCancelledRun(t *testing.T) {
	sink := new(mocks.MockSink)
	sink.On("Send", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), mock.Anything).
		Return(notify.DeliveryResult{Channel: "mock", Delivered: true}, nil).
		Once()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewAggregator(sink, zap.NewNop(), time.Second).Report(ctx, time.Now(), nil, nil)

	sink.AssertExpectations(t)
}

func TestReport_DeliveryFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := new(mocks.MockSink)
	sink.On("Send", mock.Anything, mock.Anything).
		Return(notify.DeliveryResult{Channel: "telegram"}, &notify.DeliveryError{Channel: "telegram", Err: errors.New("502")}).
		Once()

	rep := NewAggregator(sink, zap.New(core), time.Second).
		Report(context.Background(), time.Now(), []schemas.AccountResult{result("a@x.com", 1, schemas.OutcomeSuccess)}, nil)

	assert.Len(t, rep.Results, 1)
	assert.Equal(t, 1, logs.FilterMessage("Notification was not delivered").Len())
	sink.AssertExpectations(t)
}

func TestLine_SingularAttempt(t *testing.T) {
	assert.Equal(t, "❌ a@x.com — timeout (1/1 attempt): detail timeout", Line(result("a@x.com", 1, schemas.OutcomeTimeout)))
}

func TestLine_CancelledBeforeFirstAttempt(t *testing.T) {
	res := schemas.NewAccountResult(schemas.Account{Identifier: "c@x.com"}, 3, nil)
	assert.Equal(t, "❌ c@x.com — unknown_error (0/3 attempts)", Line(res))
}

func TestWrite(t *testing.T) {
	rep := schemas.RunReport{
		ID:      "run-1",
		Results: []schemas.AccountResult{result("a@x.com", 2, schemas.OutcomeSuccess)},
	}

	var text bytes.Buffer
	require.NoError(t, Write(&text, "text", rep))
	assert.Contains(t, text.String(), "✅ a@x.com — success (1/2 attempts)")

	var js bytes.Buffer
	require.NoError(t, Write(&js, "json", rep))
	assert.Contains(t, js.String(), `"identifier": "a@x.com"`)
	assert.Contains(t, js.String(), `"finalOutcome": "success"`)
	assert.NotContains(t, js.String(), "s3cret")

	assert.Error(t, Write(&js, "sarif", rep))
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	rep := schemas.RunReport{ID: "run-2"}

	require.NoError(t, WriteFile(path, "json", rep))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id": "run-2"`)

	assert.Error(t, WriteFile(filepath.Join(t.TempDir(), "missing", "x.json"), "json", rep))
}
