package progresssync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/progress"
	"github.com/kotoba-app/kotoba/internal/store"
)

type fakeBackend struct {
	mu      sync.Mutex
	pushed  []learning.ProgressUpdate
	pushErr error
	gate    chan struct{} // when set, each push waits for a receive
	started chan struct{}

	today    learning.DailySet
	todayErr error
	snapshot []learning.ProgressRecord
	snapSet  learning.ID
	result   *learning.QuizResult
	quizErr  error
	history  api.HistoryPage
}

func (b *fakeBackend) PushProgress(ctx context.Context, u learning.ProgressUpdate) error {
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushed = append(b.pushed, u)
	return b.pushErr
}

func (b *fakeBackend) TodaySentences(context.Context) (learning.DailySet, error) {
	return b.today, b.todayErr
}

func (b *fakeBackend) ProgressSnapshot(_ context.Context, id learning.ID) ([]learning.ProgressRecord, error) {
	b.snapSet = id
	return b.snapshot, nil
}

func (b *fakeBackend) SubmitQuiz(context.Context, learning.QuizSubmission) (*learning.QuizResult, error) {
	return b.result, b.quizErr
}

func (b *fakeBackend) History(context.Context, int, int) (api.HistoryPage, error) {
	return b.history, nil
}

func (b *fakeBackend) pushes() []learning.ProgressUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]learning.ProgressUpdate(nil), b.pushed...)
}

type recordedFailure struct {
	op  string
	u   learning.ProgressUpdate
	err error
}

type captureSink struct {
	mu       sync.Mutex
	failures []recordedFailure
}

func (s *captureSink) Report(_ context.Context, op string, u learning.ProgressUpdate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, recordedFailure{op, u, err})
}

func (s *captureSink) all() []recordedFailure {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedFailure(nil), s.failures...)
}

func dailySet() learning.DailySet {
	return learning.DailySet{ID: "d1", Sentences: []learning.Sentence{
		{ID: "s1", Japanese: "このアニメは本当に面白いです。"},
		{ID: "s2", Japanese: "推しのライブに行きたいです。"},
	}}
}

func newWired(t *testing.T, b *fakeBackend, sink ErrorSink, queue int) (*progress.Store, *Syncer) {
	t.Helper()
	st := progress.New(progress.Options{})
	s := New(Options{Backend: b, State: st, Sink: sink, QueueSize: queue})
	st.SetMirror(s)
	t.Cleanup(func() { s.Close(context.Background()) })
	return st, s
}

func TestPushesArriveInOrder(t *testing.T) {
	b := &fakeBackend{}
	st, s := newWired(t, b, &captureSink{}, 16)
	st.ReplaceAll(dailySet())

	st.SetStep("s1", learning.StepUnderstand, true)
	st.SetStep("s1", learning.StepSpeak, true)
	st.SetStep("s2", learning.StepUnderstand, true)
	st.MarkMemorized("s1")
	require.NoError(t, s.Close(context.Background()))

	pushed := b.pushes()
	require.Len(t, pushed, 4)
	assert.Equal(t, []string{"understand=true"}, pushed[0].Fields())
	assert.Equal(t, []string{"speak=true"}, pushed[1].Fields())
	assert.Equal(t, learning.ID("s2"), pushed[2].SentenceID)
	assert.Equal(t, learning.ID("d1"), pushed[3].DailySetID)
	assert.Contains(t, pushed[3].Fields(), "memorized=true")
}

func TestPushNeverBlocks(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan struct{}, 4)}
	sink := &captureSink{}
	st, s := newWired(t, b, sink, 1)
	st.ReplaceAll(dailySet())

	st.SetStep("s1", learning.StepUnderstand, true)
	<-b.started // worker holds the first push

	done := make(chan struct{})
	go func() {
		st.SetStep("s1", learning.StepSpeak, true) // queued
		st.SetStep("s1", learning.StepCheck, true) // dropped
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetStep blocked on a slow backend")
	}

	failures := sink.all()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].err, ErrQueueFull)

	// Local state is authoritative regardless of delivery.
	assert.True(t, st.Get("s1").Check)

	close(b.gate)
	require.NoError(t, s.Close(context.Background()))
	assert.Len(t, b.pushes(), 2)
}

func TestFailedPushIsReportedNotRolledBack(t *testing.T) {
	b := &fakeBackend{pushErr: &api.StatusError{Method: "POST", Path: "/api/learning/progress", StatusCode: 500}}
	sink := &captureSink{}
	st, s := newWired(t, b, sink, 4)
	st.ReplaceAll(dailySet())

	st.SetStep("s1", learning.StepUnderstand, true)
	require.NoError(t, s.Close(context.Background()))

	failures := sink.all()
	require.Len(t, failures, 1)
	assert.Equal(t, OpPush, failures[0].op)
	assert.Len(t, b.pushes(), 1, "no retry")
	assert.True(t, st.Get("s1").Understand)
}

func TestPushAfterClose(t *testing.T) {
	b := &fakeBackend{}
	sink := &captureSink{}
	_, s := newWired(t, b, sink, 4)
	require.NoError(t, s.Close(context.Background()))

	s.PushStepUpdate(learning.StepUpdate("s1", learning.StepSpeak, true))
	failures := sink.all()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0].err, ErrClosed)
}

func TestCloseTimeoutAbortsInFlight(t *testing.T) {
	b := &fakeBackend{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	_, s := newWired(t, b, &captureSink{}, 4)
	s.PushStepUpdate(learning.StepUpdate("s1", learning.StepSpeak, true))
	<-b.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Close(ctx), context.DeadlineExceeded)
}

func TestPullTodaySentences(t *testing.T) {
	b := &fakeBackend{today: dailySet()}
	st, s := newWired(t, b, &captureSink{}, 4)

	set, err := s.PullTodaySentences(context.Background())
	require.NoError(t, err)
	assert.Len(t, set.Sentences, 2)
	assert.Len(t, st.Sentences(), 2)
	assert.Equal(t, learning.ID("d1"), st.DailySetID())

	b.todayErr = errors.New("offline")
	_, err = s.PullTodaySentences(context.Background())
	assert.Error(t, err)
	assert.Len(t, st.Sentences(), 2, "failed pull keeps cached sentences")
}

func TestPullProgressSnapshot(t *testing.T) {
	b := &fakeBackend{snapshot: []learning.ProgressRecord{
		{SentenceID: "s1", Understand: true, Speak: true},
		{SentenceID: "s2", Memorized: true},
		{},
	}}
	st, s := newWired(t, b, &captureSink{}, 4)
	st.ReplaceAll(dailySet())

	n, err := s.PullProgressSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, learning.ID("d1"), b.snapSet)
	assert.Equal(t, learning.StatusInProgress, st.Get("s1").Status)
	assert.True(t, st.Get("s2").Memorized())
}

func TestSubmitQuiz(t *testing.T) {
	b := &fakeBackend{result: &learning.QuizResult{AllCorrect: true}}
	st, s := newWired(t, b, &captureSink{}, 4)
	st.ReplaceAll(dailySet())

	res, err := s.SubmitQuiz(context.Background(), learning.QuizSubmission{SentenceID: "s1", FillBlankAnswer: "ライブ"})
	require.NoError(t, err)
	assert.True(t, res.AllCorrect)
	assert.True(t, st.Get("s1").Memorized())

	b.result, b.quizErr = nil, &api.StatusError{StatusCode: 502}
	_, err = s.SubmitQuiz(context.Background(), learning.QuizSubmission{SentenceID: "s2"})
	assert.Error(t, err)
	assert.False(t, st.Get("s2").Memorized())
}

func TestRecordingSink(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	defer db.Close()
	repo := db.EventRepo()
	sink := RecordingSink(zap.NewNop(), repo)

	u := learning.StepUpdate("s1", learning.StepSpeak, true)
	u.DailySetID = "d1"
	sink.Report(context.Background(), OpPush, u, &api.StatusError{Method: "POST", Path: "/p", StatusCode: 503, Message: "down"})
	sink.Report(context.Background(), OpPush, u, api.ErrNoCredential)

	rows, err := repo.QuerySyncFailures(context.Background(), store.QueryOpts{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 503, rows[0].StatusCode)
	assert.Equal(t, "s1", rows[0].SentenceID)
	assert.Equal(t, "d1", rows[0].DailySetID)
	assert.JSONEq(t, `{"sentence_id":"s1","daily_set_id":"d1","speak":true}`, rows[0].Payload)
}
