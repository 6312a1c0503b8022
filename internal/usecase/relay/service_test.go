package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/printbot/internal/domain"
	"github.com/kailas-cloud/printbot/internal/domain/chat"
	domquota "github.com/kailas-cloud/printbot/internal/domain/quota"
)

// --- Mocks ---

type mockReservation struct {
	committed bool
	released  bool
	commitErr error
}

func (r *mockReservation) Commit(_ context.Context) error {
	if r.released {
		return nil
	}
	r.committed = true
	return r.commitErr
}

func (r *mockReservation) Release(_ context.Context) error {
	if !r.committed {
		r.released = true
	}
	return nil
}

type mockQuota struct {
	ok    bool
	err   error
	res   *mockReservation
	all   []*mockReservation
	calls int
}

func (m *mockQuota) Reserve(_ context.Context) (domquota.Reservation, bool, error) {
	m.calls++
	if m.err != nil || !m.ok {
		return nil, false, m.err
	}
	m.res = &mockReservation{}
	m.all = append(m.all, m.res)
	return m.res, true, nil
}

func (m *mockQuota) Limit() int { return 10 }

type mockContent struct {
	data  []byte
	err   error
	calls int
}

func (m *mockContent) FetchContent(_ context.Context, _ string) ([]byte, error) {
	m.calls++
	return m.data, m.err
}

type mockOCR struct {
	text      string
	err       error
	calls     int
	panicOnce bool
}

func (m *mockOCR) Recognize(_ context.Context, _ []byte) (string, error) {
	m.calls++
	if m.panicOnce && m.calls == 1 {
		panic("tesseract: nil handle")
	}
	return m.text, m.err
}

type mockLLM struct {
	answer string
	err    error
	input  string
	calls  int
	block  bool
}

func (m *mockLLM) Complete(ctx context.Context, text string) (string, error) {
	m.calls++
	m.input = text
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.answer, m.err
}

type sentReply struct {
	token  string
	text   string
	ctxErr error
}

type mockReplier struct {
	mu      sync.Mutex
	replies []sentReply
	err     error
}

func (m *mockReplier) ReplyText(ctx context.Context, token, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, sentReply{token: token, text: text, ctxErr: ctx.Err()})
	return m.err
}

func (m *mockReplier) last(t *testing.T) sentReply {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return m.replies[len(m.replies)-1]
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }

type fixture struct {
	quota   *mockQuota
	content *mockContent
	ocr     *mockOCR
	llm     *mockLLM
	reply   *mockReplier
	svc     *Service
}

func newFixture() *fixture {
	f := &fixture{
		quota:   &mockQuota{ok: true},
		content: &mockContent{data: []byte{0x89, 'P', 'N', 'G'}},
		ocr:     &mockOCR{text: "  遠足のお知らせ\n持ち物: 弁当  "},
		llm:     &mockLLM{answer: ` {"title":"遠足のお知らせ"} `},
		reply:   &mockReplier{},
	}
	f.svc = New(f.quota, f.content, f.ocr, f.llm, f.reply, zap.NewNop())
	return f
}

func imageEvent() chat.Event {
	return chat.Event{Kind: chat.KindImage, ReplyToken: "rt-1", SourceID: "U1", MessageID: "m-1"}
}

// --- Tests ---

func TestHandleEvent_TextEcho(t *testing.T) {
	f := newFixture()
	f.svc.HandleEvent(context.Background(), chat.Event{Kind: chat.KindText, ReplyToken: "rt-t", Text: "こんにちは"})

	got := f.reply.last(t)
	if got.token != "rt-t" || got.text != "こんにちは" {
		t.Errorf("unexpected reply %+v", got)
	}
	if f.quota.calls != 0 {
		t.Error("text messages must not touch the quota")
	}
}

func TestHandleEvent_ImageSuccess(t *testing.T) {
	f := newFixture()
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != `{"title":"遠足のお知らせ"}` || got.token != "rt-1" {
		t.Errorf("unexpected reply %+v", got)
	}
	if f.llm.input != "遠足のお知らせ\n持ち物: 弁当" {
		t.Errorf("expected trimmed OCR text, got %q", f.llm.input)
	}
	if !f.quota.res.committed {
		t.Error("successful completion must record a quota use")
	}
}

func TestHandleEvent_QuotaExceeded(t *testing.T) {
	f := newFixture()
	f.quota.ok = false
	f.svc.HandleEvent(context.Background(), imageEvent())

	got := f.reply.last(t)
	if !strings.Contains(got.text, "上限（10回）") {
		t.Errorf("expected daily limit message, got %q", got.text)
	}
	if f.content.calls != 0 || f.llm.calls != 0 {
		t.Error("no downstream calls expected when quota is exhausted")
	}
}

func TestHandleEvent_QuotaStorageFailsClosed(t *testing.T) {
	f := newFixture()
	f.quota.err = domain.ErrQuotaStorageUnavailable
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != msgUnavailable {
		t.Errorf("expected unavailable message, got %q", got.text)
	}
	if f.llm.calls != 0 {
		t.Error("completion must not run when quota state is unknown")
	}
}

func TestHandleEvent_OCREmptyReleasesSlot(t *testing.T) {
	f := newFixture()
	f.ocr.text = "   "
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != msgOCRNotConfigured {
		t.Errorf("expected OCR message, got %q", got.text)
	}
	if f.llm.calls != 0 {
		t.Error("completion must not run without text")
	}
	if f.quota.res.committed || !f.quota.res.released {
		t.Error("slot must be released, not committed")
	}
}

func TestHandleEvent_OCRErrorTreatedAsEmpty(t *testing.T) {
	f := newFixture()
	f.ocr.text = ""
	f.ocr.err = domain.ErrOCRFailed
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != msgOCRNotConfigured {
		t.Errorf("expected OCR message, got %q", got.text)
	}
}

func TestHandleEvent_CompletionErrorNotRecorded(t *testing.T) {
	f := newFixture()
	f.llm.err = errors.New("status 500")
	f.svc.HandleEvent(context.Background(), imageEvent())

	got := f.reply.last(t)
	if !strings.HasPrefix(got.text, "OpenAI APIリクエストエラー: ") {
		t.Errorf("expected request error message, got %q", got.text)
	}
	if f.quota.res.committed {
		t.Error("failed completion must not consume quota")
	}
	if !f.quota.res.released {
		t.Error("failed completion must release the slot")
	}
}

func TestHandleEvent_FetchError(t *testing.T) {
	f := newFixture()
	f.content.err = domain.ErrChatProviderError
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != msgUnavailable {
		t.Errorf("expected unavailable message, got %q", got.text)
	}
	if f.ocr.calls != 0 {
		t.Error("OCR must not run without content")
	}
	if !f.quota.res.released {
		t.Error("slot must be released")
	}
}

func TestHandleEvent_CommitErrorStillAnswers(t *testing.T) {
	f := newFixture()
	f.svc.quota = failingCommitQuota{}
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != `{"title":"遠足のお知らせ"}` {
		t.Errorf("answer must be delivered even if recording fails, got %q", got.text)
	}
}

type failingCommitQuota struct{}

func (failingCommitQuota) Reserve(_ context.Context) (domquota.Reservation, bool, error) {
	return &mockReservation{commitErr: domain.ErrQuotaStorageUnavailable}, true, nil
}

func (failingCommitQuota) Limit() int { return 10 }

func TestHandleEvent_RateLimited(t *testing.T) {
	f := newFixture()
	f.svc.WithLimiter(denyLimiter{})
	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); got.text != msgRateLimited {
		t.Errorf("expected rate limit message, got %q", got.text)
	}
	if f.quota.calls != 0 {
		t.Error("rate limited events must not touch the quota")
	}
}

func TestHandleEvents_ReplyFailureDoesNotStopBatch(t *testing.T) {
	f := newFixture()
	f.reply.err = domain.ErrChatProviderError

	f.svc.HandleEvents(context.Background(), []chat.Event{
		{Kind: chat.KindText, ReplyToken: "a", Text: "1"},
		{Kind: chat.Kind("sticker"), ReplyToken: "b"},
		{Kind: chat.KindText, ReplyToken: "c", Text: "2"},
	})

	if len(f.reply.replies) != 2 {
		t.Fatalf("expected 2 reply attempts, got %d", len(f.reply.replies))
	}
	if f.reply.replies[1].token != "c" {
		t.Errorf("unexpected reply order %+v", f.reply.replies)
	}
}

func TestHandleEvent_TimeoutBoundsCompletion(t *testing.T) {
	f := newFixture()
	f.llm.block = true
	f.svc.WithEventTimeout(20 * time.Millisecond)

	f.svc.HandleEvent(context.Background(), imageEvent())

	if got := f.reply.last(t); !strings.HasPrefix(got.text, "OpenAI APIリクエストエラー: ") {
		t.Errorf("expected request error message, got %q", got.text)
	}
	if f.quota.res.committed {
		t.Error("timed out completion must not consume quota")
	}
	if got := f.reply.last(t); got.ctxErr != nil {
		t.Errorf("reply must not inherit the expired event deadline: %v", got.ctxErr)
	}
}

func TestHandleEvents_PanicIsContained(t *testing.T) {
	f := newFixture()
	f.ocr.panicOnce = true

	first, second := imageEvent(), imageEvent()
	second.ReplyToken, second.MessageID = "rt-2", "m-2"
	f.svc.HandleEvents(context.Background(), []chat.Event{first, second})

	if len(f.reply.replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(f.reply.replies))
	}
	if got := f.reply.replies[0]; got.token != "rt-1" || got.text != msgUnavailable {
		t.Errorf("panicking event must get the unavailable message, got %+v", got)
	}
	if got := f.reply.replies[1]; got.token != "rt-2" || got.text != `{"title":"遠足のお知らせ"}` {
		t.Errorf("next event must still be answered, got %+v", got)
	}
	if len(f.quota.all) != 2 || !f.quota.all[0].released || f.quota.all[0].committed {
		t.Error("panicking event must release its quota slot")
	}
	if !f.quota.all[1].committed {
		t.Error("second event must commit its slot")
	}
}
