package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"penelope-batcher/history"
	"penelope-batcher/mailbox"
	"penelope-batcher/models"
)

type fakeResponder struct {
	mu    sync.Mutex
	calls [][]models.Record
	reply string
	err   error
}

func (r *fakeResponder) Respond(_ context.Context, _ string, conv []models.Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, conv)
	if r.err != nil {
		return "", r.err
	}
	return r.reply, nil
}

func (r *fakeResponder) Calls() [][]models.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]models.Record(nil), r.calls...)
}

type sent struct{ key, text string }

type fakeGateway struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (g *fakeGateway) Send(_ context.Context, key, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.sent = append(g.sent, sent{key, text})
	return nil
}

func (g *fakeGateway) Sent() []sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sent(nil), g.sent...)
}

func textPayload(text string) []byte {
	return []byte(fmt.Sprintf(`{"event":"messages.upsert","data":{"key":{"remoteJid":"5511999998888@s.whatsapp.net"},"messageType":"conversation","message":{"conversation":%q}}}`, text))
}

func imagePayload(caption string) []byte {
	return []byte(fmt.Sprintf(`{"data":{"messageType":"imageMessage","message":{"imageMessage":{"url":"https://mmg.whatsapp.net/x.enc","mediaKey":"a2V5","mimetype":"image/jpeg","caption":%q}}}}`, caption))
}

type dispatchFixture struct {
	mb        *mailbox.Mailbox
	hist      *history.MemoryStore
	responder *fakeResponder
	gateway   *fakeGateway
	d         *Dispatcher
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		mb:        mailbox.New(mailbox.NewMemoryBackend()),
		hist:      history.NewMemoryStore(),
		responder: &fakeResponder{reply: "Oi! Tudo certo."},
		gateway:   &fakeGateway{},
	}
	f.d = &Dispatcher{Mailbox: f.mb, History: f.hist, Responder: f.responder, Gateway: f.gateway}
	return f
}

func (f *dispatchFixture) push(t *testing.T, key string, payload []byte) {
	t.Helper()
	if err := f.mb.Append(context.Background(), key, models.NewEvent(key, payload)); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestProcessBatchesInArrivalOrder(t *testing.T) {
	f := newDispatchFixture()
	f.push(t, "5511999998888", textPayload("oi"))
	f.push(t, "5511999998888", textPayload("tudo bem?"))
	f.push(t, "5511999998888", imagePayload("olha isso"))

	if err := f.d.Process(context.Background(), "5511999998888"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	calls := f.responder.Calls()
	if len(calls) != 1 {
		t.Fatalf("responder called %d times, want 1", len(calls))
	}
	last := calls[0][len(calls[0])-1]
	var got []string
	for _, c := range last.Content {
		got = append(got, c.Type+":"+c.Text)
	}
	want := []string{
		"input_text:oi",
		"input_text:tudo bem?",
		"input_text:olha isso",
		"input_image:",
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("units = %v, want %v", got, want)
	}

	sentMsgs := f.gateway.Sent()
	if len(sentMsgs) != 1 || sentMsgs[0].text != "Oi! Tudo certo." {
		t.Errorf("sent = %+v", sentMsgs)
	}

	hist, _ := f.hist.Recent(context.Background(), "5511999998888", 10)
	if len(hist) != 2 || hist[0].Role != models.ROLE_USER || hist[1].Role != models.ROLE_ASSISTANT {
		t.Errorf("history = %+v", hist)
	}

	if n, _ := f.mb.Count(context.Background(), "5511999998888"); n != 0 {
		t.Errorf("mailbox still holds %d events", n)
	}
}

func TestProcessEmptyMailboxIsNoop(t *testing.T) {
	f := newDispatchFixture()
	if err := f.d.Process(context.Background(), "nobody"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.responder.Calls()) != 0 || len(f.gateway.Sent()) != 0 {
		t.Error("downstream called for an empty mailbox")
	}
}

func TestProcessPassesPriorHistory(t *testing.T) {
	f := newDispatchFixture()
	ctx := context.Background()
	prev, _ := models.NewAssistantRecord("resposta anterior")
	_ = f.hist.Append(ctx, "k", prev)

	f.push(t, "k", textPayload("e agora?"))
	if err := f.d.Process(ctx, "k"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	conv := f.responder.Calls()[0]
	if len(conv) != 2 || conv[0].Text() != "resposta anterior" || conv[1].Text() != "e agora?" {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestProcessSkipsMalformedEvents(t *testing.T) {
	f := newDispatchFixture()
	f.push(t, "k", []byte(`{not json`))
	f.push(t, "k", []byte(`{"data":{"messageType":"stickerMessage","message":{}}}`))
	f.push(t, "k", textPayload("válida"))

	if err := f.d.Process(context.Background(), "k"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	conv := f.responder.Calls()[0]
	if got := conv[len(conv)-1].Text(); got != "válida" {
		t.Errorf("user turn = %q", got)
	}
}

func TestProcessNothingUsable(t *testing.T) {
	f := newDispatchFixture()
	f.push(t, "k", []byte(`{not json`))
	if err := f.d.Process(context.Background(), "k"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(f.responder.Calls()) != 0 {
		t.Error("responder called without content")
	}
}

func TestProcessResponderFailure(t *testing.T) {
	f := newDispatchFixture()
	f.responder.err = errors.New("openai 500")
	f.push(t, "k", textPayload("oi"))

	err := f.d.Process(context.Background(), "k")
	var derr *DownstreamCallError
	if !errors.As(err, &derr) || derr.Stage != STAGE_RESPOND || derr.Key != "k" {
		t.Fatalf("err = %v, want respond-stage DownstreamCallError", err)
	}
	if len(f.gateway.Sent()) != 0 {
		t.Error("something was sent after the responder failed")
	}
	hist, _ := f.hist.Recent(context.Background(), "k", 10)
	if len(hist) != 1 || hist[0].Role != models.ROLE_USER {
		t.Errorf("user turn not kept in history: %+v", hist)
	}
}

func TestProcessGatewayFailure(t *testing.T) {
	f := newDispatchFixture()
	f.gateway.err = errors.New("evolution down")
	f.push(t, "k", textPayload("oi"))

	err := f.d.Process(context.Background(), "k")
	var derr *DownstreamCallError
	if !errors.As(err, &derr) || derr.Stage != STAGE_DELIVER {
		t.Fatalf("err = %v, want deliver-stage DownstreamCallError", err)
	}
}

type failingDrainer struct{}

func (failingDrainer) Drain(context.Context, string) ([]models.Event, error) {
	return nil, &mailbox.StorageError{Op: "drain", Key: "k", Err: errors.New("db gone")}
}

func TestProcessDrainFailure(t *testing.T) {
	f := newDispatchFixture()
	f.d.Mailbox = failingDrainer{}

	err := f.d.Process(context.Background(), "k")
	if !errors.Is(err, mailbox.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want storage error", err)
	}
	var derr *DownstreamCallError
	if !errors.As(err, &derr) || derr.Stage != STAGE_DRAIN {
		t.Errorf("stage = %+v", derr)
	}
}
