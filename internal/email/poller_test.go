package email

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/nugget/salesreply/internal/inbox"
	"github.com/nugget/salesreply/internal/opstate"
)

func testOpstate(t *testing.T) *opstate.Store {
	t.Helper()
	s, err := opstate.NewStore(filepath.Join(t.TempDir(), "opstate_test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeLister serves a fixed INBOX. Arrivals echoes the highest UID even
// when it is not new, the way a server answers a raw "N:*" search.
type fakeLister struct {
	messages map[uint32]*Message
	listErr  error
	reads    []uint32
	sinces   []uint32
}

func (f *fakeLister) Arrivals(_ context.Context, _ string, sinceUID uint32) ([]Envelope, error) {
	f.sinces = append(f.sinces, sinceUID)
	if f.listErr != nil {
		return nil, f.listErr
	}
	highest, _ := f.LatestUID(context.Background(), "")
	var out []Envelope
	for uid := uint32(1); uid <= highest; uid++ {
		msg, ok := f.messages[uid]
		if !ok {
			continue
		}
		if uid <= sinceUID && uid != highest {
			continue
		}
		out = append(out, msg.Envelope)
	}
	return out, nil
}

func (f *fakeLister) LatestUID(_ context.Context, _ string) (uint32, error) {
	if f.listErr != nil {
		return 0, f.listErr
	}
	var highest uint32
	for uid := range f.messages {
		highest = max(highest, uid)
	}
	return highest, nil
}

func (f *fakeLister) ReadMessage(_ context.Context, _ string, uid uint32) (*Message, error) {
	f.reads = append(f.reads, uid)
	msg, ok := f.messages[uid]
	if !ok {
		return nil, errors.New("not found")
	}
	return msg, nil
}

func testMessage(uid uint32, from, subject string) *Message {
	return &Message{
		Envelope: Envelope{
			UID:     uid,
			From:    from,
			To:      []string{"Mr. Sales <sales@acme.example>"},
			Subject: subject,
			Date:    time.Date(2026, 10, 1, 9, 0, int(uid), 0, time.UTC),
		},
		MessageID: subject + "@mail.example",
		TextBody:  "body of " + subject,
	}
}

func testPoller(t *testing.T, lister Lister) (*Poller, *opstate.Store) {
	t.Helper()
	state := testOpstate(t)
	cfg := Config{From: "Mr. Sales <sales@acme.example>"}
	cfg.ApplyDefaults()
	return NewPoller(lister, state, cfg, nil), state
}

func TestPoll_FirstRunSeeds(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{
		499: testMessage(499, "old@example.com", "old1"),
		500: testMessage(500, "old@example.com", "old2"),
	}}
	p, state := testPoller(t, lister)

	emails, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(emails) != 0 {
		t.Errorf("first run reported %d emails, want 0", len(emails))
	}
	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "500" {
		t.Errorf("seeded mark = %q, want %q", val, "500")
	}
}

func TestPoll_ReturnsNewMessagesOldestFirst(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{
		100: testMessage(100, "old@example.com", "old"),
		101: testMessage(101, "Jane Doe <jane@initech.example>", "first"),
		102: testMessage(102, "bob@globex.example", "second"),
	}}
	p, state := testPoller(t, lister)
	if err := state.Set(pollNamespace, "INBOX", "100"); err != nil {
		t.Fatal(err)
	}

	emails, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("got %d emails, want 2", len(emails))
	}
	if emails[0].Subject != "first" || emails[1].Subject != "second" {
		t.Errorf("order = %q, %q; want first, second", emails[0].Subject, emails[1].Subject)
	}
	if emails[0].From != "jane@initech.example" || emails[0].FromName != "Jane Doe" {
		t.Errorf("sender = %q (%q), want jane@initech.example (Jane Doe)", emails[0].From, emails[0].FromName)
	}
	if emails[0].ThreadID != "first@mail.example" {
		t.Errorf("ThreadID = %q, want the message's own id", emails[0].ThreadID)
	}

	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "102" {
		t.Errorf("mark = %q, want %q", val, "102")
	}
}

func TestPoll_NothingNew(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{
		100: testMessage(100, "old@example.com", "old"),
	}}
	p, state := testPoller(t, lister)
	if err := state.Set(pollNamespace, "INBOX", "100"); err != nil {
		t.Fatal(err)
	}

	emails, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(emails) != 0 {
		t.Errorf("got %d emails, want 0 (the N:* listing echoes the highest UID)", len(emails))
	}
	if len(lister.reads) != 0 {
		t.Errorf("read %v, want no reads", lister.reads)
	}
	if len(lister.sinces) != 1 || lister.sinces[0] != 100 {
		t.Errorf("Arrivals since = %v, want [100]", lister.sinces)
	}
}

func TestPoll_EmptyMailboxSeedsZero(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{}}
	p, state := testPoller(t, lister)

	if _, err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "0" {
		t.Fatalf("seeded mark = %q, want %q", val, "0")
	}

	lister.messages[1] = testMessage(1, "jane@initech.example", "first ever")
	emails, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(emails) != 1 || emails[0].Subject != "first ever" {
		t.Errorf("emails = %+v, want the first message", emails)
	}
}

func TestPoll_SeedError(t *testing.T) {
	p, state := testPoller(t, &fakeLister{listErr: errors.New("connection reset")})

	if _, err := p.Poll(context.Background()); err == nil {
		t.Fatal("Poll should fail when the seed lookup fails")
	}
	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "" {
		t.Errorf("mark = %q, want none stored", val)
	}
}

func TestPoll_SkipsSelfSent(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{
		100: testMessage(100, "old@example.com", "old"),
		101: testMessage(101, "Mr. Sales <SALES@acme.example>", "our reply"),
		102: testMessage(102, "jane@initech.example", "question"),
	}}
	p, state := testPoller(t, lister)
	if err := state.Set(pollNamespace, "INBOX", "100"); err != nil {
		t.Fatal(err)
	}

	emails, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(emails) != 1 || emails[0].Subject != "question" {
		t.Fatalf("emails = %+v, want only the question", emails)
	}
	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "102" {
		t.Errorf("mark = %q, want %q (self-sent mail still advances it)", val, "102")
	}
}

func TestPoll_CorruptMarkReseeds(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{
		300: testMessage(300, "jane@initech.example", "x"),
	}}
	p, state := testPoller(t, lister)
	if err := state.Set(pollNamespace, "INBOX", "garbage"); err != nil {
		t.Fatal(err)
	}

	emails, err := p.Poll(context.Background())
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(emails) != 0 {
		t.Errorf("got %d emails after reseed, want 0", len(emails))
	}
	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "300" {
		t.Errorf("mark = %q, want %q", val, "300")
	}
}

func TestPoll_ListError(t *testing.T) {
	p, state := testPoller(t, &fakeLister{listErr: errors.New("connection reset")})
	if err := state.Set(pollNamespace, "INBOX", "5"); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Poll(context.Background()); err == nil {
		t.Fatal("Poll should fail when listing fails")
	}
	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "5" {
		t.Errorf("mark = %q, want unchanged %q", val, "5")
	}
}

func TestAdvanceHighWaterMark_NeverDecreases(t *testing.T) {
	p, state := testPoller(t, &fakeLister{})
	if err := state.Set(pollNamespace, "INBOX", "391"); err != nil {
		t.Fatal(err)
	}

	// Lower UIDs can show up after moves or deletes changed INBOX.
	p.advanceHighWaterMark("INBOX", 391, []Envelope{{UID: 286}, {UID: 200}})

	val, _ := state.Get(pollNamespace, "INBOX")
	if val != "391" {
		t.Errorf("high-water mark should not decrease: got %q, want %q", val, "391")
	}
}

func TestFilterSelfSent_NoFrom(t *testing.T) {
	p := NewPoller(&fakeLister{}, nil, Config{}, nil)

	messages := []Envelope{{UID: 100, From: "anyone@example.com"}}
	if got := p.filterSelfSent(messages); len(got) != 1 {
		t.Fatalf("expected 1 message without a configured From, got %d", len(got))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	lister := &fakeLister{messages: map[uint32]*Message{
		100: testMessage(100, "old@example.com", "old"),
		101: testMessage(101, "jane@initech.example", "hello"),
	}}
	p, state := testPoller(t, lister)
	if err := state.Set(pollNamespace, "INBOX", "100"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var got []inbox.InboundEmail
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx, time.Hour, func(_ context.Context, e inbox.InboundEmail) {
			got = append(got, e)
			cancel()
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(got) != 1 || got[0].Subject != "hello" {
		t.Errorf("handled = %+v, want the one new email", got)
	}
}
