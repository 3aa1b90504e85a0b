package app

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/teslashibe/go-parley/pkg/conversation"
	"github.com/teslashibe/go-parley/pkg/hub"
	"github.com/teslashibe/go-parley/pkg/protocol"
	"github.com/teslashibe/go-parley/pkg/store"
	"github.com/teslashibe/go-parley/pkg/tools"
	"github.com/teslashibe/go-parley/pkg/transport"
)

type published struct {
	kind    string
	payload any
}

type fakeScreen struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeScreen) Publish(kind string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{kind, payload})
	return nil
}

func (f *fakeScreen) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return published{}
	}
	return f.msgs[len(f.msgs)-1]
}

func functionCall(tr *transport.Mock, id, name, args string) {
	tr.SimulateEvent(protocol.OutputItemDone{Item: protocol.OutputItem{
		Type:      "function_call",
		CallID:    id,
		Name:      name,
		Arguments: args,
	}})
}

func TestConfirmStartNewSessionRestartsConversation(t *testing.T) {
	a, tr := newTestApp(t, testConfig())
	ctx := context.Background()
	sess := a.Session()

	if err := sess.Start(ctx, "Ada", "rivers"); err != nil {
		t.Fatal(err)
	}
	handshake(tr, "can we talk about gardening instead")
	functionCall(tr, "call_1", tools.NameStartNewSession, `{"topic":"gardening"}`)
	waitFor(t, "pending confirmation", func() bool { return len(sess.Tools().Pending()) == 1 })

	if _, err := sess.Confirm(ctx, "call_1"); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	st := sess.State()
	if st.Topic != "gardening" || st.Character != "Ada" {
		t.Errorf("restarted as %q/%q, want Ada/gardening", st.Character, st.Topic)
	}
	if !st.Session.Active() {
		t.Errorf("session state = %s after restart", st.Session)
	}
	if n := tr.Connects(); n != 2 {
		t.Errorf("connects = %d, want 2", n)
	}

	sess.Wait()
	recs, err := a.Store().Sessions(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Topic != "rivers" {
		t.Errorf("stored = %+v, want the first conversation", recs)
	}
}

func TestConfirmStartNewSessionWithoutConversation(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	if err := a.restart(context.Background(), "gardening"); err != errNothingRunning {
		t.Errorf("restart = %v, want %v", err, errNothingRunning)
	}
}

func TestSettingToolsPersistAndApply(t *testing.T) {
	a, tr := newTestApp(t, testConfig())
	ctx := context.Background()
	sess := a.Session()

	if err := sess.Start(ctx, "Ada", "rivers"); err != nil {
		t.Fatal(err)
	}
	handshake(tr, "please use a different voice")
	functionCall(tr, "call_voice", tools.NameSetVoice, `{"voice":"sage"}`)
	functionCall(tr, "call_lang", tools.NameSetLanguage, `{"language":"Italian"}`)
	functionCall(tr, "call_todo", tools.NameAddTodo, `{"text":"water the tomatoes"}`)

	waitFor(t, "todo saved", func() bool {
		todos, _ := a.Store().Todos(ctx)
		return len(todos) == 1
	})
	waitFor(t, "preferences saved", func() bool {
		prefs, _ := a.Store().Preferences(ctx)
		return prefs == conversation.Preferences{Voice: "sage", Language: "Italian"}
	})

	if _, err := sess.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	tr.ResetSent()
	if err := sess.Start(ctx, "Ada", "rivers"); err != nil {
		t.Fatal(err)
	}
	tr.SimulateEvent(protocol.SessionCreated{Session: protocol.SessionInfo{ID: "srv_2"}})

	updates := tr.SentOfType(protocol.TypeSessionUpdate)
	if len(updates) != 1 {
		t.Fatalf("session.update sent %d times", len(updates))
	}
	wire := string(updates[0].Session)
	if !strings.Contains(wire, `"voice":"sage"`) || !strings.Contains(wire, "Always speak Italian.") {
		t.Errorf("next session config = %s", wire)
	}
}

func TestNavigationTools(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	ctx := context.Background()
	reg := a.Session().Tools()

	res := reg.Dispatch(ctx, tools.Call{ID: "c1", Name: tools.NameNavigateTo, Arguments: []byte(`{"screen":"todos"}`)})
	if res.OK || res.Reason != errNoScreen.Error() {
		t.Errorf("navigate without a screen = %+v", res)
	}

	scr := &fakeScreen{}
	defer a.screen.attach(scr)()

	res = reg.Dispatch(ctx, tools.Call{ID: "c2", Name: tools.NameNavigateTo, Arguments: []byte(`{"screen":"todos"}`)})
	if !res.OK {
		t.Fatalf("navigate = %+v", res)
	}
	if got := scr.last(); got.kind != hub.KindNavigate || got.payload != (navigation{Screen: "todos"}) {
		t.Errorf("published %+v", got)
	}

	if _, err := a.Store().AddTodo(ctx, "buy milk"); err != nil {
		t.Fatal(err)
	}
	res = reg.Dispatch(ctx, tools.Call{ID: "c3", Name: tools.NameShowTodos, Arguments: []byte(`{}`)})
	if !res.OK {
		t.Fatalf("show todos = %+v", res)
	}
	got := scr.last()
	todos, ok := got.payload.([]store.Todo)
	if got.kind != hub.KindTodos || !ok || len(todos) != 1 || todos[0].Text != "buy milk" {
		t.Errorf("published %+v", got)
	}
}

func TestCatalogOmitsInvitationWithoutBackend(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	if _, ok := a.Session().Tools().Lookup(tools.NameCreateInvitation); ok {
		t.Error("create_invitation offered without a backend")
	}

	cfg := testConfig()
	cfg.Backend.URL = "http://127.0.0.1:1/v1"
	b, _ := newTestApp(t, cfg)
	if _, ok := b.Session().Tools().Lookup(tools.NameCreateInvitation); !ok {
		t.Error("create_invitation missing with a backend")
	}
}

func TestTextScreen(t *testing.T) {
	out := &syncBuffer{}
	scr := textScreen{w: out}

	_ = scr.Publish(hub.KindNavigate, navigation{Screen: "history"})
	_ = scr.Publish(hub.KindTodos, []store.Todo{{Text: "buy milk"}, {Text: "call Sam"}})
	_ = scr.Publish(hub.KindTodos, []store.Todo(nil))

	want := "[opened history]\n[todos]\n  - buy milk\n  - call Sam\n[todo list is empty]\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}
