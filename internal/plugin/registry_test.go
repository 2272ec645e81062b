package plugin

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/endarthur/holocene-sub000/internal/bus"
	"github.com/endarthur/holocene-sub000/internal/config"
	"github.com/endarthur/holocene-sub000/internal/core"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/runner"
	"github.com/endarthur/holocene-sub000/internal/store"
)

func newTestCore(t *testing.T) *core.Core {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logging.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	c := core.New(config.Config{Device: "server"}, st, bus.New(logging.Nop()), runner.New(1, logging.Nop()), logging.Nop())
	t.Cleanup(c.Shutdown)
	return c
}

// fakePlugin records its lifecycle calls and can be told to fail or panic.
type fakePlugin struct {
	info Info

	loadErr   error
	enableErr error
	panicOn   string

	loads, enables, disables int
}

func (p *fakePlugin) Info() Info { return p.info }

func (p *fakePlugin) OnLoad(h *Host) error {
	if p.panicOn == "load" {
		panic("load panic")
	}
	p.loads++
	return p.loadErr
}

func (p *fakePlugin) OnEnable(h *Host) error {
	if p.panicOn == "enable" {
		panic("enable panic")
	}
	p.enables++
	return p.enableErr
}

func (p *fakePlugin) OnDisable(h *Host) error {
	p.disables++
	return nil
}

func fakeFactory(p *fakePlugin) Factory {
	return func() Plugin { return p }
}

func TestDiscoverFiltersByDevice(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("laptop", c, logging.Nop())

	everywhere := &fakePlugin{info: Info{Name: "everywhere", RunsOn: []string{"*"}}}
	laptopOnly := &fakePlugin{info: Info{Name: "laptop-only", RunsOn: []string{"laptop"}}}
	serverOnly := &fakePlugin{info: Info{Name: "server-only", RunsOn: []string{"server"}}}

	r.Discover([]Factory{fakeFactory(everywhere), fakeFactory(laptopOnly), fakeFactory(serverOnly)})

	names := r.PluginNames()
	if len(names) != 2 || names[0] != "everywhere" || names[1] != "laptop-only" {
		t.Fatalf("unexpected discovery: %v", names)
	}
}

func TestLifecycleStates(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("server", c, logging.Nop())

	p := &fakePlugin{info: Info{Name: "p", RunsOn: []string{"*"}}}
	r.Discover([]Factory{fakeFactory(p)})

	if state, _ := r.PluginState("p"); state != string(StateDeclared) {
		t.Fatalf("expected declared, got %s", state)
	}

	r.LoadAll()
	if state, _ := r.PluginState("p"); state != string(StateLoaded) {
		t.Fatalf("expected loaded, got %s", state)
	}

	r.EnableAll()
	if state, _ := r.PluginState("p"); state != string(StateEnabled) {
		t.Fatalf("expected enabled, got %s", state)
	}

	if err := r.Disable("p"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if state, _ := r.PluginState("p"); state != string(StateDisabled) {
		t.Fatalf("expected disabled, got %s", state)
	}

	if err := r.Enable("p"); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if p.enables != 2 || p.disables != 1 || p.loads != 1 {
		t.Fatalf("unexpected call counts: %+v", p)
	}
}

func TestRequiresGateLoading(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("server", c, logging.Nop())

	dependent := &fakePlugin{info: Info{Name: "dependent", RunsOn: []string{"*"}, Requires: []string{"base"}}}
	base := &fakePlugin{info: Info{Name: "base", RunsOn: []string{"*"}}}

	// Declaration order puts the dependent first, so its requirement is not
	// loaded yet and it must be skipped.
	r.Discover([]Factory{fakeFactory(dependent), fakeFactory(base)})
	r.LoadAll()

	if state, _ := r.PluginState("dependent"); state != string(StateDeclared) {
		t.Fatalf("expected dependent skipped, got %s", state)
	}
	if state, _ := r.PluginState("base"); state != string(StateLoaded) {
		t.Fatalf("expected base loaded, got %s", state)
	}
}

func TestLoadFailureSkipsPlugin(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("server", c, logging.Nop())

	bad := &fakePlugin{info: Info{Name: "bad", RunsOn: []string{"*"}}, loadErr: errors.New("nope")}
	good := &fakePlugin{info: Info{Name: "good", RunsOn: []string{"*"}}}

	r.Discover([]Factory{fakeFactory(bad), fakeFactory(good)})
	r.LoadAll()
	r.EnableAll()

	if state, _ := r.PluginState("bad"); state != string(StateDeclared) {
		t.Fatalf("expected bad still declared, got %s", state)
	}
	if state, _ := r.PluginState("good"); state != string(StateEnabled) {
		t.Fatalf("expected good enabled, got %s", state)
	}
}

func TestEnablePanicMarksDisabled(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("server", c, logging.Nop())

	p := &fakePlugin{info: Info{Name: "explosive", RunsOn: []string{"*"}}, panicOn: "enable"}
	r.Discover([]Factory{fakeFactory(p)})
	r.LoadAll()
	r.EnableAll()

	if state, _ := r.PluginState("explosive"); state != string(StateDisabled) {
		t.Fatalf("expected disabled after enable panic, got %s", state)
	}
}

// subscribingPlugin registers a bus handler and a worker on enable but never
// cleans up; the host must do it.
type subscribingPlugin struct {
	workerStopped chan struct{}
}

func (p *subscribingPlugin) Info() Info {
	return Info{Name: "lazy", RunsOn: []string{"*"}}
}

func (p *subscribingPlugin) OnLoad(h *Host) error { return nil }

func (p *subscribingPlugin) OnEnable(h *Host) error {
	h.Subscribe("lazy.channel", func(bus.Message) {})
	h.GoWorker("loop", func(stop <-chan struct{}) {
		<-stop
		close(p.workerStopped)
	})
	return nil
}

func (p *subscribingPlugin) OnDisable(h *Host) error { return nil }

func TestDisableForcesCleanup(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("server", c, logging.Nop())

	p := &subscribingPlugin{workerStopped: make(chan struct{})}
	r.Discover([]Factory{func() Plugin { return p }})
	r.LoadAll()
	r.EnableAll()

	if n := c.Bus.SubscriberCount("lazy.channel"); n != 1 {
		t.Fatalf("expected 1 subscriber while enabled, got %d", n)
	}

	if err := r.Disable("lazy"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	if n := c.Bus.SubscriberCount("lazy.channel"); n != 0 {
		t.Fatalf("expected forced unsubscribe, got %d subscribers", n)
	}
	select {
	case <-p.workerStopped:
	case <-time.After(time.Second):
		t.Fatal("expected worker joined on disable")
	}
}

func TestDisableAllRunsInReverseOrder(t *testing.T) {
	c := newTestCore(t)
	r := NewRegistry("server", c, logging.Nop())

	var order []string
	mk := func(name string) Factory {
		return func() Plugin {
			return &orderPlugin{name: name, order: &order}
		}
	}

	r.Discover([]Factory{mk("a"), mk("b"), mk("c")})
	r.LoadAll()
	r.EnableAll()
	r.DisableAll()

	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

type orderPlugin struct {
	name  string
	order *[]string
}

func (p *orderPlugin) Info() Info {
	return Info{Name: p.name, RunsOn: []string{"*"}}
}
func (p *orderPlugin) OnLoad(h *Host) error   { return nil }
func (p *orderPlugin) OnEnable(h *Host) error { return nil }
func (p *orderPlugin) OnDisable(h *Host) error {
	*p.order = append(*p.order, p.name)
	return nil
}
