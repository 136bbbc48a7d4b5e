package server

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap/zaptest"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
	"msgpack-rpc/middleware"
	"msgpack-rpc/registry"
	"msgpack-rpc/rpcerror"
	"msgpack-rpc/transport"
)

type completion struct {
	info        rpcerror.ErrorInfo
	hasResponse bool
	data        []byte
}

func newTestDispatcher(t *testing.T, setup func(r *registry.Registry), opts ...DispatcherOption) *Dispatcher {
	t.Helper()
	r := registry.New()
	if setup != nil {
		setup(r)
	}
	d := NewDispatcher(r, append([]DispatcherOption{WithDispatcherLogger(zaptest.NewLogger(t))}, opts...)...)
	t.Cleanup(d.Stop)
	return d
}

func addMethod(r *registry.Registry) {
	_ = r.RegisterTyped("add", func(a, b int64) int64 { return a + b })
}

func pack(t *testing.T, v any) []byte {
	t.Helper()
	data, err := codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func decodeResponse(t *testing.T, data []byte) []any {
	t.Helper()
	v, err := codec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	arr, ok := v.([]any)
	if !ok || len(arr) != 4 {
		t.Fatalf("not a response: %#v", v)
	}
	return arr
}

func TestScenarioAddition(t *testing.T) {
	d := newTestDispatcher(t, addMethod)
	req := pack(t, &message.Request{MsgID: 37, Method: "add", Params: []any{int64(2), int64(3)}})

	info, has, out := d.ProcessMessage(context.Background(), req)
	if info.HasError() || !has {
		t.Fatalf("info=%v has=%v", info, has)
	}
	if got, want := decodeResponse(t, out), []any{int64(1), int64(37), nil, int64(5)}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestScenarioMethodNotFound(t *testing.T) {
	d := newTestDispatcher(t, addMethod)
	req := pack(t, &message.Request{MsgID: 4, Method: "missing", Params: []any{}})

	_, has, out := d.ProcessMessage(context.Background(), req)
	if !has {
		t.Fatal("expected a response")
	}
	if got, want := decodeResponse(t, out), []any{int64(1), int64(4), "method missing not found", nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}
}

func TestScenarioNotification(t *testing.T) {
	logged := make(chan any, 1)
	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.RegisterFunc("log", func(_ context.Context, params []any) (any, error) {
			logged <- params[0]
			return nil, nil
		})
	})

	done := make(chan completion, 1)
	d.AsyncProcessMessage(context.Background(), pack(t, &message.Notification{Method: "log", Params: []any{"hello"}}),
		func(info rpcerror.ErrorInfo, has bool, data []byte) { done <- completion{info, has, data} })

	c := waitCompletion(t, done)
	if c.info.HasError() || c.hasResponse || len(c.data) != 0 {
		t.Fatalf("unexpected completion %+v", c)
	}
	if v := <-logged; v != "hello" {
		t.Fatalf("handler got %v", v)
	}

	// Unknown notifications are dropped too.
	info, has, out := d.ProcessMessage(context.Background(), pack(t, &message.Notification{Method: "nope", Params: []any{}}))
	if info.HasError() || has || out != nil {
		t.Fatalf("unexpected completion %v %v %x", info, has, out)
	}
}

// panicExecutor faults without any recovery of its own.
type panicExecutor struct{}

func (panicExecutor) HandleRequest(context.Context, *message.Request) *message.Response {
	panic("request fault")
}

func (panicExecutor) HandleNotification(context.Context, *message.Notification) {
	panic(errors.New("notification fault"))
}

func TestHandlerFaultsAreContained(t *testing.T) {
	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.Register("boom", panicExecutor{})
		_ = r.RegisterFunc("fail", func(context.Context, []any) (any, error) {
			return nil, errors.New("handler failed")
		})
	})
	ctx := context.Background()

	info, has, out := d.ProcessMessage(ctx, pack(t, &message.Request{MsgID: 1, Method: "boom", Params: []any{}}))
	if info.HasError() || !has {
		t.Fatalf("info=%v has=%v", info, has)
	}
	resp := decodeResponse(t, out)
	if s, _ := resp[2].(string); resp[1] != int64(1) || !strings.Contains(s, "request fault") || resp[3] != nil {
		t.Fatalf("unexpected response %#v", resp)
	}

	info, has, out = d.ProcessMessage(ctx, pack(t, &message.Notification{Method: "boom", Params: []any{}}))
	if info.HasError() || has || out != nil {
		t.Fatalf("notification fault produced %v %v %x", info, has, out)
	}

	_, _, out = d.ProcessMessage(ctx, pack(t, &message.Request{MsgID: 2, Method: "fail", Params: []any{}}))
	if resp := decodeResponse(t, out); resp[2] != "handler failed" || resp[3] != nil {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestMiddlewareFaultIsContained(t *testing.T) {
	faulty := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, msg message.Message) *message.Response {
			panic("middleware fault")
		}
	}
	d := newTestDispatcher(t, addMethod, WithMiddleware(faulty))

	_, has, out := d.ProcessMessage(context.Background(), pack(t, &message.Request{MsgID: 3, Method: "add", Params: []any{int64(1), int64(1)}}))
	if !has {
		t.Fatal("expected a response")
	}
	if s, _ := decodeResponse(t, out)[2].(string); !strings.Contains(s, "middleware fault") {
		t.Fatalf("unexpected error field %q", s)
	}
}

func TestInvalidInput(t *testing.T) {
	d := newTestDispatcher(t, addMethod)
	ctx := context.Background()

	// Undecodable bytes: nothing to answer.
	info, has, _ := d.ProcessMessage(ctx, []byte{0xc1})
	if info.Code != rpcerror.ParseError || has {
		t.Fatalf("garbage: info=%v has=%v", info, has)
	}

	// A bad request whose identifier survives is answered.
	info, has, out := d.ProcessMessage(ctx, pack(t, []any{int64(0), int64(5), int64(7), []any{}}))
	if info.HasError() || !has {
		t.Fatalf("bad request: info=%v has=%v", info, has)
	}
	resp := decodeResponse(t, out)
	if s, _ := resp[2].(string); resp[1] != int64(5) || !strings.Contains(s, "method name must be a string") {
		t.Fatalf("unexpected response %#v", resp)
	}

	// A bad notification is not.
	info, has, _ = d.ProcessMessage(ctx, pack(t, []any{int64(2), "log"}))
	if info.Code != rpcerror.ParseError || has {
		t.Fatalf("bad notification: info=%v has=%v", info, has)
	}

	// A response sent to the server is a protocol violation.
	info, has, _ = d.ProcessMessage(ctx, pack(t, &message.Response{MsgID: 1, Result: int64(1)}))
	if info.Code != rpcerror.InvalidMessage || has {
		t.Fatalf("response: info=%v has=%v", info, has)
	}
}

func TestUnencodableResultBecomesErrorResponse(t *testing.T) {
	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.RegisterFunc("chan", func(context.Context, []any) (any, error) { return make(chan int), nil })
	})
	info, has, out := d.ProcessMessage(context.Background(), pack(t, &message.Request{MsgID: 8, Method: "chan", Params: []any{}}))
	if info.HasError() || !has {
		t.Fatalf("info=%v has=%v", info, has)
	}
	resp := decodeResponse(t, out)
	if resp[1] != int64(8) || resp[2] == nil || resp[3] != nil {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestSelfReferencingResultBecomesErrorResponse(t *testing.T) {
	type ring struct{ Next *ring }
	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.RegisterFunc("loop", func(context.Context, []any) (any, error) {
			loop := []any{nil}
			loop[0] = loop
			return loop, nil
		})
		_ = r.RegisterTyped("ring", func() *ring {
			rg := &ring{}
			rg.Next = rg
			return rg
		})
	})
	for i, method := range []string{"loop", "ring"} {
		info, has, out := d.ProcessMessage(context.Background(),
			pack(t, &message.Request{MsgID: message.MsgID(i), Method: method, Params: []any{}}))
		if info.HasError() || !has {
			t.Fatalf("%s: info=%v has=%v", method, info, has)
		}
		resp := decodeResponse(t, out)
		if s, _ := resp[2].(string); !strings.Contains(s, "nested deeper") || resp[3] != nil {
			t.Fatalf("%s: unexpected response %#v", method, resp)
		}
	}
}

func TestSingleWorkerPreservesOrder(t *testing.T) {
	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.RegisterTyped("sleep", func(ms int) int {
			time.Sleep(time.Duration(ms) * time.Millisecond)
			return ms
		})
	}, WithWorkers(1))

	const n = 20
	var (
		mu    sync.Mutex
		order []int64
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		ms := int64((n - i) % 4)
		d.AsyncProcessMessage(context.Background(),
			pack(t, &message.Request{MsgID: message.MsgID(i), Method: "sleep", Params: []any{ms}}),
			func(_ rpcerror.ErrorInfo, _ bool, data []byte) {
				defer wg.Done()
				v, _ := codec.Decode(data)
				mu.Lock()
				order = append(order, v.([]any)[1].(int64))
				mu.Unlock()
			})
	}
	wg.Wait()

	for i, id := range order {
		if id != int64(i) {
			t.Fatalf("completion order %v", order)
		}
	}
}

func TestWorkersRunConcurrently(t *testing.T) {
	const workers = 4
	var started sync.WaitGroup
	started.Add(workers)
	release := make(chan struct{})

	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.RegisterFunc("block", func(context.Context, []any) (any, error) {
			started.Done()
			<-release
			return nil, nil
		})
	}, WithWorkers(workers))

	done := make(chan completion, workers)
	for i := 0; i < workers; i++ {
		d.AsyncProcessMessage(context.Background(),
			pack(t, &message.Request{MsgID: message.MsgID(i), Method: "block", Params: []any{}}),
			func(info rpcerror.ErrorInfo, has bool, data []byte) { done <- completion{info, has, data} })
	}

	all := make(chan struct{})
	go func() {
		started.Wait()
		close(all)
	}()
	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run concurrently")
	}
	close(release)
	for i := 0; i < workers; i++ {
		waitCompletion(t, done)
	}
}

func TestTimedOutHandlersStillCountAgainstWorkers(t *testing.T) {
	var running, peak atomic.Int32
	release := make(chan struct{})

	r := registry.New()
	_ = r.RegisterFunc("block", func(context.Context, []any) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	})
	d := NewDispatcher(r,
		WithDispatcherLogger(zaptest.NewLogger(t)),
		WithWorkers(1),
		WithMiddleware(middleware.Timeout(10*time.Millisecond)),
	)
	defer d.Stop()
	defer close(release)

	const n = 5
	done := make(chan completion, n)
	for i := 0; i < n; i++ {
		d.AsyncProcessMessage(context.Background(),
			pack(t, &message.Request{MsgID: message.MsgID(i), Method: "block", Params: []any{}}),
			func(info rpcerror.ErrorInfo, has bool, data []byte) { done <- completion{info, has, data} })
	}
	for i := 0; i < n; i++ {
		c := waitCompletion(t, done)
		if resp := decodeResponse(t, c.data); resp[2] != middleware.ErrTimedOut {
			t.Fatalf("expected timeout response, got %#v", resp)
		}
	}
	if p := peak.Load(); p != 1 {
		t.Fatalf("peak concurrent handlers = %d, want 1", p)
	}
}

func TestPoolCloseDoesNotWait(t *testing.T) {
	p := NewPool(1)
	release := make(chan struct{})
	ran := make(chan struct{}, 2)
	p.Submit(func() { <-release; ran <- struct{}{} })
	p.Submit(func() { ran <- struct{}{} })

	closed := make(chan struct{})
	go func() {
		p.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close waited for a running task")
	}
	if p.Submit(func() {}) {
		t.Fatal("Submit accepted a task after Close")
	}

	close(release)
	p.Stop()
	if len(ran) != 2 {
		t.Fatalf("%d queued tasks ran, want 2", len(ran))
	}
}

func TestSessionReachesHandler(t *testing.T) {
	var got string
	d := newTestDispatcher(t, func(r *registry.Registry) {
		_ = r.RegisterFunc("whoami", func(ctx context.Context, _ []any) (any, error) {
			s, ok := registry.SessionFrom(ctx)
			if !ok {
				return nil, errors.New("no session")
			}
			got = s.ID()
			return s.ID(), nil
		})
	})
	ctx := registry.WithSession(context.Background(), fakeSession{})
	if _, _, out := d.ProcessMessage(ctx, pack(t, &message.Request{MsgID: 1, Method: "whoami", Params: []any{}})); decodeResponse(t, out)[3] != "fake" {
		t.Fatalf("handler saw session %q", got)
	}
}

func TestStoppedDispatcherRejects(t *testing.T) {
	d := NewDispatcher(registry.New())
	d.Stop()
	var got rpcerror.ErrorInfo
	d.AsyncProcessMessage(context.Background(), []byte{0x90}, func(info rpcerror.ErrorInfo, _ bool, _ []byte) { got = info })
	if got.Code != rpcerror.EOF {
		t.Fatalf("got %v, want EOF", got)
	}
}

func TestDispatcherSealsRegistry(t *testing.T) {
	r := registry.New()
	d := NewDispatcher(r)
	defer d.Stop()
	if err := r.RegisterFunc("late", func(context.Context, []any) (any, error) { return nil, nil }); err == nil {
		t.Fatal("registered after dispatcher start")
	}
}

type fakeSession struct{}

func (fakeSession) ID() string         { return "fake" }
func (fakeSession) RemoteAddr() string { return "fake:0" }

func (fakeSession) AsyncSend(_ []byte, onSent transport.SentHandler) {
	onSent(rpcerror.None)
}

func waitCompletion(t *testing.T, ch <-chan completion) completion {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("completion not called")
	}
	return completion{}
}
