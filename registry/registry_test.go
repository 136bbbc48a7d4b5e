package registry

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/go-faster/errors"
	"go.uber.org/zap/zaptest"

	"msgpack-rpc/message"
)

func add(ctx context.Context, params []any) (any, error) {
	var sum int64
	for _, p := range params {
		n, ok := p.(int64)
		if !ok {
			return nil, errors.Errorf("%v is not an integer", p)
		}
		sum += n
	}
	return sum, nil
}

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.RegisterFunc("add", add); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterFunc("echo", func(_ context.Context, p []any) (any, error) { return p, nil }); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Lookup("add"); !ok {
		t.Fatal("add not found")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("missing found")
	}
	if got := r.Methods(); !reflect.DeepEqual(got, []string{"add", "echo"}) {
		t.Fatalf("Methods() = %v", got)
	}
}

func TestRegisterRejects(t *testing.T) {
	r := New()
	if err := r.RegisterFunc("add", add); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterFunc("add", add); err == nil {
		t.Error("duplicate accepted")
	}
	if err := r.Register("", NewFuncExecutor("x", add)); err == nil {
		t.Error("empty name accepted")
	}
	if err := r.Register("nil", nil); err == nil {
		t.Error("nil executor accepted")
	}

	r.Seal()
	r.Seal()
	if !r.Sealed() {
		t.Fatal("not sealed")
	}
	if err := r.RegisterFunc("late", add); err == nil || !strings.Contains(err.Error(), "sealed") {
		t.Errorf("registration after Seal: %v", err)
	}
	if _, ok := r.Lookup("add"); !ok {
		t.Error("lookup after Seal failed")
	}
}

func TestFuncExecutorRequest(t *testing.T) {
	e := NewFuncExecutor("add", add, WithLogger(zaptest.NewLogger(t)))
	resp := e.HandleRequest(context.Background(), &message.Request{MsgID: 37, Method: "add", Params: []any{int64(2), int64(3)}})
	if resp.MsgID != 37 || resp.Error != nil || resp.Result != int64(5) {
		t.Fatalf("unexpected response %#v", resp)
	}

	resp = e.HandleRequest(context.Background(), &message.Request{MsgID: 1, Params: []any{"x"}})
	if resp.Error != "x is not an integer" || resp.Result != nil {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestFuncExecutorErrorValue(t *testing.T) {
	e := NewFuncExecutor("fail", func(context.Context, []any) (any, error) {
		return nil, &Error{Value: map[string]any{"code": int64(7)}}
	})
	resp := e.HandleRequest(context.Background(), &message.Request{MsgID: 1, Params: []any{}})
	if !reflect.DeepEqual(resp.Error, map[string]any{"code": int64(7)}) {
		t.Fatalf("error field = %#v", resp.Error)
	}
}

func TestFuncExecutorPanicBecomesErrorResponse(t *testing.T) {
	e := NewFuncExecutor("boom", func(context.Context, []any) (any, error) {
		panic("kaboom")
	}, WithLogger(zaptest.NewLogger(t)))

	resp := e.HandleRequest(context.Background(), &message.Request{MsgID: 9, Params: []any{}})
	if resp.MsgID != 9 || resp.Result != nil {
		t.Fatalf("unexpected response %#v", resp)
	}
	msg, ok := resp.Error.(string)
	if !ok || !strings.Contains(msg, "kaboom") {
		t.Fatalf("error field = %#v", resp.Error)
	}

	// Notifications swallow the fault.
	e.HandleNotification(context.Background(), &message.Notification{Method: "boom", Params: []any{}})
}

func TestValidators(t *testing.T) {
	positive := func(v any) (any, error) {
		n, ok := v.(int64)
		if !ok || n <= 0 {
			return nil, errors.Errorf("%v is not positive", v)
		}
		return n, nil
	}
	double := func(v any) (any, error) { return v.(int64) * 2, nil }

	e := NewFuncExecutor("add", add,
		WithParamValidators(positive, nil),
		WithResultValidator(double),
	)
	ctx := context.Background()

	resp := e.HandleRequest(ctx, &message.Request{MsgID: 1, Params: []any{int64(2), int64(-3)}})
	if resp.Error != nil || resp.Result != int64(-2) {
		t.Fatalf("unexpected response %#v", resp)
	}

	resp = e.HandleRequest(ctx, &message.Request{MsgID: 2, Params: []any{int64(-2), int64(3)}})
	if s, _ := resp.Error.(string); !strings.Contains(s, "parameter 0") {
		t.Fatalf("unexpected response %#v", resp)
	}

	resp = e.HandleRequest(ctx, &message.Request{MsgID: 3, Params: []any{int64(1)}})
	if s, _ := resp.Error.(string); !strings.Contains(s, "invalid number of parameters") {
		t.Fatalf("unexpected response %#v", resp)
	}

	failing := NewFuncExecutor("add", add, WithResultValidator(func(any) (any, error) {
		return nil, errors.New("too large")
	}))
	resp = failing.HandleRequest(ctx, &message.Request{MsgID: 4, Params: []any{int64(1)}})
	if resp.Error != "result: too large" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

type point struct {
	X, Y int
}

func TestTypedExecutor(t *testing.T) {
	cases := []struct {
		name   string
		fn     any
		params []any
		result any
		err    string
	}{
		{"values", func(a, b int) int { return a + b }, []any{int64(2), int64(3)}, int64(5), ""},
		{"with context", func(_ context.Context, s string) (string, error) { return strings.ToUpper(s), nil }, []any{"hi"}, "HI", ""},
		{"error only", func() error { return errors.New("nope") }, []any{}, nil, "nope"},
		{"no results", func(int) {}, []any{int64(1)}, nil, ""},
		{"struct in and out", func(p point) point { return point{p.Y, p.X} },
			[]any{map[string]any{"X": int64(1), "y": int64(2)}}, map[string]any{"X": int64(2), "Y": int64(1)}, ""},
		{"slice", func(xs []float64) float64 { return xs[0] + xs[1] }, []any{[]any{1.5, int64(2)}}, 3.5, ""},
		{"arity", func(a, b int) int { return a + b }, []any{int64(1)}, nil, "invalid number of parameters: expected 2, got 1"},
		{"conversion", func(a int8) int8 { return a }, []any{int64(1000)}, nil, "parameter 0"},
		{"panic", func([]int) int { var m map[string]int; m["x"] = 1; return 0 }, []any{[]any{}}, nil, "panicked"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewTypedExecutor(tc.name, tc.fn)
			if err != nil {
				t.Fatal(err)
			}
			resp := e.HandleRequest(context.Background(), &message.Request{MsgID: 1, Method: tc.name, Params: tc.params})
			if tc.err != "" {
				s, _ := resp.Error.(string)
				if !strings.Contains(s, tc.err) {
					t.Fatalf("error field = %#v, want %q", resp.Error, tc.err)
				}
				return
			}
			if resp.Error != nil {
				t.Fatalf("unexpected error %#v", resp.Error)
			}
			if !reflect.DeepEqual(resp.Result, tc.result) {
				t.Fatalf("result = %#v, want %#v", resp.Result, tc.result)
			}
		})
	}
}

func TestTypedExecutorRejectsBadSignatures(t *testing.T) {
	for _, fn := range []any{
		42,
		func(...int) int { return 0 },
		func() (int, int) { return 0, 0 },
		func() (int, int, error) { return 0, 0, nil },
	} {
		if _, err := NewTypedExecutor("bad", fn); err == nil {
			t.Errorf("%T accepted", fn)
		}
	}
}

type Arith struct{}

func (a *Arith) Add(x, y int) int { return x + y }

func (a *Arith) Div(x, y float64) (float64, error) {
	if y == 0 {
		return 0, errors.New("division by zero")
	}
	return x / y, nil
}

func (a *Arith) Pair() (int, int) { return 0, 0 }

func TestRegisterService(t *testing.T) {
	r := New()
	names, err := r.RegisterService(&Arith{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(names, []string{"Arith.Add", "Arith.Div"}) {
		t.Fatalf("names = %v", names)
	}

	exec, ok := r.Lookup("Arith.Div")
	if !ok {
		t.Fatal("Arith.Div not registered")
	}
	resp := exec.HandleRequest(context.Background(), &message.Request{MsgID: 1, Params: []any{int64(1), int64(0)}})
	if resp.Error != "division by zero" {
		t.Fatalf("unexpected response %#v", resp)
	}

	if _, err := r.RegisterService(Arith{}); err == nil {
		t.Fatal("non-pointer service accepted")
	}
}

func TestSessionContext(t *testing.T) {
	if _, ok := SessionFrom(context.Background()); ok {
		t.Fatal("session found in empty context")
	}
	ctx := WithSession(context.Background(), nil)
	if _, ok := SessionFrom(ctx); ok {
		t.Fatal("nil session reported")
	}
}
