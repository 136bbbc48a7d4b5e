package client

import (
	"sync"

	"msgpack-rpc/codec"
	"msgpack-rpc/message"
	"msgpack-rpc/rpcerror"
)

// pendingTable maps in-flight identifiers to their futures and owns
// identifier allocation. The lock is never held across I/O.
type pendingTable struct {
	mu     sync.Mutex
	next   message.MsgID
	calls  map[message.MsgID]*Future
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[message.MsgID]*Future)}
}

// register allocates an identifier, encodes the request and inserts the
// future before the lock is released, so a response can never beat its entry.
// The counter wraps at MaxMsgID and skips identifiers that are still live.
func (t *pendingTable) register(method string, params []any) (*Future, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, nil, errStopped
	}
	if uint64(len(t.calls)) > uint64(message.MaxMsgID) {
		return nil, nil, rpcerror.New(rpcerror.UnexpectedError, "no free message id")
	}

	id := t.next
	for {
		if _, live := t.calls[id]; !live {
			break
		}
		id++
	}
	t.next = id + 1

	data, err := codec.PackRequest(id, method, params)
	if err != nil {
		return nil, nil, err
	}
	f := newFuture(id)
	f.method, f.table = method, t
	t.calls[id] = f
	return f, data, nil
}

// take removes and returns the future waiting on id.
func (t *pendingTable) take(id message.MsgID) (*Future, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return f, ok
}

// withdraw removes f if it is still pending. Exactly one of withdraw and
// take succeeds for a given future.
func (t *pendingTable) withdraw(f *Future) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.calls[f.id]; ok && cur == f {
		delete(t.calls, f.id)
		return true
	}
	return false
}

// drain empties the table and returns what was pending.
func (t *pendingTable) drain() []*Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drainLocked()
}

// close drains the table and rejects later registrations.
func (t *pendingTable) close() []*Future {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return t.drainLocked()
}

func (t *pendingTable) drainLocked() []*Future {
	out := make([]*Future, 0, len(t.calls))
	for _, f := range t.calls {
		out = append(out, f)
	}
	clear(t.calls)
	return out
}

func (t *pendingTable) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
