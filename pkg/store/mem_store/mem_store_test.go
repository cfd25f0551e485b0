package mem_store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/store"
)

const testIdent = record.Identity("yryyyyyyyeh6dtmbfuec8m3fh3h469qmrsr193t4c6yps44tk1sdwjyd")

func newReq(keys ...string) *record.PublishRequest {
	entries := make(map[string]record.Entry, len(keys))
	for _, k := range keys {
		entries[k] = record.Entry{TTL: 10, Data: json.RawMessage(fmt.Sprintf("%q", k))}
	}
	return &record.PublishRequest{
		Identity:   testIdent,
		MissingTTL: 5,
		Entries:    entries,
	}
}

func TestMemStore_publishLookup(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewMemStore(nil)

	v, err := s.Publish(ctx, newReq("k1", "k2"))
	r.NoError(err)
	r.Equal(store.Version(1), v)

	res, err := s.Lookup(ctx, testIdent, "k1")
	r.NoError(err)
	r.Equal(store.StateFound, res.State)
	r.JSONEq(`"k1"`, string(res.Data))
	r.Equal(time.Minute*10, res.TTL)

	// Key absent from the published set.
	res, err = s.Lookup(ctx, testIdent, "nope")
	r.NoError(err)
	r.Equal(store.StateMissing, res.State)
	r.Equal(time.Minute*5, res.MissingTTL)

	// Identity that never published.
	res, err = s.Lookup(ctx, "other", "k1")
	r.NoError(err)
	r.Equal(store.StateUnknownIdentity, res.State)
}

func TestMemStore_versionAdvances(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewMemStore(nil)

	for i := 1; i <= 3; i++ {
		v, err := s.Publish(ctx, newReq("k1"))
		r.NoError(err)
		r.Equal(store.Version(i), v)
	}
	r.Equal(store.Version(3), s.Version(testIdent))
	r.Equal(store.Version(0), s.Version("other"))
	r.Equal(1, s.Len())
}

func TestMemStore_replaceIsWholeSet(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewMemStore(nil)

	_, err := s.Publish(ctx, newReq("old"))
	r.NoError(err)
	_, err = s.Publish(ctx, newReq("new"))
	r.NoError(err)

	res, err := s.Lookup(ctx, testIdent, "old")
	r.NoError(err)
	r.Equal(store.StateMissing, res.State, "key from the previous set must be gone")

	res, err = s.Lookup(ctx, testIdent, "new")
	r.NoError(err)
	r.Equal(store.StateFound, res.State)
}

func TestMemStore_rejectsInvalid(t *testing.T) {
	s := NewMemStore(nil)
	req := newReq("k1")
	req.MissingTTL = 0
	_, err := s.Publish(context.Background(), req)
	require.Error(t, err)

	// Nothing was installed.
	res, err := s.Lookup(context.Background(), testIdent, "k1")
	require.NoError(t, err)
	require.Equal(t, store.StateUnknownIdentity, res.State)
}

func TestMemStore_requestMutationIsolated(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	s := NewMemStore(nil)

	req := newReq("k1")
	_, err := s.Publish(ctx, req)
	r.NoError(err)

	req.Entries["k2"] = record.Entry{TTL: 1, Data: json.RawMessage(`1`)}

	res, err := s.Lookup(ctx, testIdent, "k2")
	r.NoError(err)
	r.Equal(store.StateMissing, res.State)
}

// Lookups racing with publishes must observe a complete set: a found
// "a1" always carries set A's payload, never a half-written one. Run
// with -race.
func TestMemStore_atomicSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore(nil)

	setA := newReq("a1", "a2")
	setB := newReq("b1", "b2")
	if _, err := s.Publish(ctx, setA); err != nil {
		t.Fatal(err)
	}

	wg := sync.WaitGroup{}
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			req := setA
			if i%2 == 1 {
				req = setB
			}
			if _, err := s.Publish(ctx, req); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				res, err := s.Lookup(ctx, testIdent, "a1")
				if err != nil {
					t.Error(err)
					return
				}
				switch res.State {
				case store.StateFound:
					if string(res.Data) != `"a1"` {
						t.Errorf("found a1 with foreign data %s", res.Data)
						return
					}
				case store.StateMissing:
				default:
					t.Errorf("unexpected state %d", res.State)
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond * 50)
	close(stop)
	wg.Wait()
}
