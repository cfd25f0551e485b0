package publishfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/store"
	"github.com/spaghettinuum/spagh/pkg/store/mem_store"
)

const testIdent = record.Identity("yryyyyyyyeh6dtmbfuec8m3fh3h469qmrsr193t4c6yps44tk1sdwjyd")

const jsonDoc = `{
	"missing_ttl": 5,
	"data": {
		"dff50392-a569-4de4-9e66-e086af040f30": {"ttl": 10, "data": ["203.0.113.7"]},
		"30e4975d-e5e9-4a28-8b28-e09f87d4e0b2": {"ttl": 10, "data": "hello"}
	}
}`

const yamlDoc = `
missing_ttl: 5
data:
  dff50392-a569-4de4-9e66-e086af040f30:
    ttl: 10
    data: ["203.0.113.7"]
`

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newPublisher(t *testing.T, file string, s store.Store) *Publisher {
	t.Helper()
	p, err := NewPublisher(Opts{Identity: testIdent, File: file, Store: s})
	require.NoError(t, err)
	return p
}

func TestLoad_json(t *testing.T) {
	r := require.New(t)
	s := mem_store.NewMemStore(nil)
	p := newPublisher(t, writeDoc(t, "doc.json", jsonDoc), s)

	r.NoError(p.Load(context.Background()))

	res, err := s.Lookup(context.Background(), testIdent, record.KeyDNSA)
	r.NoError(err)
	r.Equal(store.StateFound, res.State)
	r.JSONEq(`["203.0.113.7"]`, string(res.Data))

	res, err = s.Lookup(context.Background(), testIdent, "absent")
	r.NoError(err)
	r.Equal(store.StateMissing, res.State)
	r.Equal(time.Minute*5, res.MissingTTL)
}

func TestLoad_yaml(t *testing.T) {
	r := require.New(t)
	s := mem_store.NewMemStore(nil)
	p := newPublisher(t, writeDoc(t, "doc.yaml", yamlDoc), s)

	r.NoError(p.Load(context.Background()))

	res, err := s.Lookup(context.Background(), testIdent, record.KeyDNSA)
	r.NoError(err)
	r.Equal(store.StateFound, res.State)
	r.JSONEq(`["203.0.113.7"]`, string(res.Data))
}

func TestLoad_invalid(t *testing.T) {
	s := mem_store.NewMemStore(nil)

	p := newPublisher(t, writeDoc(t, "doc.json", `{not json`), s)
	require.Error(t, p.Load(context.Background()))

	// Valid JSON, invalid document: zero missing_ttl.
	p = newPublisher(t, writeDoc(t, "doc2.json", `{"missing_ttl": 0, "data": {}}`), s)
	require.Error(t, p.Load(context.Background()))

	p = newPublisher(t, filepath.Join(t.TempDir(), "nope.json"), s)
	require.Error(t, p.Load(context.Background()))
}

func TestWatch_republishes(t *testing.T) {
	r := require.New(t)
	s := mem_store.NewMemStore(nil)
	file := writeDoc(t, "doc.json", jsonDoc)
	p := newPublisher(t, file, s)
	r.NoError(p.Load(context.Background()))
	r.Equal(store.Version(1), s.Version(testIdent))

	closeSignal := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		if err := p.Watch(closeSignal); err != nil {
			t.Error(err)
		}
	}()

	// Give the watcher a moment to attach, then rewrite the document.
	time.Sleep(time.Millisecond * 100)
	r.NoError(os.WriteFile(file, []byte(jsonDoc), 0o644))

	deadline := time.Now().Add(time.Second * 5)
	for s.Version(testIdent) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("document was not republished")
		}
		time.Sleep(time.Millisecond * 50)
	}

	close(closeSignal)
	<-watchDone
}

func TestNewPublisher_argChecks(t *testing.T) {
	s := mem_store.NewMemStore(nil)
	_, err := NewPublisher(Opts{File: "f", Store: s})
	require.Error(t, err)
	_, err = NewPublisher(Opts{Identity: testIdent, Store: s})
	require.Error(t, err)
	_, err = NewPublisher(Opts{Identity: testIdent, File: "f"})
	require.Error(t, err)
}
