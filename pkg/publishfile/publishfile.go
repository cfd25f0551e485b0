package publishfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spaghettinuum/spagh/pkg/pool"
	"github.com/spaghettinuum/spagh/pkg/record"
	"github.com/spaghettinuum/spagh/pkg/store"
)

var nopLogger = zap.NewNop()

// debounce absorbs editor write bursts before re-publishing.
const debounce = time.Millisecond * 500

type Opts struct {
	// Identity the document is published under. Cannot be empty.
	Identity record.Identity

	// File is the publish document path, .json, .yaml or .yml.
	File string

	// Store cannot be nil.
	Store store.Store

	// A nil Logger disables logging.
	Logger *zap.Logger
}

// Publisher keeps the record set of one identity in sync with a
// document file: it publishes at startup and republishes whenever the
// file changes.
type Publisher struct {
	opts Opts
}

func NewPublisher(opts Opts) (*Publisher, error) {
	if len(opts.Identity) == 0 {
		return nil, errors.New("empty identity")
	}
	if len(opts.File) == 0 {
		return nil, errors.New("empty file path")
	}
	if opts.Store == nil {
		return nil, errors.New("nil store")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return &Publisher{opts: opts}, nil
}

// document is the on-disk publish request shape.
type document struct {
	MissingTTL uint32              `json:"missing_ttl" yaml:"missing_ttl"`
	Data       map[string]docEntry `json:"data" yaml:"data"`
}

type docEntry struct {
	TTL  uint32      `json:"ttl" yaml:"ttl"`
	Data interface{} `json:"data" yaml:"data"`
}

// Load reads, parses and publishes the document once.
func (p *Publisher) Load(ctx context.Context) error {
	req, err := p.parseFile()
	if err != nil {
		return err
	}
	version, err := p.opts.Store.Publish(ctx, req)
	if err != nil {
		return fmt.Errorf("publish %s: %w", p.opts.File, err)
	}
	p.opts.Logger.Info("publish document applied",
		zap.String("identity", p.opts.Identity.String()),
		zap.String("file", p.opts.File),
		zap.Uint64("version", uint64(version)),
	)
	return nil
}

// Watch republishes the document on every change until the close
// signal fires. The initial Load must have been done by the caller,
// so startup fails loudly on a broken document while watch-time
// errors only log.
func (p *Publisher) Watch(closeSignal <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files instead of writing
	// in place, which swaps the inode the watch would be bound to.
	if err := watcher.Add(filepath.Dir(p.opts.File)); err != nil {
		return fmt.Errorf("watch %s: %w", p.opts.File, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			pool.ReleaseTimer(timer)
		}
	}()
	for {
		select {
		case <-closeSignal:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.opts.File) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = pool.GetTimer(debounce)
				timerC = timer.C
			} else {
				pool.ResetAndDrainTimer(timer, debounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.opts.Logger.Warn("watcher error", zap.Error(err))
		case <-timerC:
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			if err := p.Load(ctx); err != nil {
				p.opts.Logger.Error("failed to republish document", zap.Error(err))
			}
			cancel()
		}
	}
}

func (p *Publisher) parseFile() (*record.PublishRequest, error) {
	b, err := os.ReadFile(p.opts.File)
	if err != nil {
		return nil, err
	}

	var doc document
	switch strings.ToLower(filepath.Ext(p.opts.File)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	}

	entries := make(map[string]record.Entry, len(doc.Data))
	for key, e := range doc.Data {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		entries[key] = record.Entry{TTL: e.TTL, Data: data}
	}

	return &record.PublishRequest{
		Identity:   p.opts.Identity,
		MissingTTL: doc.MissingTTL,
		Entries:    entries,
	}, nil
}
