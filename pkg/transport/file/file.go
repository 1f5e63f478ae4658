// Package file implements transport.Transport on a pair of YAML documents,
// for hosts where the relation data is delivered by an external agent
// (configuration management, a sidecar) instead of a live API.
//
// The relations document is read on every call:
//
//	peers_joined: true
//	peers:
//	  - name: nfs/1
//	    attributes:
//	      private-address: 10.0.0.2
//	requests_joined: true
//	requests:
//	  - application_name: web
//	    identifier: web/0
//	    addresses: [10.0.0.5]
//
// Responses are written to a separate document that this transport owns.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/marmos91/exportd/internal/logger"
	"github.com/marmos91/exportd/pkg/transport"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config configures the file transport.
type Config struct {
	// RelationsPath is the document holding peers and mount requests.
	RelationsPath string `mapstructure:"relations_path" validate:"required"`

	// ResponsesPath is where responses are written. Defaults to
	// responses.yaml next to RelationsPath.
	ResponsesPath string `mapstructure:"responses_path"`
}

// Relations is the relations document.
type Relations struct {
	PeersJoined    bool                     `yaml:"peers_joined"`
	Peers          []transport.PeerUnit     `yaml:"peers"`
	RequestsJoined bool                     `yaml:"requests_joined"`
	Requests       []transport.MountRequest `yaml:"requests"`
}

// Responses is the responses document.
type Responses struct {
	Unit      string                    `yaml:"unit,omitempty"`
	Responses []transport.MountResponse `yaml:"responses"`
}

// Transport reads relations from and writes responses to YAML files.
type Transport struct {
	fs            afero.Fs
	relationsPath string
	responsesPath string

	mu   sync.Mutex
	unit string
}

// New creates a file transport. A nil fs uses the operating system filesystem.
func New(fs afero.Fs, cfg Config) (*Transport, error) {
	if cfg.RelationsPath == "" {
		return nil, fmt.Errorf("relations_path is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	responsesPath := cfg.ResponsesPath
	if responsesPath == "" {
		responsesPath = filepath.Join(filepath.Dir(cfg.RelationsPath), "responses.yaml")
	}

	return &Transport{
		fs:            fs,
		relationsPath: cfg.RelationsPath,
		responsesPath: responsesPath,
	}, nil
}

// read loads the relations document. A missing document means nothing has
// joined yet.
func (t *Transport) read() (Relations, error) {
	var rel Relations

	data, err := afero.ReadFile(t.fs, t.relationsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rel, nil
		}
		return rel, fmt.Errorf("failed to read %s: %w", t.relationsPath, err)
	}

	if err := yaml.Unmarshal(data, &rel); err != nil {
		return rel, fmt.Errorf("failed to parse %s: %w", t.relationsPath, err)
	}
	return rel, nil
}

// ListPeers implements transport.PeerSource.
func (t *Transport) ListPeers(ctx context.Context) ([]transport.PeerUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := t.read()
	if err != nil {
		return nil, err
	}
	if !rel.PeersJoined {
		return nil, transport.ErrNotJoined
	}
	return rel.Peers, nil
}

// ListMountRequests implements transport.Transport.
func (t *Transport) ListMountRequests(ctx context.Context) ([]transport.MountRequest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rel, err := t.read()
	if err != nil {
		return nil, err
	}
	if !rel.RequestsJoined {
		return nil, transport.ErrNotJoined
	}
	return rel.Requests, nil
}

// Publish implements transport.Transport by rewriting the responses document.
func (t *Transport) Publish(ctx context.Context, responses []transport.MountResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	doc := Responses{Unit: t.unit, Responses: responses}
	t.mu.Unlock()

	if doc.Responses == nil {
		doc.Responses = []transport.MountResponse{}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode responses: %w", err)
	}

	if err := t.fs.MkdirAll(filepath.Dir(t.responsesPath), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(t.responsesPath), err)
	}

	tmp := t.responsesPath + ".tmp"
	if err := afero.WriteFile(t.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := t.fs.Rename(tmp, t.responsesPath); err != nil {
		return fmt.Errorf("failed to replace %s: %w", t.responsesPath, err)
	}
	return nil
}

// Announce implements transport.Announcer. The announcing unit's name is
// recorded in the responses document so the agent knows who wrote it.
func (t *Transport) Announce(ctx context.Context, unit transport.PeerUnit) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unit = unit.Name
	return ctx.Err()
}

// readResponses returns the last published responses document.
func (t *Transport) readResponses() (Responses, error) {
	var doc Responses

	data, err := afero.ReadFile(t.fs, t.responsesPath)
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("failed to parse %s: %w", t.responsesPath, err)
	}
	return doc, nil
}

// Watch implements transport.Watcher using fsnotify on the directory holding
// the relations document, so editors that replace the file are followed.
//
// Each change reports both kinds; the reconciler reads a fresh snapshot anyway.
func (t *Transport) Watch(ctx context.Context) (<-chan transport.ChangeKind, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	dir := filepath.Dir(t.relationsPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(t.relationsPath)
	out := make(chan transport.ChangeKind, 2)

	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
					!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
					continue
				}

				logger.Debug("Relations document changed: %s", event)
				for _, kind := range []transport.ChangeKind{transport.PeersChanged, transport.RequestsChanged} {
					select {
					case out <- kind:
					default:
					}
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Relations watcher error: %v", err)
			}
		}
	}()

	return out, nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	return nil
}
