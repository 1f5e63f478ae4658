package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/exportd/pkg/transport"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const relationsDoc = `peers_joined: true
peers:
  - name: nfs/1
    attributes:
      private-address: 10.0.0.2
requests_joined: true
requests:
  - application_name: web
    identifier: web/0
    addresses: [10.0.0.5, 10.0.0.6]
`

func TestNew_RequiresRelationsPath(t *testing.T) {
	_, err := New(afero.NewMemMapFs(), Config{})
	require.Error(t, err)
}

func TestListBeforeAnythingJoined(t *testing.T) {
	tr, err := New(afero.NewMemMapFs(), Config{RelationsPath: "/var/lib/exportd/relations.yaml"})
	require.NoError(t, err)

	_, err = tr.ListPeers(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotJoined)

	_, err = tr.ListMountRequests(context.Background())
	assert.ErrorIs(t, err, transport.ErrNotJoined)
}

func TestListFromDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/var/lib/exportd/relations.yaml", []byte(relationsDoc), 0o644))

	tr, err := New(fs, Config{RelationsPath: "/var/lib/exportd/relations.yaml"})
	require.NoError(t, err)

	peers, err := tr.ListPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transport.PeerUnit{
		{Name: "nfs/1", Attributes: map[string]string{"private-address": "10.0.0.2"}},
	}, peers)

	requests, err := tr.ListMountRequests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []transport.MountRequest{
		{ApplicationName: "web", Identifier: "web/0", Addresses: []string{"10.0.0.5", "10.0.0.6"}},
	}, requests)
}

func TestListMalformedDocument(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/relations.yaml", []byte("peers: [unterminated"), 0o644))

	tr, err := New(fs, Config{RelationsPath: "/relations.yaml"})
	require.NoError(t, err)

	_, err = tr.ListPeers(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrNotJoined)
}

func TestPublishWritesResponses(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr, err := New(fs, Config{RelationsPath: "/var/lib/exportd/relations.yaml"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, tr.Announce(ctx, transport.PeerUnit{Name: "nfs/0"}))

	mountpoint, host := "/srv/nfs/web", "10.0.0.1"
	require.NoError(t, tr.Publish(ctx, []transport.MountResponse{
		{Identifier: "web/0", ExportName: "web", Mountpoint: &mountpoint, Hostname: &host},
		{Identifier: "db/0", ExportName: "db"},
	}))

	doc, err := tr.readResponses()
	require.NoError(t, err)
	assert.Equal(t, "nfs/0", doc.Unit)
	require.Len(t, doc.Responses, 2)
	assert.Equal(t, "/srv/nfs/web", *doc.Responses[0].Mountpoint)
	assert.True(t, doc.Responses[1].IsWithdrawal())

	data, err := afero.ReadFile(fs, "/var/lib/exportd/responses.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "mountpoint: null")
}

func TestWatchReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relations.yaml")

	tr, err := New(afero.NewOsFs(), Config{RelationsPath: path})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := tr.Watch(ctx)
	require.NoError(t, err)

	// Files other than the relations document are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(relationsDoc), 0o644))

	select {
	case kind := <-changes:
		assert.Contains(t, []transport.ChangeKind{transport.PeersChanged, transport.RequestsChanged}, kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification received")
	}

	cancel()
	assert.Eventually(t, func() bool {
		for {
			select {
			case _, ok := <-changes:
				if !ok {
					return true
				}
			default:
				return false
			}
		}
	}, 5*time.Second, 10*time.Millisecond)
}
