package exports

import (
	"os"
	"testing"

	"github.com/marmos91/exportd/pkg/transport"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOptions = "rw,sync,no_subtree_check"

func TestBuild_SingleRequester(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewBuilder(fs)

	table, err := b.Build([]transport.MountRequest{
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}},
	}, "/srv/nfs", testOptions)
	require.NoError(t, err)

	assert.Equal(t, Table{Entries: []Entry{
		{Path: "/srv/nfs/web", Addresses: []string{"10.0.0.5"}, Options: testOptions},
	}}, table)

	info, err := fs.Stat("/srv/nfs/web")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, ExportDirMode, info.Mode().Perm())
}

func TestBuild_MergesSameApplication(t *testing.T) {
	b := NewBuilder(afero.NewMemMapFs())

	table, err := b.Build([]transport.MountRequest{
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.6", "10.0.0.5"}},
		{ApplicationName: "web", Identifier: "web:1", Addresses: []string{"10.0.0.5", "10.0.0.7"}},
	}, "/srv/nfs", testOptions)
	require.NoError(t, err)

	require.Len(t, table.Entries, 1)
	assert.Equal(t, "/srv/nfs/web", table.Entries[0].Path)
	assert.Equal(t, []string{"10.0.0.5", "10.0.0.6", "10.0.0.7"}, table.Entries[0].Addresses)
}

func TestBuild_SortedByPath(t *testing.T) {
	b := NewBuilder(afero.NewMemMapFs())

	table, err := b.Build([]transport.MountRequest{
		{ApplicationName: "zeta", Identifier: "z", Addresses: []string{"10.0.0.1"}},
		{ApplicationName: "alpha", Identifier: "a", Addresses: []string{"10.0.0.2"}},
		{ApplicationName: "mid", Identifier: "m", Addresses: []string{"10.0.0.3"}},
	}, "/srv/nfs", testOptions)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/nfs/alpha", "/srv/nfs/mid", "/srv/nfs/zeta"}, table.Paths())
}

func TestBuild_SkipsRequestsWithoutName(t *testing.T) {
	fs := afero.NewMemMapFs()
	b := NewBuilder(fs)

	table, err := b.Build([]transport.MountRequest{
		{ApplicationName: "", Identifier: "broken", Addresses: []string{"10.0.0.9"}},
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}},
	}, "/srv/nfs", testOptions)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/nfs/web"}, table.Paths())

	exists, err := afero.DirExists(fs, "/srv/nfs")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBuild_EmptyInput(t *testing.T) {
	b := NewBuilder(afero.NewMemMapFs())

	table, err := b.Build(nil, "/srv/nfs", testOptions)
	require.NoError(t, err)
	assert.True(t, table.Empty())
}

func TestBuild_KeepsEntryWithoutAddresses(t *testing.T) {
	b := NewBuilder(afero.NewMemMapFs())

	table, err := b.Build([]transport.MountRequest{
		{ApplicationName: "web", Identifier: "web:0"},
	}, "/srv/nfs", testOptions)
	require.NoError(t, err)

	require.Len(t, table.Entries, 1)
	assert.Empty(t, table.Entries[0].Addresses)
}

func TestBuild_LeavesExistingDirectoryAlone(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/srv/nfs/web", 0o700))
	b := NewBuilder(fs)

	requests := []transport.MountRequest{
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}},
	}

	first, err := b.Build(requests, "/srv/nfs", testOptions)
	require.NoError(t, err)
	second, err := b.Build(requests, "/srv/nfs", testOptions)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	info, err := fs.Stat("/srv/nfs/web")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestBuild_DirectoryCreationFailure(t *testing.T) {
	b := NewBuilder(afero.NewReadOnlyFs(afero.NewMemMapFs()))

	_, err := b.Build([]transport.MountRequest{
		{ApplicationName: "web", Identifier: "web:0", Addresses: []string{"10.0.0.5"}},
	}, "/srv/nfs", testOptions)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/srv/nfs/web")
}
