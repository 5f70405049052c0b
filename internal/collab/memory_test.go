package collab

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTypeReflectorResolvesKnownType(t *testing.T) {
	r := NewStaticTypeReflector(map[string]TypeDescriptor{
		"ShapeType": {Name: "ShapeType", Signature: "struct{color:string,x:i32,y:i32}", Extensible: true},
	})

	td, err := r.Resolve(context.Background(), "ShapeType")
	require.NoError(t, err)
	assert.Equal(t, "ShapeType", td.Name)
	assert.True(t, td.Extensible)
}

func TestStaticTypeReflectorRejectsUnknownType(t *testing.T) {
	r := NewStaticTypeReflector(nil)

	_, err := r.Resolve(context.Background(), "Nonexistent")
	assert.Error(t, err)
}

func TestInMemoryCloudRegistryAdvertiseAndLookupRoundtrip(t *testing.T) {
	r := NewInMemoryCloudRegistry()
	ctx := context.Background()

	require.NoError(t, r.Advertise(ctx, 0, "guid-1", "239.255.0.1:7400"))
	require.NoError(t, r.Advertise(ctx, 0, "guid-1", "239.255.0.1:7401"))
	require.NoError(t, r.Advertise(ctx, 1, "guid-2", "239.255.1.1:7400"))

	domain0, err := r.Lookup(ctx, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"239.255.0.1:7400", "239.255.0.1:7401"}, domain0)

	domain1, err := r.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"239.255.1.1:7400"}, domain1)
}

func TestInMemoryCloudRegistryLookupUnknownDomainReturnsEmpty(t *testing.T) {
	r := NewInMemoryCloudRegistry()

	out, err := r.Lookup(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNoopTSNBackendAcceptsAnyTrafficClass(t *testing.T) {
	var b NoopTSNBackend
	assert.NoError(t, b.ApplyTrafficClass(3, 7))
}

func TestFileRecordingLifecycleOpenNextNamesSequentially(t *testing.T) {
	dir := t.TempDir()
	f := NewFileRecordingLifecycle(dir)
	ctx := context.Background()

	w1, path1, err := f.OpenNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture-0000.hdds"), filepath.Clean(path1))

	w2, path2, err := f.OpenNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture-0001.hdds"), filepath.Clean(path2))

	n, err := w1.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = w1.Seek(0, 0)
	require.NoError(t, err)

	require.NoError(t, f.Close(ctx, path1))
	require.NoError(t, f.Close(ctx, path2))

	data, err := os.ReadFile(path1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestFileRecordingLifecycleCloseUnknownPathErrors(t *testing.T) {
	f := NewFileRecordingLifecycle(t.TempDir())

	err := f.Close(context.Background(), "/no/such/path")
	assert.Error(t, err)
}

func TestFileRecordingLifecycleDoubleCloseErrors(t *testing.T) {
	dir := t.TempDir()
	f := NewFileRecordingLifecycle(dir)
	ctx := context.Background()

	_, path, err := f.OpenNext(ctx)
	require.NoError(t, err)

	require.NoError(t, f.Close(ctx, path))
	assert.Error(t, f.Close(ctx, path))
}

func TestFileRecordingLifecycleOpenNextFailsOnMissingDir(t *testing.T) {
	f := NewFileRecordingLifecycle(filepath.Join(t.TempDir(), "does-not-exist"))

	_, _, err := f.OpenNext(context.Background())
	assert.Error(t, err)
}
