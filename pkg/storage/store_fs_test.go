package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"harnscabinet/pkg/apis"
	"harnscabinet/pkg/runtime"
)

type unit struct {
	runtime.ObjectMeta
	Label string `json:"label"`
}

func TestFsClientLifecycle(t *testing.T) {
	root := t.TempDir()
	fc, err := NewFsClient(root, StoreGroupUnit)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(root, "unit", Units))

	key := filepath.Join(Units, "meta")
	obj := &unit{ObjectMeta: runtime.ObjectMeta{Name: "meta", Version: "10"}, Label: "A1"}
	_, err = fc.Create(key, obj)
	require.NoError(t, err)
	_, err = fc.Create(key, obj)
	assert.True(t, os.IsExist(err))

	data, err := fc.Get(key)
	require.NoError(t, err)
	var got unit
	require.NoError(t, json.Unmarshal(data.([]byte), &got))
	assert.Equal(t, "A1", got.Label)

	got.Label = "A2"
	_, err = fc.Update(key, "9", &got)
	assert.ErrorIs(t, err, apis.ErrMismatch)
	_, err = fc.Update(key, "10", &got)
	require.NoError(t, err)
	assert.NotEqual(t, "10", got.Version)

	objs, err := fc.List(Units)
	require.NoError(t, err)
	files := objs.([]*FileInfo)
	require.Len(t, files, 1)
	assert.False(t, files[0].ModTime.IsZero())

	_, err = fc.Delete(key, "10")
	assert.ErrorIs(t, err, apis.ErrMismatch)
	_, err = fc.Delete(key, got.Version)
	require.NoError(t, err)
	_, err = fc.Get(key)
	assert.True(t, os.IsNotExist(err))
}

func TestFsClientUnversionedDelete(t *testing.T) {
	fc, err := NewFsClient(t.TempDir(), StoreGroupRecord)
	require.NoError(t, err)
	key := filepath.Join(Events, "1.json")
	_, err = fc.Create(key, map[string]string{"a": "b"})
	require.NoError(t, err)

	_, err = fc.Delete(key, "")
	require.NoError(t, err)
	_, err = fc.Delete(key, "")
	assert.NoError(t, err)
}

func TestUnsupportedStoreGroup(t *testing.T) {
	_, err := NewFsClient(t.TempDir(), StoreGroup(9))
	assert.Error(t, err)
}
