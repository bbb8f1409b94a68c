package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/mod/sumdb"
	"harnscabinet/pkg/apis"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/utils/fileutil"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
)

const (
	dirMode  = 0711
	fileMode = 0640
)

// removeBackoff bounds the retries of an unversioned delete when another
// process holds the file.
var removeBackoff = wait.Backoff{
	Duration: 10 * time.Millisecond,
	Factor:   2,
	Steps:    5,
}

// FsClient keeps one JSON document per file under a store group
// directory. Versioned writes take an advisory lock on the file.
type FsClient struct {
	storePath string
}

var _ Storage = (*FsClient)(nil)

// NewFsClient prepares the directories of one store group under root.
// An empty root falls back to DefaultStorePath.
func NewFsClient(root string, sg StoreGroup) (*FsClient, error) {
	if len(root) == 0 {
		root = DefaultStorePath()
	}
	dirs, ok := groupDirs[sg]
	if !ok {
		return nil, fmt.Errorf("unsupported store group %d", sg)
	}

	fc := &FsClient{storePath: filepath.Join(root, StoreGroupToString[sg])}
	for _, dir := range dirs {
		p := fc.path(dir)
		if _, err := os.Stat(p); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, err
		}
		if err := os.MkdirAll(p, dirMode); err != nil {
			return nil, err
		}
		klog.V(2).InfoS("Created store directory", "path", p)
	}
	return fc, nil
}

func (fc *FsClient) Path() string {
	return fc.storePath
}

func (fc *FsClient) path(key string) string {
	return filepath.Join(fc.storePath, key)
}

func (fc *FsClient) Create(key string, obj interface{}) (interface{}, error) {
	f, err := os.OpenFile(fc.path(key), os.O_CREATE|os.O_RDWR|os.O_EXCL, fileMode)
	if err != nil {
		klog.V(2).InfoS("Failed to create file", "key", key, "err", err)
		return nil, err
	}
	defer f.Close()
	if err = json.NewEncoder(f).Encode(obj); err != nil {
		klog.V(2).InfoS("Failed to encode", "key", key, "err", err)
		return nil, err
	}
	return obj, nil
}

// Get returns the raw document bytes.
func (fc *FsClient) Get(key string) (interface{}, error) {
	data, err := os.ReadFile(fc.path(key))
	if err != nil {
		if !os.IsNotExist(err) {
			klog.V(2).InfoS("Failed to read", "key", key, "err", err)
		}
		return nil, err
	}
	return data, nil
}

// List returns a []*FileInfo for every file below key.
func (fc *FsClient) List(key string) (interface{}, error) {
	var files []*FileInfo
	err := filepath.Walk(fc.path(key), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, &FileInfo{Path: path, ModTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		klog.V(2).InfoS("Failed to list", "key", key, "err", err)
		return nil, err
	}
	return files, nil
}

// Delete removes key. An empty version skips the version check and
// ignores a missing file, which is what retention pruning needs.
func (fc *FsClient) Delete(key, version string) (interface{}, error) {
	if len(version) == 0 {
		return nil, fc.remove(key)
	}

	f, release, err := fc.openLocked(key, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer release()
	if err = checkVersion(f, version); err != nil {
		return nil, err
	}
	if err = os.Remove(fc.path(key)); err != nil {
		klog.V(2).InfoS("Failed to remove", "key", key, "err", err)
		return nil, apis.ErrInternal
	}
	return nil, nil
}

func (fc *FsClient) remove(key string) error {
	var lastErr error
	err := wait.ExponentialBackoff(removeBackoff, func() (bool, error) {
		lastErr = os.Remove(fc.path(key))
		switch {
		case lastErr == nil, os.IsNotExist(lastErr):
			return true, nil
		case isEphemeralError(lastErr):
			return false, nil
		default:
			return false, lastErr
		}
	})
	if wait.Interrupted(err) {
		err = lastErr
	}
	if err != nil {
		klog.V(5).InfoS("Failed to remove file", "key", key, "err", err)
	}
	return err
}

// Update overwrites key when version matches the stored document and
// assigns obj a new version.
func (fc *FsClient) Update(key, version string, obj interface{}) (interface{}, error) {
	accessor, err := runtime.Accessor(obj)
	if err != nil {
		return nil, err
	}

	f, release, err := fc.openLocked(key, os.O_RDWR)
	if err != nil {
		return nil, err
	}
	defer release()
	if err = checkVersion(f, version); err != nil {
		return nil, err
	}
	accessor.SetVersion(runtime.NextVersion(version))

	if err = f.Truncate(0); err != nil {
		klog.V(2).InfoS("Failed to truncate", "key", key, "err", err)
		return nil, apis.ErrInternal
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		klog.V(2).InfoS("Failed to seek", "key", key, "err", err)
		return nil, apis.ErrInternal
	}
	if err = json.NewEncoder(f).Encode(obj); err != nil {
		klog.V(2).InfoS("Failed to encode", "key", key, "err", err)
		return nil, apis.ErrInternal
	}
	return obj, nil
}

// openLocked opens key and takes the file lock. A busy file reports
// sumdb.ErrWriteConflict so callers can retry.
func (fc *FsClient) openLocked(key string, flag int) (*os.File, func(), error) {
	f, err := os.OpenFile(fc.path(key), flag, fileMode)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, nil, os.ErrNotExist
		case isEphemeralError(err):
			klog.V(2).InfoS("File busy", "key", key, "err", err)
			return nil, nil, sumdb.ErrWriteConflict
		}
		return nil, nil, err
	}
	lock, err := fileutil.NewLock(f)
	if err != nil {
		f.Close()
		klog.V(2).InfoS("Failed to lock", "key", key, "err", err)
		return nil, nil, sumdb.ErrWriteConflict
	}
	return f, func() {
		lock.Release()
		f.Close()
	}, nil
}

func checkVersion(r io.Reader, version string) error {
	var stored struct {
		runtime.ObjectMeta
	}
	if err := json.NewDecoder(r).Decode(&stored); err != nil {
		klog.V(2).InfoS("Failed to decode stored object", "err", err)
		return apis.ErrInternal
	}
	if stored.Version != version {
		return apis.ErrMismatch
	}
	return nil
}
