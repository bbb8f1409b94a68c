package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/storage"
	"k8s.io/klog/v2"
)

const DefaultRetention = 2000

var ErrUnknownRecordKind = errors.New("unknown record kind")

// RecordStore keeps records as one JSON file each, grouped by kind. File
// names start with the zero padded creation time so that name order is
// age order.
type RecordStore struct {
	client    *storage.FsClient
	retention int

	mu sync.Mutex
}

var _ runtime.Persister = (*RecordStore)(nil)

func NewRecordStore(root string, retention int) (*RecordStore, error) {
	client, err := storage.NewFsClient(root, storage.StoreGroupRecord)
	if err != nil {
		return nil, err
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RecordStore{client: client, retention: retention}, nil
}

func (s *RecordStore) Retention() int {
	return s.retention
}

func recordKey(rec *runtime.Record) string {
	return filepath.Join(string(rec.Kind), fmt.Sprintf("%020d.%s.json", rec.ModTime.UnixNano(), rec.ID))
}

func (s *RecordStore) Persist(ctx context.Context, rec *runtime.Record) error {
	if _, ok := runtime.RecordKinds[string(rec.Kind)]; !ok {
		return errors.Wrapf(ErrUnknownRecordKind, "persist %q", rec.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.client.Create(recordKey(rec), rec); err != nil {
		return errors.Wrapf(err, "persist %s record", rec.Kind)
	}
	klog.V(4).InfoS("Persisted record", "kind", rec.Kind, "id", rec.ID)
	s.prune(rec.Kind)
	return nil
}

// Load returns up to limit records of kind, newest first. A limit of zero
// or less returns every record kept.
func (s *RecordStore) Load(kind runtime.RecordKind, limit int) ([]*runtime.Record, error) {
	if _, ok := runtime.RecordKinds[string(kind)]; !ok {
		return nil, errors.Wrapf(ErrUnknownRecordKind, "load %q", kind)
	}
	s.mu.Lock()
	files, err := s.files(kind)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	ret := make([]*runtime.Record, 0, len(files))
	for i := len(files) - 1; i >= 0; i-- {
		if limit > 0 && len(ret) >= limit {
			break
		}
		rec, err := readRecord(files[i].Path)
		if err != nil {
			klog.V(3).InfoS("Failed to unmarshal", "file", files[i].Path, "kind", kind, "err", err)
			continue
		}
		ret = append(ret, rec)
	}
	return ret, nil
}

// files lists the records of kind sorted oldest first.
func (s *RecordStore) files(kind runtime.RecordKind) ([]*storage.FileInfo, error) {
	objs, err := s.client.List(string(kind))
	if err != nil {
		return nil, err
	}
	files, _ := objs.([]*storage.FileInfo)
	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i].Path) < filepath.Base(files[j].Path)
	})
	return files, nil
}

func (s *RecordStore) prune(kind runtime.RecordKind) {
	files, err := s.files(kind)
	if err != nil || len(files) <= s.retention {
		return
	}
	for _, file := range files[:len(files)-s.retention] {
		key, err := filepath.Rel(s.client.Path(), file.Path)
		if err != nil {
			continue
		}
		if _, err = s.client.Delete(key, ""); err != nil {
			klog.V(2).InfoS("Failed to prune record", "key", key, "err", err)
		}
	}
}

func readRecord(path string) (*runtime.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rec := &runtime.Record{}
	if err = json.NewDecoder(f).Decode(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
