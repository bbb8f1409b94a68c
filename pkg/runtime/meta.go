package runtime

import (
	"errors"
	"strconv"
	"time"

	"harnscabinet/pkg/utils/randutil"
	"harnscabinet/pkg/utils/uuidutil"
)

var ErrNotObject = errors.New("object does not carry object metadata")

// Object is implemented by every persisted document through ObjectMeta.
type Object interface {
	GetName() string
	GetID() string
	GetVersion() string
	SetVersion(string)
	GetModTime() time.Time
	SetModTime(time.Time)
}

// ObjectMeta identifies a stored document. Version is an opaque token
// compared on update, it is exposed as the HTTP ETag.
type ObjectMeta struct {
	Name    string    `json:"name"`
	ID      string    `json:"id"`
	Version string    `json:"eTag"`
	ModTime time.Time `json:"modTime"`
}

func NewObjectMeta(name string) ObjectMeta {
	return ObjectMeta{
		Name:    name,
		ID:      uuidutil.UUID(),
		Version: strconv.FormatUint(randutil.Uint64n(), 10),
		ModTime: time.Now(),
	}
}

func (meta *ObjectMeta) GetName() string              { return meta.Name }
func (meta *ObjectMeta) GetID() string                { return meta.ID }
func (meta *ObjectMeta) GetVersion() string           { return meta.Version }
func (meta *ObjectMeta) SetVersion(version string)    { meta.Version = version }
func (meta *ObjectMeta) GetModTime() time.Time        { return meta.ModTime }
func (meta *ObjectMeta) SetModTime(modTime time.Time) { meta.ModTime = modTime }

// NextVersion returns a version that differs from current. Non-numeric
// versions restart from a random value.
func NextVersion(current string) string {
	v, err := strconv.ParseUint(current, 10, 64)
	if err != nil {
		return strconv.FormatUint(randutil.Uint64n(), 10)
	}
	return strconv.FormatUint(v+randutil.Uint64n()%100+1, 10)
}

func Accessor(obj interface{}) (Object, error) {
	if o, ok := obj.(Object); ok {
		return o, nil
	}
	return nil, ErrNotObject
}
