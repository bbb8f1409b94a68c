package storage

import (
	"time"
)

type StoreGroup byte

const (
	StoreGroupRecord StoreGroup = iota
	StoreGroupUnit
)

var (
	StoreGroupToString = map[StoreGroup]string{
		StoreGroupRecord: "record",
		StoreGroupUnit:   "unit",
	}
	StoreGroupFromString = map[string]StoreGroup{
		"record": StoreGroupRecord,
		"unit":   StoreGroupUnit,
	}
)

// resources
const (
	// record
	Curves       = "curve"
	Events       = "event"
	Temperatures = "temperature"
	Discharges   = "discharge"

	// unit
	Units = "unit"
)

var groupDirs = map[StoreGroup][]string{
	StoreGroupRecord: {Curves, Events, Temperatures, Discharges},
	StoreGroupUnit:   {Units},
}

type Getter interface {
	Get(key string) (interface{}, error)
}

type Lister interface {
	List(key string) (interface{}, error)
}

type Creater interface {
	Create(key string, obj interface{}) (interface{}, error)
}

type Updater interface {
	Update(key, version string, obj interface{}) (interface{}, error)
}

type Deleter interface {
	Delete(key, version string) (interface{}, error)
}

type Storage interface {
	Getter
	Lister
	Creater
	Updater
	Deleter
}

type FileInfo struct {
	Path    string
	ModTime time.Time
}
