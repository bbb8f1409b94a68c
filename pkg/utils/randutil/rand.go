package randutil

import (
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	src = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Uint64n returns a random value, used as a record version tag.
func Uint64n() uint64 {
	mu.Lock()
	defer mu.Unlock()
	return src.Uint64()
}
