package physical

import (
	"strings"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// QuoteIdentifier quotes a SQL identifier, dropping anything after a NUL.
func QuoteIdentifier(name string) string {
	end := strings.IndexRune(name, 0)
	if end > -1 {
		name = name[:end]
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// LockCount is the number of striped locks guarding cached keys.
const LockCount = 256

type LockEntry struct {
	sync.RWMutex
}

// CreateLocks returns the stripes in a fixed order. Callers holding more
// than one stripe must acquire them in slice order.
func CreateLocks() []*LockEntry {
	ret := make([]*LockEntry, LockCount)
	for i := range ret {
		ret[i] = new(LockEntry)
	}
	return ret
}

func LockIndexForKey(key string) uint8 {
	sum := blake2b.Sum256([]byte(key))
	return sum[0]
}

func LockForKey(locks []*LockEntry, key string) *LockEntry {
	return locks[LockIndexForKey(key)]
}
