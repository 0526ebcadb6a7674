package orchestrator

import (
	"fmt"
	"sync"

	"bimbingan_go/services/workflow"
)

// keyedMutex serialises work per entity inside one process. Entries are
// reference counted and dropped once nobody holds or waits for them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func entityKey(kind workflow.EntityKind, id uint) string {
	return fmt.Sprintf("%s:%d", kind, id)
}

func chapterSlotKey(submissionID uint, number int) string {
	return fmt.Sprintf("chapter-slot:%d:%d", submissionID, number)
}

func proposalKey(studentID uint) string {
	return fmt.Sprintf("proposal-of:%d", studentID)
}
