package dispatcher

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue(10)
	for i := 0; i < 5; i++ {
		ok, size := q.Enqueue(item{ts: day1, row: rowN(i)})
		assert.True(t, ok)
		assert.Equal(t, i+1, size)
	}

	got := q.Dequeue(3)
	assert.Equal(t, []string{"row-0", "row-1", "row-2"}, []string{got[0].row.InsertID, got[1].row.InsertID, got[2].row.InsertID})
	assert.Equal(t, 2, q.Size())

	got = q.Dequeue(10)
	assert.Len(t, got, 2)
	assert.Nil(t, q.Dequeue(1))
	assert.Zero(t, q.Size())
}

func TestQueueRejectsAtCapacity(t *testing.T) {
	q := newQueue(2)
	q.Enqueue(item{row: rowN(0)})
	q.Enqueue(item{row: rowN(1)})

	ok, size := q.Enqueue(item{row: rowN(2)})
	assert.False(t, ok)
	assert.Equal(t, 2, size)

	q.Dequeue(1)
	ok, _ = q.Enqueue(item{row: rowN(3)})
	assert.True(t, ok)
}

func TestQueueConcurrentAccess(t *testing.T) {
	q := newQueue(1000)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Enqueue(item{row: rowN(p*100 + i)})
			}
		}(p)
	}

	seen := map[string]bool{}
	var mu sync.Mutex
	for c := 0; c < 2; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				for _, it := range q.Dequeue(3) {
					mu.Lock()
					seen[it.row.InsertID] = true
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	for _, it := range q.Dequeue(q.Size()) {
		seen[it.row.InsertID] = true
	}
	assert.Len(t, seen, 400)
}
