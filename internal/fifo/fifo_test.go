package fifo

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushPop(t *testing.T) {
	t.Run("pops in insertion order", func(t *testing.T) {
		q := New[int]()
		for i := 0; i < 100; i++ {
			require.True(t, q.Push(i))
		}

		assert.Equal(t, 100, q.Len())
		for want := 0; want < 100; want++ {
			got, ok := q.Pop()
			require.True(t, ok)
			assert.Equal(t, want, got)
		}
	})

	t.Run("pop blocks until push", func(t *testing.T) {
		q := New[string]()
		got := make(chan string, 1)

		go func() {
			v, _ := q.Pop()
			got <- v
		}()

		select {
		case <-got:
			t.Fatal("pop returned before push")
		case <-time.After(20 * time.Millisecond):
		}

		q.Push("x")
		select {
		case v := <-got:
			assert.Equal(t, "x", v)
		case <-time.After(time.Second):
			t.Fatal("pop did not return after push")
		}
	})
}

func TestQueue_PushAndSeal(t *testing.T) {
	q := New[int]()
	q.Push(1)
	require.True(t, q.PushAndSeal(2, 3))

	assert.True(t, q.Sealed())
	assert.False(t, q.Push(4), "push after seal must be rejected")
	assert.False(t, q.PushAndSeal(5), "second seal must be rejected")

	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}

	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestQueue_Discard(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)

	assert.Equal(t, 2, q.Discard())
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.False(t, q.Push(3))
}

func TestQueue_DiscardUnblocksPop(t *testing.T) {
	q := New[int]()
	done := make(chan bool, 1)

	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.Discard()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("pop still blocked after discard")
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := New[int]()
	var wg sync.WaitGroup

	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(i)
			}
		}()
	}

	wg.Wait()
	q.PushAndSeal()

	count := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		count++
	}

	assert.Equal(t, 2000, count)
}
