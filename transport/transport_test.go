package transport

import (
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestUnboundedFIFO(t *testing.T) {
	tx, rx := Unbounded[int]()

	for i := 1; i <= 3; i++ {
		require.NoError(t, tx.Send(i))
	}
	for i := 1; i <= 3; i++ {
		v, err := rx.TryRecv()
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	_, err := rx.TryRecv()
	assert.True(t, iox.IsWouldBlock(err))
}

func TestBoundedCapacity(t *testing.T) {
	tx, rx := Bounded[string](1)

	require.NoError(t, tx.TrySend("a"))
	assert.True(t, iox.IsWouldBlock(tx.TrySend("b")))

	v, err := rx.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	require.NoError(t, tx.TrySend("b"))
	v, err = rx.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestBoundedRejectsZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { Bounded[int](0) })
}

func TestBoundedSendBlocksUntilSpace(t *testing.T) {
	skipRace(t)
	tx, rx := Bounded[int](1)
	require.NoError(t, tx.Send(1))

	sent := make(chan error, 1)
	go func() { sent <- tx.Send(2) }()

	select {
	case <-sent:
		t.Fatal("send on a full queue returned early")
	case <-time.After(20 * time.Millisecond):
	}

	v, err := rx.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked send never completed")
	}
}

func TestBlockedSendAbortsWhenReceiverCloses(t *testing.T) {
	skipRace(t)
	tx, rx := Bounded[int](1)
	require.NoError(t, tx.Send(1))

	sent := make(chan error, 1)
	go func() { sent <- tx.Send(2) }()

	time.Sleep(10 * time.Millisecond)
	rx.Close()

	select {
	case err := <-sent:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked send did not observe the closed receiver")
	}
}

func TestDisconnectedAfterLastSenderCloses(t *testing.T) {
	tx, rx := Unbounded[int]()
	tx2 := tx.Clone()

	require.NoError(t, tx.Send(1))
	tx.Close()
	tx.Close()

	_, err := rx.TryRecv()
	require.NoError(t, err)

	_, err = rx.TryRecv()
	assert.True(t, iox.IsWouldBlock(err), "a live clone keeps the queue connected")

	require.NoError(t, tx2.Send(2))
	tx2.Close()

	v, err := rx.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = rx.TryRecv()
	assert.ErrorIs(t, err, ErrClosed)

	assert.ErrorIs(t, tx.Send(3), ErrClosed)
	closedClone := tx.Clone()
	assert.ErrorIs(t, closedClone.TrySend(3), ErrClosed)
}

func TestSendAfterReceiverClose(t *testing.T) {
	tx, rx := Unbounded[int]()
	rx.Close()

	assert.ErrorIs(t, tx.Send(1), ErrClosed)
	assert.ErrorIs(t, tx.TrySend(1), ErrClosed)
	_, err := rx.TryRecv()
	assert.ErrorIs(t, err, ErrClosed)
}

func testConcurrentProducers(t *testing.T, tx *Sender[int], rx *Receiver[int]) {
	const producers, perProducer = 8, 1000

	var g errgroup.Group
	for p := 0; p < producers; p++ {
		ptx := tx.Clone()
		base := p * perProducer
		g.Go(func() error {
			defer ptx.Close()
			for i := 0; i < perProducer; i++ {
				if err := ptx.Send(base + i); err != nil {
					return err
				}
			}
			return nil
		})
	}
	tx.Close()

	seen := make(map[int]bool, producers*perProducer)
	last := make(map[int]int, producers)
	for {
		v, err := rx.TryRecv()
		if err == ErrClosed {
			break
		}
		if iox.IsWouldBlock(err) {
			continue
		}
		require.NoError(t, err)
		assert.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true

		// per-producer order is preserved
		producer := v / perProducer
		if prev, ok := last[producer]; ok {
			assert.Less(t, prev, v)
		}
		last[producer] = v
	}

	require.NoError(t, g.Wait())
	assert.Len(t, seen, producers*perProducer)
}

func TestUnboundedConcurrentProducers(t *testing.T) {
	skipRace(t)
	tx, rx := Unbounded[int]()
	testConcurrentProducers(t, tx, rx)
}

func TestBoundedConcurrentProducers(t *testing.T) {
	skipRace(t)
	tx, rx := Bounded[int](16)
	testConcurrentProducers(t, tx, rx)
}

// countingQueue counts release calls on top of a real queue.
type countingQueue[T any] struct {
	queue[T]
	releases atomix.Uint32
}

func (q *countingQueue[T]) release() {
	q.releases.Add(1)
	q.queue.release()
}

func TestCloneRacingLastCloseReleasesOnce(t *testing.T) {
	for i := 0; i < 1000; i++ {
		stub := &node[int]{}
		list := &listQueue[int]{tail: stub}
		list.head.StoreRelease(stub)
		q := &countingQueue[int]{queue: list}
		tx, rx := newPair[int](q)

		done := make(chan struct{})
		go func() {
			defer close(done)
			tx.Close()
		}()
		clone := tx.Clone()
		<-done

		// a clone that lost the race is born closed
		if clone.closed.LoadAcquire() != 0 {
			assert.ErrorIs(t, clone.TrySend(1), ErrClosed)
		}
		clone.Close()

		require.Equal(t, uint32(1), q.releases.LoadAcquire(), "iteration %d", i)
		assert.Equal(t, uint32(0), tx.s.senders.LoadAcquire())
		_, err := rx.TryRecv()
		assert.ErrorIs(t, err, ErrClosed)
	}
}
