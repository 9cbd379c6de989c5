package watch

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettle = 20 * time.Millisecond

// recvBatch waits for one batch or fails the test.
func recvBatch(t *testing.T, c *Coalescer) ChangeBatch {
	t.Helper()

	select {
	case b := <-c.Batches():
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a batch")
		return ChangeBatch{}
	}
}

// ---------------------------------------------------------------------------
// Settling
// ---------------------------------------------------------------------------

func TestCoalescer_SingleChange(t *testing.T) {
	c := NewCoalescer(testSettle)
	defer c.Stop()

	c.Add(FileChange{Path: "index.html", Kind: KindModified})

	b := recvBatch(t, c)
	assert.Equal(t, uint64(1), b.Sequence)
	require.Len(t, b.Changes, 1)
	assert.Equal(t, "index.html", b.Changes[0].Path)
	assert.Equal(t, KindModified, b.Changes[0].Kind)
	assert.False(t, b.SettledAt.IsZero())
}

func TestCoalescer_BurstSettlesIntoOneBatch(t *testing.T) {
	c := NewCoalescer(testSettle)
	defer c.Stop()

	for i := 0; i < 20; i++ {
		c.Add(FileChange{Path: fmt.Sprintf("out/file%02d.js", i), Kind: KindCreated})
	}

	b := recvBatch(t, c)
	assert.Equal(t, uint64(1), b.Sequence)
	assert.Len(t, b.Changes, 20)

	// No second batch follows a single burst.
	select {
	case extra := <-c.Batches():
		t.Fatalf("unexpected extra batch %d", extra.Sequence)
	case <-time.After(3 * testSettle):
	}
}

func TestCoalescer_DedupKeepsLatestKindFirstSeenOrder(t *testing.T) {
	c := NewCoalescer(testSettle)
	defer c.Stop()

	c.Add(FileChange{Path: "a.css", Kind: KindCreated})
	c.Add(FileChange{Path: "b.css", Kind: KindModified})
	c.Add(FileChange{Path: "a.css", Kind: KindModified})
	c.Add(FileChange{Path: "a.css", Kind: KindRemoved})

	b := recvBatch(t, c)
	require.Len(t, b.Changes, 2)
	assert.Equal(t, "a.css", b.Changes[0].Path)
	assert.Equal(t, KindRemoved, b.Changes[0].Kind)
	assert.Equal(t, "b.css", b.Changes[1].Path)
	assert.Equal(t, KindModified, b.Changes[1].Kind)
}

// ---------------------------------------------------------------------------
// Sequence numbering
// ---------------------------------------------------------------------------

func TestCoalescer_SequenceIncreasesAcrossBatches(t *testing.T) {
	c := NewCoalescer(testSettle)
	defer c.Stop()

	c.Add(FileChange{Path: "one.txt", Kind: KindCreated})
	first := recvBatch(t, c)

	c.Add(FileChange{Path: "two.txt", Kind: KindCreated})
	second := recvBatch(t, c)

	assert.Equal(t, uint64(1), first.Sequence)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, uint64(2), c.Sequence())
}

// ---------------------------------------------------------------------------
// Force flush
// ---------------------------------------------------------------------------

func TestCoalescer_ForceFlushAtCapacity(t *testing.T) {
	// A settle window far longer than the test ensures the flush can only
	// come from the pending-set cap.
	c := NewCoalescer(time.Hour)
	defer c.Stop()

	done := make(chan struct{})

	go func() {
		defer close(done)

		for i := 0; i < maxPending; i++ {
			c.Add(FileChange{Path: fmt.Sprintf("gen/f%05d", i), Kind: KindCreated})
		}
	}()

	b := recvBatch(t, c)
	assert.Equal(t, uint64(1), b.Sequence)
	assert.Len(t, b.Changes, maxPending)

	<-done
}

// ---------------------------------------------------------------------------
// Stop
// ---------------------------------------------------------------------------

func TestCoalescer_StopDiscardsPending(t *testing.T) {
	c := NewCoalescer(testSettle)

	c.Add(FileChange{Path: "late.txt", Kind: KindModified})
	c.Stop()

	select {
	case b := <-c.Batches():
		t.Fatalf("unexpected batch %d after Stop", b.Sequence)
	case <-time.After(3 * testSettle):
	}
}

func TestCoalescer_AddAfterStopIsNoop(t *testing.T) {
	c := NewCoalescer(testSettle)
	c.Stop()

	c.Add(FileChange{Path: "x", Kind: KindCreated})
	assert.Equal(t, uint64(0), c.Sequence())
}

func TestCoalescer_StopIsIdempotent(t *testing.T) {
	c := NewCoalescer(testSettle)
	c.Stop()
	c.Stop()

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

func TestNewCoalescer_DefaultSettle(t *testing.T) {
	c := NewCoalescer(0)
	defer c.Stop()
	assert.Equal(t, DefaultSettle, c.settle)

	c2 := NewCoalescer(-time.Second)
	defer c2.Stop()
	assert.Equal(t, DefaultSettle, c2.settle)
}
