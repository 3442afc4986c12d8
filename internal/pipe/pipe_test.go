// ABOUTME: Tests for chunks, the chunk pool and the pipe
// ABOUTME: Covers reserve/commit accounting, format locking and blocking allocation
package pipe

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

var s16 = audio.PCM(48000, 2, 16)

func TestReserveCommitAccounting(t *testing.T) {
	c := &Chunk{}

	region := c.Reserve(s16, 2*time.Second, 320)
	if len(region) != ChunkSize {
		t.Fatalf("expected %d writable bytes, got %d", ChunkSize, len(region))
	}
	if c.Time != 2*time.Second || c.BitRate != 320 {
		t.Errorf("first write should record time and bit rate, got %v %d", c.Time, c.BitRate)
	}

	if full := c.Commit(s16, 0); full {
		t.Error("empty commit should not fill the chunk")
	}
	if c.Length != 0 {
		t.Errorf("commit of zero changed length to %d", c.Length)
	}

	if full := c.Commit(s16, 400); full {
		t.Error("chunk should not be full after 400 bytes")
	}
	region = c.Reserve(s16, 3*time.Second, 320)
	if len(region) != ChunkSize-400 {
		t.Errorf("expected %d writable bytes, got %d", ChunkSize-400, len(region))
	}
	if c.Time != 2*time.Second {
		t.Error("later writes must not move the chunk timestamp")
	}

	if full := c.Commit(s16, len(region)); !full {
		t.Error("chunk should be full at capacity")
	}
	if c.Length != ChunkSize {
		t.Errorf("expected length %d, got %d", ChunkSize, c.Length)
	}
	if c.Reserve(s16, 0, 0) != nil {
		t.Error("reserve on a full chunk should return nil")
	}
}

func TestReserveRejectsFormatChange(t *testing.T) {
	c := &Chunk{}
	c.Reserve(s16, 0, 0)
	c.Commit(s16, 8)

	if c.Reserve(audio.PCM(44100, 2, 16), 0, 0) != nil {
		t.Error("reserve with a different format should return nil")
	}
	if c.Length != 8 {
		t.Errorf("rejected reserve changed length to %d", c.Length)
	}
}

func TestReserveWholeFrames(t *testing.T) {
	c := &Chunk{}
	s32 := audio.PCM(48000, 2, 32)
	region := c.Reserve(s32, 0, 0)
	if len(region)%s32.FrameSize() != 0 {
		t.Errorf("region %d is not a whole number of frames", len(region))
	}
	if full := c.Commit(s32, len(region)); !full {
		t.Error("chunk with no room for another frame should report full")
	}
}

func TestSetTagOnlyOnEmptyChunk(t *testing.T) {
	c := &Chunk{}
	tg := &tag.Tag{Items: []tag.Item{{Type: tag.Title, Value: "x"}}}
	if !c.SetTag(tg) {
		t.Fatal("tag should attach to an empty chunk")
	}
	if c.SetTag(tg) {
		t.Error("second tag should be refused")
	}

	d := &Chunk{}
	d.Reserve(s16, 0, 0)
	d.Commit(s16, 4)
	if d.SetTag(tg) {
		t.Error("tag should not attach to a chunk holding PCM")
	}
}

func TestBufferAllocateBlocksUntilReturn(t *testing.T) {
	buf := NewBuffer(1)
	first, ok := buf.Allocate(nil)
	if !ok {
		t.Fatal("first allocation should succeed")
	}
	first.Reserve(s16, 0, 0)
	first.Commit(s16, 4)

	got := make(chan *Chunk)
	go func() {
		c, _ := buf.Allocate(nil)
		got <- c
	}()

	select {
	case <-got:
		t.Fatal("allocation should block on an exhausted pool")
	case <-time.After(20 * time.Millisecond):
	}

	buf.Return(first)
	select {
	case c := <-got:
		if c.Length != 0 || c.Format().IsDefined() {
			t.Error("returned chunk should be cleared")
		}
	case <-time.After(time.Second):
		t.Fatal("allocation did not resume after return")
	}
}

func TestBufferAllocateInterrupt(t *testing.T) {
	buf := NewBuffer(1)
	buf.TryAllocate()

	interrupt := make(chan struct{})
	done := make(chan bool)
	go func() {
		_, ok := buf.Allocate(interrupt)
		done <- ok
	}()
	close(interrupt)

	select {
	case ok := <-done:
		if ok {
			t.Error("interrupted allocation should fail")
		}
	case <-time.After(time.Second):
		t.Fatal("interrupt did not wake allocation")
	}
}

func TestPipeOrderAndClear(t *testing.T) {
	buf := NewBuffer(4)
	p := New(buf)

	for i := 0; i < 3; i++ {
		c := buf.TryAllocate()
		c.Reserve(s16, time.Duration(i)*time.Second, 0)
		c.Commit(s16, 4)
		p.Push(c)
	}

	first := <-p.C()
	if first.Time != 0 {
		t.Errorf("expected first chunk at 0, got %v", first.Time)
	}
	buf.Return(first)

	if n := p.Clear(buf); n != 2 {
		t.Errorf("expected 2 cleared chunks, got %d", n)
	}
	if buf.Free() != 4 {
		t.Errorf("expected all chunks free, got %d", buf.Free())
	}

	p.Close()
	p.Close()
	if _, ok := <-p.C(); ok {
		t.Error("closed empty pipe should yield no chunk")
	}
	if p.Push(buf.TryAllocate()) {
		t.Error("push after close should be refused")
	}
}
