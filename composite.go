// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

// defaultMaxComponents is the default CompositeByteBuffer component limit
// (spec §4.8).
const defaultMaxComponents = 16

// CompositeByteBuffer aggregates a bounded sequence of component buffers
// without copying their contents, retaining a reference to each one it
// holds (spec §4.8). It exposes a single IoVec gather descriptor over all
// of its components so the whole sequence can be written in one vectored
// I/O call.
type CompositeByteBuffer struct {
	_ noCopy

	allocator     *Allocator
	maxComponents int
	components    []*PooledByteBuffer
}

// NumComponents returns the number of components currently held.
func (c *CompositeByteBuffer) NumComponents() int { return len(c.components) }

// MaxComponents returns the configured component limit.
func (c *CompositeByteBuffer) MaxComponents() int { return c.maxComponents }

// AddComponent appends buf, retaining a reference of its own — the caller
// keeps ownership of the reference it already holds. Fails with
// ErrIndexOutOfRange once MaxComponents has been reached.
func (c *CompositeByteBuffer) AddComponent(buf *PooledByteBuffer) error {
	if len(c.components) >= c.maxComponents {
		return ErrIndexOutOfRange
	}
	if err := buf.Retain(1); err != nil {
		return err
	}
	c.components = append(c.components, buf)
	return nil
}

// Component returns the i'th component buffer.
func (c *CompositeByteBuffer) Component(i int) (*PooledByteBuffer, error) {
	if i < 0 || i >= len(c.components) {
		return nil, ErrIndexOutOfRange
	}
	return c.components[i], nil
}

// ReadableBytes returns the sum of readable bytes across all components.
func (c *CompositeByteBuffer) ReadableBytes() int {
	n := 0
	for _, comp := range c.components {
		n += comp.WriterIndex() - comp.ReaderIndex()
	}
	return n
}

// IoVec returns a gather descriptor over every component's readable bytes,
// suitable for a single vectored write.
func (c *CompositeByteBuffer) IoVec() []IoVec {
	return IoVecFromPooledBuffers(c.components)
}

// Release releases this composite's reference to every component and
// clears the component list. It is not itself pooled: CompositeByteBuffer
// is a thin, allocation-light collaborator over PooledByteBuffer, not a
// chunk-backed allocation in its own right.
func (c *CompositeByteBuffer) Release() error {
	for _, comp := range c.components {
		if err := comp.Release(1); err != nil {
			return err
		}
	}
	c.components = nil
	return nil
}
