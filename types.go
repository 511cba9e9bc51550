// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

// noCopy is a sentinel used to prevent copying of synchronization primitives.
// Embedded by value in types that must never be copied after first use
// (poolArena, poolChunk, BoundedPool, PooledByteBuffer, CompositeByteBuffer):
// go vet's copylocks check flags any
// accidental pass-by-value once a type implements sync.Locker this way.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
