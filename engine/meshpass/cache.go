package meshpass

import (
	"log"

	"github.com/cogentcore/webgpu/wgpu"
)

// CachedMeshDrawCommandInfo records where a static mesh's cached command lives in a pass list.
// Exactly one of CommandIndex and StateBucketID is valid; the other is -1.
type CachedMeshDrawCommandInfo struct {
	Pass            Pass
	StaticMeshIndex int
	CommandIndex    int32
	StateBucketID   int32
	PipelineID      PipelineID
	SortKey         SortKey
	FillMode        FillMode
	CullMode        wgpu.CullMode
}

type stateBucket struct {
	cmd  *MeshDrawCommand
	key  string
	refs int
}

// CachedPassMeshDrawList owns the cached commands of one pass. Commands that can be dynamically
// instanced are deduplicated into reference-counted state buckets; the rest live in a flat list
// with a free list. Mutated only while the scene holds its write lock.
type CachedPassMeshDrawList struct {
	pass Pass

	commands []*MeshDrawCommand
	free     []int32

	buckets     []stateBucket
	bucketIndex map[string]int32
	freeBuckets []int32
}

// NewCachedPassMeshDrawList creates an empty list for a pass.
func NewCachedPassMeshDrawList(pass Pass) *CachedPassMeshDrawList {
	return &CachedPassMeshDrawList{
		pass:        pass,
		bucketIndex: make(map[string]int32),
	}
}

// Pass returns the pass the list caches commands for.
func (l *CachedPassMeshDrawList) Pass() Pass {
	return l.pass
}

// Add stores a command and returns its location.
//
// Parameters:
//   - cmd: the built command
//   - useStateBucket: deduplicate byte-identical commands into a shared bucket
//
// Returns:
//   - commandIndex: index in the flat list, or -1
//   - stateBucketID: the bucket id, or -1
func (l *CachedPassMeshDrawList) Add(cmd MeshDrawCommand, useStateBucket bool) (commandIndex, stateBucketID int32) {
	if useStateBucket {
		key := cmd.BucketKey()
		if id, ok := l.bucketIndex[key]; ok {
			l.buckets[id].refs++
			return -1, id
		}
		b := stateBucket{cmd: &cmd, key: key, refs: 1}
		var id int32
		if n := len(l.freeBuckets); n > 0 {
			id = l.freeBuckets[n-1]
			l.freeBuckets = l.freeBuckets[:n-1]
			l.buckets[id] = b
		} else {
			id = int32(len(l.buckets))
			l.buckets = append(l.buckets, b)
		}
		l.bucketIndex[key] = id
		return -1, id
	}

	if n := len(l.free); n > 0 {
		idx := l.free[n-1]
		l.free = l.free[:n-1]
		l.commands[idx] = &cmd
		return idx, -1
	}
	l.commands = append(l.commands, &cmd)
	return int32(len(l.commands) - 1), -1
}

// Remove drops the reference described by info. A bucket is freed when its last reference goes.
//
// Parameters:
//   - info: the location returned when the command was cached
//
// Returns:
//   - bool: false if info did not name a live command
func (l *CachedPassMeshDrawList) Remove(info CachedMeshDrawCommandInfo) bool {
	if info.StateBucketID >= 0 {
		id := info.StateBucketID
		if int(id) >= len(l.buckets) || l.buckets[id].refs == 0 {
			log.Printf("[MeshPass] %s: remove of dead state bucket %d", l.pass, id)
			return false
		}
		b := &l.buckets[id]
		b.refs--
		if b.refs == 0 {
			delete(l.bucketIndex, b.key)
			*b = stateBucket{}
			l.freeBuckets = append(l.freeBuckets, id)
		}
		return true
	}

	idx := info.CommandIndex
	if idx < 0 || int(idx) >= len(l.commands) || l.commands[idx] == nil {
		log.Printf("[MeshPass] %s: remove of dead command %d", l.pass, idx)
		return false
	}
	l.commands[idx] = nil
	l.free = append(l.free, idx)
	return true
}

// Command returns the cached command described by info, or nil.
func (l *CachedPassMeshDrawList) Command(info CachedMeshDrawCommandInfo) *MeshDrawCommand {
	if info.StateBucketID >= 0 {
		if int(info.StateBucketID) < len(l.buckets) {
			return l.buckets[info.StateBucketID].cmd
		}
		return nil
	}
	if info.CommandIndex >= 0 && int(info.CommandIndex) < len(l.commands) {
		return l.commands[info.CommandIndex]
	}
	return nil
}

// NumCommands returns the number of live entries in the flat list.
func (l *CachedPassMeshDrawList) NumCommands() int {
	return len(l.commands) - len(l.free)
}

// NumStateBuckets returns the number of live state buckets.
func (l *CachedPassMeshDrawList) NumStateBuckets() int {
	return len(l.bucketIndex)
}

// BucketRefCount returns the number of cached commands sharing a bucket.
func (l *CachedPassMeshDrawList) BucketRefCount(id int32) int {
	if id < 0 || int(id) >= len(l.buckets) {
		return 0
	}
	return l.buckets[id].refs
}
