package meshpass

import (
	"cmp"
	"slices"
)

// CommandAllocator provides frame-lifetime storage for commands created while merging.
type CommandAllocator interface {
	NewCommand(cmd MeshDrawCommand) *MeshDrawCommand
}

type heapAllocator struct{}

func (heapAllocator) NewCommand(cmd MeshDrawCommand) *MeshDrawCommand {
	return &cmd
}

// CompareVisibleCommands orders commands by sort key, then by state bucket so instanceable
// commands end up adjacent.
func CompareVisibleCommands(a, b VisibleMeshDrawCommand) int {
	if c := cmp.Compare(a.SortKey, b.SortKey); c != 0 {
		return c
	}
	return cmp.Compare(a.StateBucketID, b.StateBucketID)
}

// SortVisibleCommands sorts commands in place. The sort is stable so equal keys keep their
// collection order.
func SortVisibleCommands(cmds []VisibleMeshDrawCommand) {
	slices.SortStableFunc(cmds, CompareVisibleCommands)
}

// BuildPrimitiveIDBuffer writes the primitive id of every visible command into a per-pass id
// buffer and, when dynamic instancing is on, merges runs of adjacent commands that share a state
// bucket into one instanced command.
//
// A run is merged only when its first command can take per-instance ids through a primitive id
// stream and draws a single instance. Every later member must also match the first for dynamic
// instancing, so a bucket id shared by mismatching commands never merges them. The merged command is a copy owned by alloc; the cached
// command is never modified.
//
// Parameters:
//   - dynamicInstancing: merge adjacent same-bucket commands
//   - cmds: the sorted visible commands
//   - alloc: storage for merged commands, nil allocates on the heap
//
// Returns:
//   - out: the commands to submit, with PrimitiveIDBufferOffset filled in
//   - primitiveIDs: one entry per input command, in order
//   - maxInstances: the largest instance count among the output commands
func BuildPrimitiveIDBuffer(dynamicInstancing bool, cmds []VisibleMeshDrawCommand, alloc CommandAllocator) (out []VisibleMeshDrawCommand, primitiveIDs []int32, maxInstances uint32) {
	if alloc == nil {
		alloc = heapAllocator{}
	}
	out = make([]VisibleMeshDrawCommand, 0, len(cmds))
	primitiveIDs = make([]int32, 0, len(cmds))

	var (
		instanced *MeshDrawCommand
		// head is the unmerged first command of the run being instanced.
		head *MeshDrawCommand
	)
	for i := range cmds {
		vc := cmds[i]
		offset := int32(len(primitiveIDs))
		primitiveIDs = append(primitiveIDs, vc.PrimitiveID)

		if instanced != nil && vc.StateBucketID == out[len(out)-1].StateBucketID && head.MatchesForDynamicInstancing(vc.Command) {
			instanced.NumInstances++
			maxInstances = max(maxInstances, instanced.NumInstances)
			continue
		}

		instanced, head = nil, nil
		vc.PrimitiveIDBufferOffset = offset

		if dynamicInstancing &&
			vc.StateBucketID != -1 &&
			vc.Command.PrimitiveIDStreamIndex >= 0 &&
			vc.Command.NumInstances == 1 &&
			i+1 < len(cmds) &&
			cmds[i+1].StateBucketID == vc.StateBucketID &&
			vc.Command.MatchesForDynamicInstancing(cmds[i+1].Command) {
			head = vc.Command
			instanced = alloc.NewCommand(*vc.Command)
			vc.Command = instanced
		}

		maxInstances = max(maxInstances, vc.Command.NumInstances)
		out = append(out, vc)
	}
	return out, primitiveIDs, maxInstances
}
