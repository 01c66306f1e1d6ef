package library

// SyncPlan is the difference between the index and the filesystem.
type SyncPlan struct {
	// Ghosts are indexed paths with no file behind them, keyed to their
	// record IDs.
	Ghosts map[string]int64
	// Moles are on-disk media files the index does not know about.
	Moles []Entry
}

// Reconcile computes the sync plan from the indexed path set and the
// walked filesystem entries. It is a pure set difference: content is
// not consulted here, only paths.
func Reconcile(indexed map[string]int64, found []Entry) SyncPlan {
	plan := SyncPlan{Ghosts: make(map[string]int64)}

	onDisk := make(map[string]struct{}, len(found))
	for _, e := range found {
		onDisk[e.RelPath] = struct{}{}
		if _, ok := indexed[e.RelPath]; !ok {
			plan.Moles = append(plan.Moles, e)
		}
	}

	for path, id := range indexed {
		if _, ok := onDisk[path]; !ok {
			plan.Ghosts[path] = id
		}
	}

	return plan
}

// InSync reports whether the plan requires no work.
func (p SyncPlan) InSync() bool {
	return len(p.Ghosts) == 0 && len(p.Moles) == 0
}
