package feed

// Reconciler merges fetched pages into a feed snapshot.
type Reconciler struct{}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Run merges page into existing and returns the new snapshot together with the number of
// page items that took part in the merge. For every ID the entry with the greatest
// Modified wins, ties going to the entry observed last; a winning deletion removes the ID.
// existing is left untouched.
func (r *Reconciler) Run(existing Snapshot, page *Page) (Snapshot, int) {
	if page == nil || len(page.Items) == 0 {
		return existing, 0
	}

	winners := make(map[string]Item, len(existing)+len(page.Items))
	for id, item := range existing {
		winners[id] = item
	}

	for _, item := range page.Items {
		current, ok := winners[item.ID]
		if ok && item.Modified.Compare(current.Modified) < 0 {
			continue
		}
		winners[item.ID] = item
	}

	merged := make(Snapshot, len(winners))
	for id, item := range winners {
		if item.State == StateDeleted {
			continue
		}
		item.State = StateUpdated
		merged[id] = item
	}

	return merged, len(page.Items)
}
