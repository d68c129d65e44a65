package modelsync

import (
	"sort"

	"github.com/corralhq/corral/pkg/models"
)

// Merge folds the per-provider batches into one record per (provider,
// model_id) key under a deterministic policy: an official record beats any
// unofficial one, a lower source priority beats a higher one, and a more
// recent fetch breaks remaining ties. The same inputs always produce the
// same catalog regardless of batch arrival order.
//
// The returned count is the number of losing records displaced by the
// policy.
func Merge(batches [][]models.ModelInfo) ([]models.ModelInfo, int) {
	winners := make(map[string]models.ModelInfo)
	conflicts := 0

	for _, batch := range batches {
		for _, record := range batch {
			canonicalize(&record)

			key := record.Key()
			current, seen := winners[key]
			if !seen {
				winners[key] = record
				continue
			}

			conflicts++
			if beats(&record, &current) {
				winners[key] = record
			}
		}
	}

	merged := make([]models.ModelInfo, 0, len(winners))
	for _, record := range winners {
		merged = append(merged, record)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Key() < merged[j].Key() })
	return merged, conflicts
}

// reconcile applies the merge policy between a run's records and the stored
// catalog, so a partial run (e.g. a single-provider sync) can never displace
// a stronger record that arrived in an earlier run. Records that lose to the
// stored entry are dropped. Contentions between different sources count as
// resolved conflicts whichever side wins; a same-source refresh does not.
func reconcile(existing map[string]models.ModelInfo, incoming []models.ModelInfo) ([]models.ModelInfo, int) {
	var keep []models.ModelInfo
	conflicts := 0

	for _, record := range incoming {
		stored, ok := existing[record.Key()]
		if !ok {
			keep = append(keep, record)
			continue
		}
		if stored.Official != record.Official || stored.SourcePriority != record.SourcePriority {
			conflicts++
		}
		if beats(&record, &stored) {
			keep = append(keep, record)
		}
	}
	return keep, conflicts
}

// beats reports whether a displaces b under the merge policy.
func beats(a, b *models.ModelInfo) bool {
	if a.Official != b.Official {
		return a.Official
	}
	if a.SourcePriority != b.SourcePriority {
		return a.SourcePriority < b.SourcePriority
	}
	return a.LastSynced.After(b.LastSynced)
}

// canonicalize normalizes a record so equal inputs compare equal: sorted,
// de-duplicated capability tags.
func canonicalize(m *models.ModelInfo) {
	if len(m.Capabilities) == 0 {
		return
	}
	seen := make(map[string]bool, len(m.Capabilities))
	tags := m.Capabilities[:0]
	for _, tag := range m.Capabilities {
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	m.Capabilities = tags
}
