package knowledge

// MergeStats reports what a merge changed.
type MergeStats struct {
	Added   int
	Updated int
}

// Merge folds a gated extraction into the knowledge base. Facts are
// matched by identity key; new facts append, matching facts update only
// when the incoming confidence is at least the stored one. Attribute
// maps are deep-merged so a partial re-observation never erases detail
// learned earlier. Returns what changed.
func Merge(base *Base, incoming *Extraction) MergeStats {
	var stats MergeStats
	if base == nil || incoming == nil {
		return stats
	}

	if incoming.DisplayName != "" {
		if base.DisplayName != incoming.DisplayName {
			stats.Updated++
		}
		base.DisplayName = incoming.DisplayName
	}

	for _, in := range incoming.Entities {
		idx := -1
		for i, e := range base.Entities {
			if e.identity() == in.identity() {
				idx = i
				break
			}
		}
		if idx < 0 {
			base.Entities = append(base.Entities, in)
			stats.Added++
			continue
		}
		if in.Confidence >= base.Entities[idx].Confidence {
			in.Attributes = mergeAttributes(base.Entities[idx].Attributes, in.Attributes)
			base.Entities[idx] = in
			stats.Updated++
		}
	}

	for _, in := range incoming.Preferences {
		idx := -1
		for i, p := range base.Preferences {
			if p.identity() == in.identity() {
				idx = i
				break
			}
		}
		if idx < 0 {
			base.Preferences = append(base.Preferences, in)
			stats.Added++
			continue
		}
		if in.Confidence >= base.Preferences[idx].Confidence {
			in.Attributes = mergeAttributes(base.Preferences[idx].Attributes, in.Attributes)
			base.Preferences[idx] = in
			stats.Updated++
		}
	}

	for _, in := range incoming.Medical {
		idx := -1
		for i, m := range base.Medical {
			if m.identity() == in.identity() {
				idx = i
				break
			}
		}
		if idx < 0 {
			base.Medical = append(base.Medical, in)
			stats.Added++
			continue
		}
		if in.Confidence >= base.Medical[idx].Confidence {
			in.Attributes = mergeAttributes(base.Medical[idx].Attributes, in.Attributes)
			base.Medical[idx] = in
			stats.Updated++
		}
	}

	for _, in := range incoming.Relationships {
		idx := -1
		for i, r := range base.Relationships {
			if r.identity() == in.identity() {
				idx = i
				break
			}
		}
		if idx < 0 {
			base.Relationships = append(base.Relationships, in)
			stats.Added++
			continue
		}
		if in.Confidence >= base.Relationships[idx].Confidence {
			in.Attributes = mergeAttributes(base.Relationships[idx].Attributes, in.Attributes)
			base.Relationships[idx] = in
			stats.Updated++
		}
	}

	for _, in := range incoming.Milestones {
		idx := -1
		for i, m := range base.Milestones {
			if m.identity() == in.identity() {
				idx = i
				break
			}
		}
		if idx < 0 {
			base.Milestones = append(base.Milestones, in)
			stats.Added++
			continue
		}
		if in.Confidence >= base.Milestones[idx].Confidence {
			in.Attributes = mergeAttributes(base.Milestones[idx].Attributes, in.Attributes)
			base.Milestones[idx] = in
			stats.Updated++
		}
	}

	return stats
}

// mergeAttributes overlays incoming onto existing, recursing into
// nested maps. Incoming values win on conflict; existing keys absent
// from incoming are kept.
func mergeAttributes(existing, incoming map[string]interface{}) map[string]interface{} {
	if len(existing) == 0 {
		return incoming
	}
	merged := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		inMap, inOK := v.(map[string]interface{})
		exMap, exOK := merged[k].(map[string]interface{})
		if inOK && exOK {
			merged[k] = mergeAttributes(exMap, inMap)
			continue
		}
		merged[k] = v
	}
	return merged
}
