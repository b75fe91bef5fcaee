package internal

// findEvent returns the sibling event whose normalized display name equals
// the normalized eventSlugPart, or nil.
func findEvent(data *TournamentSetsData, eventSlugPart string) *TournamentEvent {
	if data == nil || data.Tournament == nil {
		return nil
	}
	want := NormalizeEventName(eventSlugPart)
	if want == "" {
		return nil
	}
	for i := range data.Tournament.Events {
		if NormalizeEventName(data.Tournament.Events[i].Name) == want {
			return &data.Tournament.Events[i]
		}
	}
	return nil
}

// pagesToFetch is the number of pages read in total, page 1 included.
func pagesToFetch(totalPages, maxPages int) int {
	if totalPages < 1 {
		totalPages = 1
	}
	return min(totalPages, maxPages)
}

// AggregateSets counts non-DQ sets and the distinct entrants that played in
// them. The result does not depend on the order of sets.
func AggregateSets(sets []Set) EventStats {
	entrants := make(map[EntityID]struct{})
	stats := EventStats{TotalSets: len(sets)}

	for _, set := range sets {
		if !set.IsNonDQ() {
			continue
		}
		stats.NonDQSets++
		for _, slot := range set.Slots {
			if slot.Entrant == nil || slot.Entrant.ID == "" {
				continue
			}
			entrants[slot.Entrant.ID] = struct{}{}
		}
	}

	stats.NonDQAttendees = len(entrants)
	return stats
}
