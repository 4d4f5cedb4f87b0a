package store

import "context"

// ConceptWeights returns the full concept → weight table used by the
// context composer to break ties when trimming the timeline to a
// full-detail budget.
func (s *Store) ConceptWeights(ctx context.Context) (map[string]float64, error) {
	rows, err := s.DB().QueryContext(ctx, `SELECT concept, weight FROM concept_weights`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var concept string
		var weight float64
		if err := rows.Scan(&concept, &weight); err != nil {
			return nil, err
		}
		out[concept] = weight
	}
	return out, rows.Err()
}
