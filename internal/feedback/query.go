package feedback

import "github.com/himanishpuri/LoopProfiler/internal/audio"

// Len is the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.doc.Feedbacks)
}

// GetByID returns a copy of the record with id.
func (s *Store) GetByID(id uint64) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, r := s.doc.find(id)
	if r == nil {
		return Record{}, false
	}
	return *r.clone(), true
}

// All returns copies of every record in store order.
func (s *Store) All() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.doc.Feedbacks, nil)
}

// GetByTrack returns the records whose fingerprint matches trackPath.
func (s *Store) GetByTrack(trackPath string) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.idxMu.Lock()
	if s.byTrack == nil {
		s.byTrack = make(map[string][]int)
		for i, r := range s.doc.Feedbacks {
			s.byTrack[r.AudioHash] = append(s.byTrack[r.AudioHash], i)
		}
	}
	positions := s.byTrack[audio.Fingerprint(trackPath)]
	s.idxMu.Unlock()

	out := make([]Record, 0, len(positions))
	for _, i := range positions {
		out = append(out, *s.doc.Feedbacks[i].clone())
	}
	return out
}

// GetTrainingData returns one row per record (external score followed by
// the four features) and the matching ratings, in store order.
func (s *Store) GetTrainingData() ([][]float64, []int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	X := make([][]float64, len(s.doc.Feedbacks))
	y := make([]int, len(s.doc.Feedbacks))
	for i, r := range s.doc.Feedbacks {
		X[i] = r.TrainingRow()
		y[i] = r.UserFeedback.Rating
	}
	return X, y
}

// GetGoodLoops returns positively rated records whose AI score is at least
// minAiScore. Records without an AI score only qualify when minAiScore <= 0.
func (s *Store) GetGoodLoops(minAiScore float64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyRecords(s.doc.Feedbacks, func(r *Record) bool {
		if r.UserFeedback.Rating != 1 {
			return false
		}
		if r.Scores.AIPredicted == nil {
			return minAiScore <= 0
		}
		return *r.Scores.AIPredicted >= minAiScore
	})
}

// GetStatistics returns a copy of the aggregates.
func (s *Store) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Statistics.clone()
}

func copyRecords(records []*Record, keep func(*Record) bool) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if keep == nil || keep(r) {
			out = append(out, *r.clone())
		}
	}
	return out
}
