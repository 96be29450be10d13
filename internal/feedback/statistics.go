package feedback

import (
	"errors"
	"fmt"
	"time"
)

// ErrStatisticsDrift is reported by Verify when the stored counters no
// longer match the records.
var ErrStatisticsDrift = errors.New("feedback statistics drift")

// ModelPerformance is the latest evaluation of the scorer.
type ModelPerformance struct {
	Accuracy        float64 `json:"accuracy"`
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	TrainingSamples int     `json:"training_samples"`
}

// Statistics are aggregates kept alongside the records. The counters are
// only changed through apply.
type Statistics struct {
	TotalFeedbacks        int               `json:"total_feedbacks"`
	PositiveCount         int               `json:"positive_count"`
	NegativeCount         int               `json:"negative_count"`
	ExportedCount         int               `json:"exported_count"`
	TotalExportOperations int               `json:"total_export_operations"`
	LastModelTraining     *time.Time        `json:"last_model_training"`
	ModelPerformance      *ModelPerformance `json:"model_performance"`
}

type eventKind int

const (
	eventAdded eventKind = iota
	eventRemoved
	eventExported
	eventEvaluated
)

// event is a single change to the record set as seen by the counters.
type event struct {
	kind        eventKind
	rating      int
	exported    bool // eventAdded: record created as exported
	firstExport bool // eventExported: export_count went 0 -> 1
	perf        *ModelPerformance
	at          time.Time
}

func (s *Statistics) apply(ev event) {
	switch ev.kind {
	case eventAdded:
		s.TotalFeedbacks++
		if ev.rating == 1 {
			s.PositiveCount++
		} else {
			s.NegativeCount++
		}
		if ev.exported {
			s.ExportedCount++
			s.TotalExportOperations++
		}
	case eventRemoved:
		s.TotalFeedbacks--
		if ev.rating == 1 {
			s.PositiveCount--
		} else {
			s.NegativeCount--
		}
	case eventExported:
		if ev.firstExport {
			s.ExportedCount++
		}
		s.TotalExportOperations++
	case eventEvaluated:
		p := *ev.perf
		at := ev.at
		s.ModelPerformance = &p
		s.LastModelTraining = &at
	}
}

func (s Statistics) clone() Statistics {
	s.LastModelTraining = clonePtr(s.LastModelTraining)
	s.ModelPerformance = clonePtr(s.ModelPerformance)
	return s
}

// recount rebuilds the record counters from scratch.
func recount(records []*Record) (total, positive, negative int) {
	for _, r := range records {
		total++
		if r.UserFeedback.Rating == 1 {
			positive++
		} else {
			negative++
		}
	}
	return total, positive, negative
}

func (s *Statistics) verify(records []*Record) error {
	total, pos, neg := recount(records)
	if total == s.TotalFeedbacks && pos == s.PositiveCount && neg == s.NegativeCount {
		return nil
	}
	return fmt.Errorf("%w: stored total=%d positive=%d negative=%d, records total=%d positive=%d negative=%d",
		ErrStatisticsDrift, s.TotalFeedbacks, s.PositiveCount, s.NegativeCount, total, pos, neg)
}

func (s *Statistics) repair(records []*Record) {
	s.TotalFeedbacks, s.PositiveCount, s.NegativeCount = recount(records)
}
