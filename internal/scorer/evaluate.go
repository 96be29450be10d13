package scorer

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Evaluation summarizes model quality on a data set. Accuracy is the mean
// over stratified folds; Precision and Recall come from a model refit on
// all rows and scored on the same rows.
type Evaluation struct {
	Accuracy    float64
	AccuracyStd float64
	Precision   float64
	Recall      float64
	Samples     int
	Folds       int
}

// Evaluate cross-validates the forest configuration on X/y. It requires a
// trained scorer and at least MinEvaluationSamples rows.
func (s *Scorer) Evaluate(X [][]float64, y []int) (Evaluation, error) {
	if !s.Trained() {
		return Evaluation{}, ErrNotTrained
	}
	if len(X) < MinEvaluationSamples {
		return Evaluation{}, ErrInsufficientData
	}
	if err := validate(X, y); err != nil {
		return Evaluation{}, err
	}

	k := min(maxFolds, len(X))
	folds := stratifiedFolds(y, k)
	scores := make([]float64, k)
	for f := 0; f < k; f++ {
		var trainX, testX [][]float64
		var trainY, testY []int
		for i := range X {
			if folds[i] == f {
				testX, testY = append(testX, X[i]), append(testY, y[i])
			} else {
				trainX, trainY = append(trainX, X[i]), append(trainY, y[i])
			}
		}
		forest := fitForest(trainX, trainY, s.cfg)
		correct := 0
		for i, row := range testX {
			if forest.Predict(row) == testY[i] {
				correct++
			}
		}
		scores[f] = float64(correct) / float64(len(testX))
	}
	mean, std := stat.PopMeanStdDev(scores, nil)

	full := fitForest(X, y, s.cfg)
	var tp, fp, fn float64
	for i, row := range X {
		pred := full.Predict(row)
		switch {
		case pred == 1 && y[i] == 1:
			tp++
		case pred == 1 && y[i] == 0:
			fp++
		case pred == 0 && y[i] == 1:
			fn++
		}
	}

	return Evaluation{
		Accuracy:    mean,
		AccuracyStd: std,
		Precision:   ratio(tp, tp+fp),
		Recall:      ratio(tp, tp+fn),
		Samples:     len(X),
		Folds:       k,
	}, nil
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// stratifiedFolds assigns each row a fold in [0, k) so that every class is
// spread across folds as evenly as possible. Every fold is non-empty when
// len(y) >= k.
func stratifiedFolds(y []int, k int) []int {
	order := make([]int, len(y))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return y[order[a]] < y[order[b]] })

	folds := make([]int, len(y))
	for pos, i := range order {
		folds[i] = pos % k
	}
	return folds
}
