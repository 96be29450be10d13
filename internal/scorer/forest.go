package scorer

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// ForestConfig sets the ensemble shape.
type ForestConfig struct {
	Trees    int
	MaxDepth int
	Seed     int64
}

// DefaultForestConfig is small enough to stay stable on a few dozen
// samples.
var DefaultForestConfig = ForestConfig{Trees: 50, MaxDepth: 5, Seed: 42}

// Node is a decision tree node. Leaves have Feature == -1 and carry the
// fraction of positive training samples that reached them.
type Node struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int32   `msgpack:"l"`
	Right     int32   `msgpack:"r"`
	Positive  float64 `msgpack:"p"`
}

type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

func (t *Tree) proba(x []float64) float64 {
	i := int32(0)
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Positive
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Forest is a bagged ensemble of CART trees using Gini impurity. Each
// tree is grown on a bootstrap sample and considers sqrt(features)
// candidate features per split.
type Forest struct {
	Inputs      int       `msgpack:"inputs"`
	Trees       []Tree    `msgpack:"trees"`
	Importances []float64 `msgpack:"importances"`
}

// Proba is the mean positive-class probability over all trees.
func (f *Forest) Proba(x []float64) float64 {
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].proba(x)
	}
	return sum / float64(len(f.Trees))
}

// Predict returns the majority class.
func (f *Forest) Predict(x []float64) int {
	if f.Proba(x) > 0.5 {
		return 1
	}
	return 0
}

// fitForest grows a forest on X/y. It is deterministic for a given
// config and input order.
func fitForest(X [][]float64, y []int, cfg ForestConfig) *Forest {
	inputs := len(X[0])
	rng := rand.New(rand.NewSource(cfg.Seed))
	f := &Forest{Inputs: inputs, Trees: make([]Tree, cfg.Trees)}

	importances := make([]float64, inputs)
	contributing := 0
	for t := range f.Trees {
		b := &builder{
			X:        X,
			y:        y,
			maxDepth: cfg.MaxDepth,
			mtry:     max(1, int(math.Sqrt(float64(inputs)))),
			rng:      rand.New(rand.NewSource(rng.Int63())),
			gain:     make([]float64, inputs),
		}
		idx := make([]int, len(X))
		for i := range idx {
			idx[i] = b.rng.Intn(len(X))
		}
		b.total = float64(len(idx))
		b.grow(idx, 0)
		f.Trees[t] = Tree{Nodes: b.nodes}

		if sum := floats.Sum(b.gain); sum > 0 {
			contributing++
			for i, g := range b.gain {
				importances[i] += g / sum
			}
		}
	}

	if contributing > 0 {
		for i := range importances {
			importances[i] /= float64(contributing)
		}
		if sum := floats.Sum(importances); sum > 0 {
			for i := range importances {
				importances[i] /= sum
			}
		}
	}
	f.Importances = importances
	return f
}

type builder struct {
	X        [][]float64
	y        []int
	maxDepth int
	mtry     int
	rng      *rand.Rand
	total    float64
	nodes    []Node
	gain     []float64
}

func gini(pos, n float64) float64 {
	if n == 0 {
		return 0
	}
	p := pos / n
	return 2 * p * (1 - p)
}

func (b *builder) positives(idx []int) float64 {
	pos := 0.0
	for _, i := range idx {
		pos += float64(b.y[i])
	}
	return pos
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int32 {
	self := int32(len(b.nodes))
	n := float64(len(idx))
	pos := b.positives(idx)
	b.nodes = append(b.nodes, Node{Feature: -1, Positive: pos / n})

	if depth >= b.maxDepth || len(idx) < 2 || pos == 0 || pos == n {
		return self
	}

	feature, threshold, decrease, ok := b.bestSplit(idx, pos)
	if !ok {
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return self
	}
	b.gain[feature] += n / b.total * decrease

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r, Positive: pos / n}
	return self
}

// bestSplit searches mtry randomly chosen non-constant features. If the
// first mtry draws are all constant it keeps drawing.
func (b *builder) bestSplit(idx []int, pos float64) (feature int, threshold, decrease float64, ok bool) {
	n := float64(len(idx))
	parent := gini(pos, n)

	order := b.rng.Perm(len(b.X[0]))
	tried := 0
	values := make([]struct {
		v float64
		y int
	}, len(idx))

	for _, f := range order {
		if tried >= b.mtry {
			break
		}
		for k, i := range idx {
			values[k].v, values[k].y = b.X[i][f], b.y[i]
		}
		sort.Slice(values, func(a, c int) bool { return values[a].v < values[c].v })
		if values[0].v == values[len(values)-1].v {
			continue
		}
		tried++

		leftPos := 0.0
		for k := 0; k < len(values)-1; k++ {
			leftPos += float64(values[k].y)
			if values[k].v == values[k+1].v {
				continue
			}
			nl := float64(k + 1)
			nr := n - nl
			child := nl/n*gini(leftPos, nl) + nr/n*gini(pos-leftPos, nr)
			if d := parent - child; !ok || d > decrease {
				feature, decrease, ok = f, d, true
				threshold = values[k].v + (values[k+1].v-values[k].v)/2
			}
		}
	}
	return feature, threshold, decrease, ok
}
