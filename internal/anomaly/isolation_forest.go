package anomaly

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

const (
	eulerMascheroniConstant        = 0.5772156649015329
	invalidTreeCountMessage        = "isolation forest requires at least one tree"
	invalidSampleSizeMessage       = "isolation forest sample size must be at least 2"
	invalidContaminationMessage    = "isolation forest contamination must be in (0, 0.5]"
	invalidScoreScaleMessage       = "isolation forest score scale must be positive"
	featureVectorDimensionConstant = 3
)

type isolationNode struct {
	featureIndex int
	splitValue   float64
	left         *isolationNode
	right        *isolationNode
	size         int
}

func (node *isolationNode) isLeaf() bool {
	return node.left == nil && node.right == nil
}

// IsolationForestScorer isolates items with random axis-aligned splits; items that isolate in
// few splits score high. The forest and its decision offset are fixed at construction.
type IsolationForestScorer struct {
	thresholds Thresholds
	trees      []*isolationNode
	sampleSize int
	offset     float64
	scoreScale float64
}

func newIsolationForestScorer(settings Settings, baseline []Features) (*IsolationForestScorer, error) {
	forestSettings := settings.IsolationForest
	if thresholdsError := settings.Thresholds.Validate(); thresholdsError != nil {
		return nil, thresholdsError
	}
	switch {
	case forestSettings.Trees < 1:
		return nil, errors.New(invalidTreeCountMessage)
	case forestSettings.SampleSize < 2:
		return nil, errors.New(invalidSampleSizeMessage)
	case !(forestSettings.Contamination > 0) || forestSettings.Contamination > 0.5:
		return nil, errors.New(invalidContaminationMessage)
	case !(forestSettings.ScoreScale > 0):
		return nil, errors.New(invalidScoreScaleMessage)
	}
	if len(baseline) == 0 {
		return nil, errEmptyBaseline
	}

	vectors := make([][]float64, 0, len(baseline))
	for _, sample := range baseline {
		vectors = append(vectors, featureVector(sample))
	}

	sampleSize := forestSettings.SampleSize
	if sampleSize > len(vectors) {
		sampleSize = len(vectors)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	randomSource := rand.New(rand.NewSource(forestSettings.Seed))
	scorer := &IsolationForestScorer{
		thresholds: settings.Thresholds,
		trees:      make([]*isolationNode, 0, forestSettings.Trees),
		sampleSize: sampleSize,
		scoreScale: forestSettings.ScoreScale,
	}
	for treeIndex := 0; treeIndex < forestSettings.Trees; treeIndex++ {
		subsample := make([][]float64, 0, sampleSize)
		for _, vectorIndex := range randomSource.Perm(len(vectors))[:sampleSize] {
			subsample = append(subsample, vectors[vectorIndex])
		}
		scorer.trees = append(scorer.trees, buildIsolationTree(subsample, 0, heightLimit, randomSource))
	}

	baselineScores := make([]float64, 0, len(vectors))
	for _, vector := range vectors {
		baselineScores = append(baselineScores, scorer.rawScore(vector))
	}
	sort.Float64s(baselineScores)
	scorer.offset = upperQuantile(baselineScores, forestSettings.Contamination)
	return scorer, nil
}

// Strategy identifies the scorer.
func (scorer *IsolationForestScorer) Strategy() Strategy {
	return StrategyIsolationForest
}

// ScoreItem flags items whose isolation score exceeds the baseline contamination quantile and
// rescales the excess onto the shared threshold range. A flagged item never scores below the
// low threshold, so Flagged and RiskLevel agree.
func (scorer *IsolationForestScorer) ScoreItem(features Features) Score {
	rawScore := scorer.rawScore(featureVector(features))
	flagged := rawScore > scorer.offset
	value := 0.0
	if flagged {
		if scorer.offset < 1 {
			value = (rawScore - scorer.offset) / (1 - scorer.offset) * scorer.scoreScale
		}
		value = math.Max(value, scorer.thresholds.Low)
	}
	return Score{
		Enabled:   true,
		Value:     value,
		RiskLevel: scorer.thresholds.Level(value),
		Flagged:   flagged,
		Model:     string(StrategyIsolationForest),
		Details: map[string]any{
			DetailRawScoreKey:   rawScore,
			DetailOffsetKey:     scorer.offset,
			DetailSampleSizeKey: scorer.sampleSize,
		},
	}
}

// ScoreBatch scores and summarizes a batch.
func (scorer *IsolationForestScorer) ScoreBatch(features []Features) BatchSummary {
	return summarize(scorer, features)
}

// rawScore is 2^(-E[h(x)]/c(n)), in (0, 1]; values near 1 are anomalous.
func (scorer *IsolationForestScorer) rawScore(vector []float64) float64 {
	normalization := averagePathLength(scorer.sampleSize)
	if normalization == 0 {
		return 0.5
	}
	totalPathLength := 0.0
	for _, tree := range scorer.trees {
		totalPathLength += pathLength(tree, vector, 0)
	}
	averageLength := totalPathLength / float64(len(scorer.trees))
	return math.Pow(2, -averageLength/normalization)
}

func buildIsolationTree(vectors [][]float64, depth int, heightLimit int, randomSource *rand.Rand) *isolationNode {
	if depth >= heightLimit || len(vectors) <= 1 {
		return &isolationNode{size: len(vectors)}
	}

	splittable := make([]int, 0, featureVectorDimensionConstant)
	minimums := make([]float64, featureVectorDimensionConstant)
	maximums := make([]float64, featureVectorDimensionConstant)
	for featureIndex := 0; featureIndex < featureVectorDimensionConstant; featureIndex++ {
		minimums[featureIndex] = math.Inf(1)
		maximums[featureIndex] = math.Inf(-1)
		for _, vector := range vectors {
			minimums[featureIndex] = math.Min(minimums[featureIndex], vector[featureIndex])
			maximums[featureIndex] = math.Max(maximums[featureIndex], vector[featureIndex])
		}
		if maximums[featureIndex] > minimums[featureIndex] {
			splittable = append(splittable, featureIndex)
		}
	}
	if len(splittable) == 0 {
		return &isolationNode{size: len(vectors)}
	}

	featureIndex := splittable[randomSource.Intn(len(splittable))]
	splitValue := minimums[featureIndex] + randomSource.Float64()*(maximums[featureIndex]-minimums[featureIndex])

	var leftVectors, rightVectors [][]float64
	for _, vector := range vectors {
		if vector[featureIndex] < splitValue {
			leftVectors = append(leftVectors, vector)
		} else {
			rightVectors = append(rightVectors, vector)
		}
	}

	return &isolationNode{
		featureIndex: featureIndex,
		splitValue:   splitValue,
		left:         buildIsolationTree(leftVectors, depth+1, heightLimit, randomSource),
		right:        buildIsolationTree(rightVectors, depth+1, heightLimit, randomSource),
		size:         len(vectors),
	}
}

func pathLength(node *isolationNode, vector []float64, depth int) float64 {
	if node.isLeaf() {
		return float64(depth) + averagePathLength(node.size)
	}
	if vector[node.featureIndex] < node.splitValue {
		return pathLength(node.left, vector, depth+1)
	}
	return pathLength(node.right, vector, depth+1)
}

// averagePathLength is the mean unsuccessful-search path length of a binary search tree of n items.
func averagePathLength(itemCount int) float64 {
	switch {
	case itemCount <= 1:
		return 0
	case itemCount == 2:
		return 1
	default:
		count := float64(itemCount)
		harmonic := math.Log(count-1) + eulerMascheroniConstant
		return 2*harmonic - 2*(count-1)/count
	}
}

// upperQuantile returns the value below which a (1 - fraction) share of sorted values fall.
func upperQuantile(sortedValues []float64, fraction float64) float64 {
	if len(sortedValues) == 0 {
		return 0
	}
	position := (1 - fraction) * float64(len(sortedValues)-1)
	lowerIndex := int(math.Floor(position))
	upperIndex := int(math.Ceil(position))
	weight := position - float64(lowerIndex)
	return sortedValues[lowerIndex]*(1-weight) + sortedValues[upperIndex]*weight
}

func featureVector(features Features) []float64 {
	return []float64{
		signedLog(features.UnitRate),
		signedLog(features.Quantity),
		signedLog(features.TotalAmount),
	}
}

func signedLog(value float64) float64 {
	if value < 0 {
		return -math.Log1p(-value)
	}
	return math.Log1p(value)
}
