package classifier

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split is a train/test partition of a labeled corpus.
type Split struct {
	TrainTexts  []string
	TrainLabels []string
	TestTexts   []string
	TestLabels  []string
}

// StratifiedSplit partitions texts per label so each label keeps its share in
// both halves. Every label needs at least 2 samples and contributes at least
// one sample to each half. The same seed always yields the same split.
func StratifiedSplit(texts, labels []string, testFraction float64, seed int64) (Split, error) {
	if len(texts) != len(labels) {
		return Split{}, fmt.Errorf("%w: %d texts but %d labels", ErrInsufficientData, len(texts), len(labels))
	}
	if testFraction <= 0 || testFraction >= 1 {
		return Split{}, fmt.Errorf("test fraction must be in (0,1), got %v", testFraction)
	}

	byLabel := make(map[string][]int)
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], i)
	}
	if len(byLabel) < 2 {
		return Split{}, fmt.Errorf("%w: need at least 2 labels, got %d", ErrInsufficientData, len(byLabel))
	}

	names := make([]string, 0, len(byLabel))
	for l, idx := range byLabel {
		if len(idx) < 2 {
			return Split{}, fmt.Errorf("%w: label %q has %d sample(s), need 2", ErrInsufficientData, l, len(idx))
		}
		names = append(names, l)
	}
	sort.Strings(names)

	rng := rand.New(rand.NewSource(seed))
	var testIdx, trainIdx []int
	for _, l := range names {
		idx := append([]int(nil), byLabel[l]...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })

		nTest := int(math.Round(float64(len(idx)) * testFraction))
		nTest = max(1, min(nTest, len(idx)-1))
		testIdx = append(testIdx, idx[:nTest]...)
		trainIdx = append(trainIdx, idx[nTest:]...)
	}
	sort.Ints(testIdx)
	sort.Ints(trainIdx)

	var s Split
	for _, i := range trainIdx {
		s.TrainTexts = append(s.TrainTexts, texts[i])
		s.TrainLabels = append(s.TrainLabels, labels[i])
	}
	for _, i := range testIdx {
		s.TestTexts = append(s.TestTexts, texts[i])
		s.TestLabels = append(s.TestLabels, labels[i])
	}
	return s, nil
}
