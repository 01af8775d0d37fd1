package classifier

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
)

// ClassMetrics are per-label precision, recall and F1.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// EvalReport is the result of evaluating a classifier on labeled data. Accuracy
// and per-class metrics use the model's argmax label; FallbackRate is the
// share of predictions replaced by the catch-all category.
type EvalReport struct {
	Samples           int                       `json:"samples"`
	Accuracy          float64                   `json:"accuracy"`
	AverageConfidence float64                   `json:"average_confidence"`
	FallbackRate      float64                   `json:"fallback_rate"`
	Labels            []string                  `json:"labels"`
	PerClass          map[string]ClassMetrics   `json:"per_class"`
	Confusion         map[string]map[string]int `json:"confusion"`
}

// Evaluate scores clf against texts and their true labels.
func Evaluate(ctx context.Context, clf *Classifier, texts, labels []string) (*EvalReport, error) {
	if len(texts) != len(labels) {
		return nil, fmt.Errorf("%w: %d texts but %d labels", ErrInsufficientData, len(texts), len(labels))
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", ErrInsufficientData)
	}

	preds, err := clf.PredictBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	cats := clf.Categories()
	r := &EvalReport{
		Samples:   len(texts),
		Labels:    cats.Labels(),
		PerClass:  make(map[string]ClassMetrics, cats.Len()),
		Confusion: make(map[string]map[string]int, cats.Len()),
	}
	for _, l := range r.Labels {
		r.Confusion[l] = make(map[string]int)
	}

	var correct, fallbacks int
	var confidence float64
	truePos := make(map[string]int)
	predicted := make(map[string]int)
	support := make(map[string]int)
	for i, p := range preds {
		actual := labels[i]
		if _, ok := r.Confusion[actual]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, actual)
		}
		r.Confusion[actual][p.Argmax]++
		support[actual]++
		predicted[p.Argmax]++
		if p.Argmax == actual {
			correct++
			truePos[actual]++
		}
		if p.Category != p.Argmax {
			fallbacks++
		}
		confidence += p.Confidence
	}

	n := float64(len(preds))
	r.Accuracy = float64(correct) / n
	r.AverageConfidence = confidence / n
	r.FallbackRate = float64(fallbacks) / n

	for _, l := range r.Labels {
		m := ClassMetrics{Support: support[l]}
		if predicted[l] > 0 {
			m.Precision = float64(truePos[l]) / float64(predicted[l])
		}
		if support[l] > 0 {
			m.Recall = float64(truePos[l]) / float64(support[l])
		}
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		r.PerClass[l] = m
	}
	return r, nil
}

// WriteText renders the report as an aligned table.
func (r *EvalReport) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "samples\t%d\n", r.Samples)
	fmt.Fprintf(tw, "accuracy\t%.4f\n", r.Accuracy)
	fmt.Fprintf(tw, "avg confidence\t%.4f\n", r.AverageConfidence)
	fmt.Fprintf(tw, "fallback rate\t%.4f\n\n", r.FallbackRate)
	fmt.Fprintln(tw, "category\tprecision\trecall\tf1\tsupport")
	for _, l := range r.Labels {
		m := r.PerClass[l]
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%d\n", l, m.Precision, m.Recall, m.F1, m.Support)
	}
	return tw.Flush()
}
