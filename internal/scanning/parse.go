package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// defaultLLMConfidence is used when a model omits its legibility estimate.
const defaultLLMConfidence = 0.8

type transcription struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
}

// parseTranscription reads a model reply. Replies wrapped in markdown fences
// or surrounded by chatter are accepted; a reply without a JSON object is
// taken as the bare transcription.
func parseTranscription(reply string) (*OCRResult, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end < start {
		return &OCRResult{Text: text, Confidence: defaultLLMConfidence}, nil
	}

	var t transcription
	if err := json.Unmarshal([]byte(text[start:end+1]), &t); err != nil {
		if start == 0 {
			return nil, fmt.Errorf("unmarshaling json: %w", err)
		}
		return &OCRResult{Text: text, Confidence: defaultLLMConfidence}, nil
	}

	res := &OCRResult{
		Text:       strings.TrimSpace(t.Text),
		Confidence: defaultLLMConfidence,
	}
	if t.Confidence != nil {
		res.Confidence = clamp01(*t.Confidence)
	}
	return res, nil
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}
