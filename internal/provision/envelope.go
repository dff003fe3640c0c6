package provision

import (
	"encoding/json"
	"fmt"
)

// parseInferenceEnvelope extracts one vector per input text from the
// inference response. The plugin has shipped at least three envelope shapes
// across versions; anything else is a hard provisioning failure because the
// caller cannot know which texts the response covers.
func parseInferenceEnvelope(data []byte) ([][]float32, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode inference response: %w", err)
	}

	if raw, ok := envelope["inference_results"]; ok {
		return parseResultItems(raw)
	}
	if raw, ok := envelope["text_embedding_results"]; ok {
		return parseResultItems(raw)
	}
	if raw, ok := envelope["text_embedding"]; ok {
		var vectors [][]float32
		if err := json.Unmarshal(raw, &vectors); err != nil {
			return nil, fmt.Errorf("decode text_embedding list: %w", err)
		}
		return vectors, nil
	}

	return nil, fmt.Errorf("unrecognized inference response shape: %s", truncate(data, 256))
}

// parseResultItems handles per-text result objects whose vector may live
// under "output", "response", or "embedding".
func parseResultItems(raw json.RawMessage) ([][]float32, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode inference result items: %w", err)
	}

	vectors := make([][]float32, 0, len(items))
	for _, item := range items {
		vectors = append(vectors, extractVector(item))
	}
	return vectors, nil
}

func extractVector(item map[string]json.RawMessage) []float32 {
	for _, key := range []string{"output", "response", "embedding"} {
		raw, ok := item[key]
		if !ok {
			continue
		}
		var vec []float32
		if json.Unmarshal(raw, &vec) == nil {
			return vec
		}
		// Nested shape: output is a list of {data: [...]} tensors.
		var tensors []struct {
			Data []float32 `json:"data"`
		}
		if json.Unmarshal(raw, &tensors) == nil && len(tensors) > 0 {
			return tensors[0].Data
		}
	}
	return nil
}
