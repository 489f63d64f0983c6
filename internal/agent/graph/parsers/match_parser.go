package parsers

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/zohlar/agent-server/internal/agent/model"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024 // 64KB
)

var requiredMatchFields = []string{
	"productId",
	"productName",
	"manufacturer",
	"efficiency",
	"warrantyYears",
	"powerOutput",
	"dimensions",
	"productDescription",
}

// ParseProductMatch parses the model's structured product-match output.
// The contract is strict: the payload must be a single JSON object carrying
// every ProductMatch field with a usable value. Any deviation is an error;
// fields are never silently defaulted.
func ParseProductMatch(content string) (*model.ProductMatch, error) {
	if len(content) > maxContentLen {
		return nil, fmt.Errorf("product match output too large (%d bytes)", len(content))
	}

	payload := extractJSONObject(content)
	if payload == "" {
		return nil, fmt.Errorf("product match output contains no JSON object")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("decode product match output: %w", err)
	}
	for _, field := range requiredMatchFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("product match output missing required field %q", field)
		}
	}

	var match model.ProductMatch
	if err := json.Unmarshal([]byte(payload), &match); err != nil {
		return nil, fmt.Errorf("decode product match fields: %w", err)
	}

	if strings.TrimSpace(match.ProductID) == "" {
		return nil, fmt.Errorf("product match productId is empty")
	}
	if strings.TrimSpace(match.ProductName) == "" {
		return nil, fmt.Errorf("product match productName is empty")
	}
	for name, v := range map[string]float64{
		"efficiency":  match.Efficiency,
		"powerOutput": match.PowerOutput,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("product match %s is invalid: %v", name, v)
		}
	}
	if match.WarrantyYears < 0 {
		return nil, fmt.Errorf("product match warrantyYears is invalid: %d", match.WarrantyYears)
	}

	return &match, nil
}

// extractJSONObject pulls the outermost JSON object out of the content,
// tolerating surrounding prose and markdown code fences.
func extractJSONObject(content string) string {
	content = strings.TrimSpace(content)
	if fenced := strings.TrimPrefix(content, "```json"); fenced != content {
		content = fenced
	} else {
		content = strings.TrimPrefix(content, "```")
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return ""
	}
	return content[start : end+1]
}
