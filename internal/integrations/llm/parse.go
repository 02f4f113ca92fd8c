package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"ticketlens/internal/domain"
)

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// parseInsightResponse validates the service reply. Both list keys are
// required and every element must be an object; "categories" and "summary"
// are optional but must have the right type when present.
func parseInsightResponse(responseText, findingsKey, recommendationsKey string) (InsightResult, error) {
	text := stripCodeFence(responseText)
	shapeErr := func(path, format string, args ...any) error {
		return &domain.ResponseShapeError{Path: path, Msg: fmt.Sprintf(format, args...), Response: text}
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &doc); err != nil || doc == nil {
		return InsightResult{}, shapeErr("", "expected a JSON object")
	}

	findingsRaw, err := requiredList(doc, findingsKey)
	if err != nil {
		return InsightResult{}, shapeErr(findingsKey, "%v", err)
	}
	recsRaw, err := requiredList(doc, recommendationsKey)
	if err != nil {
		return InsightResult{}, shapeErr(recommendationsKey, "%v", err)
	}

	var res InsightResult
	for i, raw := range findingsRaw {
		path := fmt.Sprintf("%s[%d]", findingsKey, i)
		obj, ok := asObject(raw)
		if !ok {
			return InsightResult{}, shapeErr(path, "expected an object, got %s", jsonKind(raw))
		}
		desc, ok := asString(obj["description"])
		if !ok || desc == "" {
			return InsightResult{}, shapeErr(path+".description", "required non-empty string")
		}
		f := Finding{Description: desc}
		if raw, present := obj["confidence"]; present && !isNull(raw) {
			var c float64
			if err := json.Unmarshal(raw, &c); err != nil || math.IsNaN(c) || c < 0 || c > 1 {
				return InsightResult{}, shapeErr(path+".confidence", "expected a number between 0 and 1")
			}
			f.Confidence = &c
		}
		if raw, present := obj["ticket_nos"]; present {
			nos, err := parseTicketNos(raw)
			if err != nil {
				return InsightResult{}, shapeErr(path+".ticket_nos", "%v", err)
			}
			f.TicketNos = nos
		}
		res.Findings = append(res.Findings, f)
	}

	for i, raw := range recsRaw {
		path := fmt.Sprintf("%s[%d]", recommendationsKey, i)
		obj, ok := asObject(raw)
		if !ok {
			return InsightResult{}, shapeErr(path, "expected an object, got %s", jsonKind(raw))
		}
		txt, ok := asString(obj["text"])
		if !ok || txt == "" {
			return InsightResult{}, shapeErr(path+".text", "required non-empty string")
		}
		res.Recommendations = append(res.Recommendations, Recommendation{Text: txt})
	}

	if raw, present := doc["categories"]; present && !isNull(raw) {
		var cats map[string]float64
		if err := json.Unmarshal(raw, &cats); err != nil {
			return InsightResult{}, shapeErr("categories", "expected an object of counts")
		}
		res.Categories = make(map[string]int, len(cats))
		for label, n := range cats {
			label = strings.TrimSpace(label)
			if label == "" || n < 0 || n != math.Trunc(n) {
				return InsightResult{}, shapeErr("categories", "invalid count %v for %q", n, label)
			}
			res.Categories[label] += int(n)
		}
	}
	if raw, present := doc["summary"]; present && !isNull(raw) {
		s, ok := asString(raw)
		if !ok {
			return InsightResult{}, shapeErr("summary", "expected a string")
		}
		res.Summary = s
	}
	return res, nil
}

func requiredList(doc map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	raw, ok := doc[key]
	if !ok {
		return nil, fmt.Errorf("required list is missing")
	}
	var list []json.RawMessage
	if isNull(raw) || json.Unmarshal(raw, &list) != nil {
		return nil, fmt.Errorf("expected a list, got %s", jsonKind(raw))
	}
	return list, nil
}

// parseTicketNos accepts "A1", "A1,A2", ["A1", 42] and 42.
func parseTicketNos(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		var out []string
		for _, s := range strings.Split(joined, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return []string{number.String()}, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("expected a list of ticket numbers, got %s", jsonKind(raw))
	}
	var out []string
	for _, item := range list {
		if s, ok := asString(item); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err == nil {
			out = append(out, n.String())
			continue
		}
		return nil, fmt.Errorf("ticket number must be a string or number, got %s", jsonKind(item))
	}
	return out, nil
}

func asObject(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	if jsonKind(raw) != "object" {
		return nil, false
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func asString(raw json.RawMessage) (string, bool) {
	if jsonKind(raw) != "string" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

func isNull(raw json.RawMessage) bool {
	return jsonKind(raw) == "null"
}

func jsonKind(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return "nothing"
	}
	switch t[0] {
	case '{':
		return "object"
	case '[':
		return "list"
	case '"':
		return "string"
	case 't', 'f':
		return "boolean"
	case 'n':
		return "null"
	default:
		return "number"
	}
}
