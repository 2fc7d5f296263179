package coordinator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/browserpilot/engine/session"
)

type planPayload struct {
	Rationale string   `json:"rationale"`
	Steps     []string `json:"steps"`
	Done      bool     `json:"done"`
}

// ParsePlan parses a planner LLM response into a StrategicPlan, tolerating
// a surrounding Markdown code fence.
func ParsePlan(raw string) (*session.StrategicPlan, error) {
	var p planPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	return &session.StrategicPlan{
		Rationale: p.Rationale,
		Steps:     p.Steps,
		Done:      p.Done,
		CreatedAt: time.Now(),
	}, nil
}

type extractionPayload struct {
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence"`
}

// ParseExtraction parses an Extractor LLM response into a field->value map
// and a confidence score, tolerating a surrounding Markdown code fence.
// Any requested field absent from the response is recorded as nil rather
// than dropped, per spec.md §4.6.
func ParseExtraction(raw string, fields []string) (map[string]any, float64, error) {
	var p extractionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return nil, 0, fmt.Errorf("invalid extraction JSON: %w", err)
	}
	if p.Data == nil {
		p.Data = make(map[string]any)
	}
	for _, f := range fields {
		if _, ok := p.Data[f]; !ok {
			p.Data[f] = nil
		}
	}
	return p.Data, p.Confidence, nil
}

type actionPayload struct {
	Type      string            `json:"type"`
	Selector  string            `json:"selector"`
	Value     string            `json:"value"`
	Rationale string            `json:"rationale"`
	Params    map[string]string `json:"params"`
}

// ParseAction parses an actor LLM response into a session.Action,
// tolerating a surrounding Markdown code fence and validating the action
// type against the known enumeration.
func ParseAction(raw, taskID string) (session.Action, error) {
	var p actionPayload
	if err := json.Unmarshal([]byte(stripFences(raw)), &p); err != nil {
		return session.Action{}, fmt.Errorf("invalid action JSON: %w", err)
	}

	t := session.ActionType(p.Type)
	if !session.ValidActionType(t) {
		return session.Action{}, fmt.Errorf("unknown action type %q", p.Type)
	}

	return session.Action{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Type:      t,
		Selector:  p.Selector,
		Value:     p.Value,
		Rationale: p.Rationale,
		Params:    p.Params,
		CreatedAt: time.Now(),
	}, nil
}
