package coordinator

import (
	"fmt"
	"strings"

	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/session/guardrail"
)

const planningSystemPrompt = `You are the planning module of a browser automation agent. Given a task instruction and the current page, respond with a JSON object: {"rationale": string, "steps": [string, ...], "done": bool}. Respond with JSON only, no prose.`

const actionSystemPrompt = `You are the action module of a browser automation agent. Given the task and current page, respond with a JSON object describing the single next browser action: {"type": "click"|"type"|"scroll_up"|"scroll_down"|"scroll_to"|"navigate"|"wait"|"extract"|"complete", "selector": string, "value": string, "rationale": string}. Respond with JSON only, no prose.`

const extractSystemPrompt = `You summarize the relevant extracted information from a web page for the given task instruction. Respond with plain text, no JSON.`

const fieldExtractionSystemPrompt = `You extract structured fields from page content. Respond with a JSON object: {"data": {field: value, ...}, "confidence": number between 0 and 1}. Use null for any field you cannot find. Respond with JSON only, no prose.`

func buildPlanningPrompt(instruction, dom, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", instruction)
	fmt.Fprintf(&b, "Current URL: %s\n\n", url)
	b.WriteString("Current page content:\n")
	b.WriteString(guardrail.WrapUntrusted(dom))
	return b.String()
}

func buildActionPrompt(task *session.Task, dom, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", task.Instruction)
	if task.Plan != nil {
		b.WriteString("Plan steps:\n")
		for i, s := range task.Plan.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Current URL: %s\n\n", url)
	b.WriteString("Current page content:\n")
	b.WriteString(guardrail.WrapUntrusted(dom))
	if len(task.Results) > 0 {
		last := task.Results[len(task.Results)-1]
		fmt.Fprintf(&b, "\n\nPrevious action result: %s", last.Status)
		if last.Error != "" {
			fmt.Fprintf(&b, " (%s)", last.Error)
		}
	}
	return b.String()
}

func buildExtractPrompt(instruction, dom string) string {
	return fmt.Sprintf("Task: %s\n\nPage content:\n%s", instruction, guardrail.WrapUntrusted(dom))
}

func buildFieldExtractionPrompt(fields []string, content, extractionPrompt string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Fields to extract: %s\n\n", strings.Join(fields, ", "))
	if extractionPrompt != "" {
		fmt.Fprintf(&b, "Extraction instructions: %s\n\n", extractionPrompt)
	}
	b.WriteString("Content:\n")
	b.WriteString(guardrail.WrapUntrusted(content))
	return b.String()
}

// stripFences removes a leading/trailing Markdown code fence (with or
// without a "json" language tag) that LLMs commonly wrap structured
// output in despite being asked for raw JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "json" || firstLine == "" {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
