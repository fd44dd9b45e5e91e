package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cexll/autoloop/internal/model"
)

type plannedFeature struct {
	Description            string   `json:"description"`
	Priority               int      `json:"priority"`
	Category               string   `json:"category"`
	ParallelSafe           bool     `json:"parallel_safe"`
	ImplementationCommands []string `json:"implementation_commands"`
	VerificationCommand    *string  `json:"verification_command"`
}

type plannedResponse struct {
	Features []plannedFeature `json:"features"`
}

// Acknowledgement-only plan items carry no executable work and are dropped.
var planAcknowledgementMarkers = []string{
	"i'm ready",
	"i am ready",
	"understood",
	"acknowledged",
	"please provide",
	"no task provided",
	"awaiting the task",
}

func (p *Planner) parseFeatures(req Request, output string, maxFeatures int) []model.Feature {
	payload := extractJSONPayload(output)
	if payload == "" {
		return nil
	}

	var response plannedResponse
	if err := json.Unmarshal([]byte(payload), &response); err != nil {
		return nil
	}

	features := make([]model.Feature, 0, len(response.Features))
	index := 1
	for _, item := range response.Features {
		description := strings.TrimSpace(item.Description)
		if description == "" || isAcknowledgementItem(description) {
			continue
		}
		priority := item.Priority
		if priority < 1 {
			priority = index
		}
		category := strings.TrimSpace(item.Category)
		if category == "" {
			category = req.DefaultCategory
		}
		verification := ""
		if item.VerificationCommand != nil {
			verification = strings.TrimSpace(*item.VerificationCommand)
		}
		features = append(features, model.Feature{
			ID:                     fmt.Sprintf("%s-%d", req.TaskID, index),
			Category:               category,
			Description:            description,
			Priority:               priority,
			ParallelSafe:           item.ParallelSafe,
			ImplementationCommands: cleanCommands(item.ImplementationCommands),
			VerificationCommand:    verification,
		})
		index++
		if len(features) >= maxFeatures {
			break
		}
	}
	return features
}

func isAcknowledgementItem(description string) bool {
	lower := strings.ToLower(description)
	for _, marker := range planAcknowledgementMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func cleanCommands(commands []string) []string {
	cleaned := make([]string, 0, len(commands))
	for _, command := range commands {
		if trimmed := strings.TrimSpace(command); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

// extractJSONPayload pulls the first JSON object out of CLI output that may
// wrap it in markdown fences or surround it with prose.
func extractJSONPayload(output string) string {
	text := strings.TrimSpace(output)
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return text
	}

	if fenceStart := strings.Index(text, "```"); fenceStart >= 0 {
		inner := text[fenceStart+3:]
		if newline := strings.IndexByte(inner, '\n'); newline >= 0 {
			inner = inner[newline+1:]
		}
		if fenceEnd := strings.Index(inner, "```"); fenceEnd >= 0 {
			candidate := strings.TrimSpace(inner[:fenceEnd])
			if json.Valid([]byte(candidate)) {
				return candidate
			}
		}
	}

	return balancedObject(text)
}

// balancedObject scans for the first brace-balanced fragment, ignoring braces
// inside JSON strings.
func balancedObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := text[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate
				}
				return ""
			}
		}
	}
	return ""
}

// fallbackPlan is the deterministic decomposition used when the CLI is
// unavailable or returns a degenerate plan. Every item is executable without
// the CLI so a run never stalls on planning.
func (p *Planner) fallbackPlan(req Request, maxFeatures int) []model.Feature {
	topic := strings.TrimSpace(req.Description)
	if len(topic) > 60 {
		topic = topic[:60]
	}
	templates := []struct {
		description  string
		commands     []string
		verification string
	}{
		{
			description:  "Draft a short implementation outline for: " + topic,
			commands:     []string{fmt.Sprintf("printf '%%s\\n' 'outline: %s' >> NOTES.md", req.TaskID)},
			verification: "test -s NOTES.md",
		},
		{
			description:  "Implement the core behavior for: " + topic,
			commands:     nil,
			verification: `find . -maxdepth 2 -not -path './.git/*' -not -path './.autoloop/*' -type f \( -name 'main.*' -o -name 'app.*' -o -name 'index.*' -o -name 'Makefile' \) | grep -q .`,
		},
		{
			description:  "Add automated checks covering the new behavior for: " + topic,
			commands:     nil,
			verification: `find . -not -path './.git/*' -type f \( -name 'test*' -o -name '*_test*' -o -name '*.test.*' -o -name '*.spec.*' \) | grep -q .`,
		},
		{
			description:  "Update project documentation to reflect: " + topic,
			commands:     nil,
			verification: "test -f README.md",
		},
	}

	count := maxFeatures
	if count > len(templates) {
		count = len(templates)
	}
	if count < 2 && maxFeatures >= 2 {
		count = 2
	}
	features := make([]model.Feature, 0, count)
	for i := 0; i < count; i++ {
		template := templates[i]
		features = append(features, model.Feature{
			ID:                     fmt.Sprintf("%s-%d", req.TaskID, i+1),
			Category:               req.DefaultCategory,
			Description:            template.description,
			Priority:               i + 1,
			ParallelSafe:           req.ParallelSafeDefault,
			ImplementationCommands: template.commands,
			VerificationCommand:    template.verification,
		})
	}
	return features
}
