package builder

import (
	"fmt"
	"strings"

	"github.com/TIZ36/chatflow/pkg/schema"
)

// Mermaid renders a definition as a mermaid flowchart, for embedding in chat
// replies and docs.
func Mermaid(def *schema.WorkflowDefinition) string {
	var sb strings.Builder
	sb.WriteString("flowchart TD\n")

	for _, n := range def.Nodes {
		label := n.Name
		if label == "" {
			label = n.ID
		}
		switch n.Type {
		case schema.NodeTypeStart, schema.NodeTypeEnd:
			sb.WriteString(fmt.Sprintf("    %s([%s])\n", sanitizeID(n.ID), label))
		case schema.NodeTypeCondition:
			sb.WriteString(fmt.Sprintf("    %s{%s}\n", sanitizeID(n.ID), label))
		case schema.NodeTypeJoin:
			sb.WriteString(fmt.Sprintf("    %s((%s))\n", sanitizeID(n.ID), label))
		default:
			sb.WriteString(fmt.Sprintf("    %s[%s]\n", sanitizeID(n.ID), label))
		}
	}

	for _, e := range def.Edges {
		if e.Condition != "" {
			sb.WriteString(fmt.Sprintf("    %s -->|%s| %s\n",
				sanitizeID(e.Source), e.Condition, sanitizeID(e.Target)))
		} else {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n",
				sanitizeID(e.Source), sanitizeID(e.Target)))
		}
	}

	return sb.String()
}

// sanitizeID makes node IDs safe as mermaid identifiers.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
