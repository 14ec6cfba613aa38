package prompt

import (
	"fmt"
	"strings"

	"knowledge-assistant-be/pkg/rag/retrieval"
)

// SystemBuilder renders the system prompt for a turn from the retrieved context.
type SystemBuilder struct {
	assistantName string
}

func NewSystemBuilder(assistantName string) *SystemBuilder {
	if assistantName == "" {
		assistantName = "a personal knowledge assistant"
	}
	return &SystemBuilder{assistantName: assistantName}
}

// Build creates the system prompt. Chunks from the same source are grouped
// under one heading, in first-seen order.
func (b *SystemBuilder) Build(chunks []retrieval.RetrievedChunk) string {
	var prompt strings.Builder

	b.writeTask(&prompt)

	if len(chunks) == 0 {
		b.writeNoSources(&prompt)
		return prompt.String()
	}

	b.writeReferenceMaterial(&prompt, chunks)
	b.writeGuidelines(&prompt)

	return prompt.String()
}

func (b *SystemBuilder) writeTask(prompt *strings.Builder) {
	prompt.WriteString("<task>\n")
	prompt.WriteString(fmt.Sprintf("You are %s answering questions about the user's own documents, notes, books, emails and calendar.\n", b.assistantName))
	prompt.WriteString("</task>\n\n")
}

func (b *SystemBuilder) writeNoSources(prompt *strings.Builder) {
	prompt.WriteString("<reference_material>\n")
	prompt.WriteString("No matching documents were found for this question.\n")
	prompt.WriteString("</reference_material>\n\n")
	prompt.WriteString("<guidelines>\n")
	prompt.WriteString("- Answer from the conversation if it already contains the answer\n")
	prompt.WriteString("- Otherwise say plainly that nothing relevant was found in the user's documents\n")
	prompt.WriteString("- Do not invent document contents\n")
	prompt.WriteString("</guidelines>\n")
}

type sourceGroup struct {
	label  string
	full   bool
	chunks []string
}

func groupBySource(chunks []retrieval.RetrievedChunk) []*sourceGroup {
	index := make(map[string]*sourceGroup)
	var groups []*sourceGroup

	for _, c := range chunks {
		key := c.FilePath
		if key == "" || c.IsVirtual() {
			key = string(c.SourceKind) + ":" + c.SourceID
		}

		g, ok := index[key]
		if !ok {
			label := c.FileName
			if label == "" {
				label = c.SourceID
			}
			g = &sourceGroup{label: label}
			index[key] = g
			groups = append(groups, g)
		}
		if c.FullDocument {
			g.full = true
		}
		g.chunks = append(g.chunks, c.Content)
	}
	return groups
}

func (b *SystemBuilder) writeReferenceMaterial(prompt *strings.Builder, chunks []retrieval.RetrievedChunk) {
	prompt.WriteString("<reference_material>\n")
	for i, g := range groupBySource(chunks) {
		kind := "excerpts"
		if g.full {
			kind = "full document"
		}
		prompt.WriteString(fmt.Sprintf("<source id=\"%d\" name=\"%s\" content=\"%s\">\n", i+1, g.label, kind))
		prompt.WriteString(strings.Join(g.chunks, "\n---\n"))
		prompt.WriteString("\n</source>\n")
	}
	prompt.WriteString("</reference_material>\n\n")
}

func (b *SystemBuilder) writeGuidelines(prompt *strings.Builder) {
	prompt.WriteString("<guidelines>\n")
	prompt.WriteString("1. Base your answer strictly on the reference material provided\n")
	prompt.WriteString("2. Mention the source name when you use it\n")
	prompt.WriteString("3. If the material does not contain what is being asked, say so honestly\n")
	prompt.WriteString("4. Adapt the length and structure of your answer to the question\n")
	prompt.WriteString("</guidelines>\n")
}
