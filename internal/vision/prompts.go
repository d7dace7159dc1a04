// Package vision drives the Gemini model for two jobs: labeling the
// numbered fields on rendered pages, and turning user instructions
// into a fill plan.
package vision

import (
	"fmt"
	"strings"

	"github.com/acroflow/acroflow/internal/fields"
)

const labelingPreamble = "You are reviewing a scanned form. Every fillable field on the " +
	"attached page images is outlined in red and stamped with its row number.\n\n" +
	"Task:\n" +
	"- For each row listed below, write one short description of what a person " +
	"filling the form should enter in that field.\n" +
	"- Use the printed text near the field, the section it sits in, and the field's " +
	"extracted label as evidence.\n" +
	"- Output STRICT JSON only: a JSON array of objects with fields " +
	"\"row\" (number) and \"description\" (string).\n" +
	"- Cover every listed row. Do not invent rows.\n" +
	"- Do NOT wrap the response in code fences.\n"

const planningPreamble = "You are filling out the attached form. Every fillable field is " +
	"outlined in red and stamped with its row number.\n\n" +
	"Task:\n" +
	"- Using the user's instructions and the field table below, decide which rows to " +
	"fill and with what value.\n" +
	"- Output STRICT JSON only: a JSON array of objects with fields " +
	"\"row\" (number) and \"value\" (string), optionally \"note\" (string).\n" +
	"- Only include rows you can fill from the instructions. Leave the rest out.\n" +
	"- For checkboxes answer \"yes\" to check, and omit the row to leave unchecked.\n" +
	"- Do NOT wrap the response in code fences.\n"

// labelingPrompt lists one batch of rows, prefixed with a window of
// already-labeled rows so descriptions stay consistent across batches.
func labelingPrompt(batch []fields.Descriptor, history []fields.Descriptor) string {
	var b strings.Builder
	b.WriteString(labelingPreamble)

	if len(history) > 0 {
		b.WriteString("\nAlready labeled rows, for context only (do not repeat them):\n")
		for _, d := range history {
			fmt.Fprintf(&b, "- row %d (page %d): %s\n", d.Row, d.Page, d.RichDescription)
		}
	}

	b.WriteString("\nRows to label:\n")
	for _, d := range batch {
		fmt.Fprintf(&b, "- row %d (page %d)", d.Row, d.Page)
		if d.Heading != "" {
			fmt.Fprintf(&b, ", section %q", d.Heading)
		}
		if d.Subheading != "" {
			fmt.Fprintf(&b, ", group %q", d.Subheading)
		}
		if d.RawLabel != "" {
			fmt.Fprintf(&b, ", extracted label %q", d.RawLabel)
		}
		fmt.Fprintf(&b, ", kind %s\n", d.Kind)
	}
	return b.String()
}

// planningPrompt lists one chunk of the field table together with the
// user's instructions.
func planningPrompt(chunk []fields.Descriptor, instructions string) string {
	var b strings.Builder
	b.WriteString(planningPreamble)

	b.WriteString("\nField table:\n")
	for _, d := range chunk {
		fmt.Fprintf(&b, "- row %d (page %d, %s): %s\n", d.Row, d.Page, d.Kind, d.RichDescription)
	}

	b.WriteString("\nUser instructions:\n")
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n")
	return b.String()
}

// cleanModelJSON strips Markdown fences and surrounding junk when the
// model ignores the raw-JSON instruction.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	if start := strings.Index(s, "["); start != -1 {
		if end := strings.LastIndex(s, "]"); end != -1 && end > start {
			s = strings.TrimSpace(s[start : end+1])
		}
	}
	return s
}
