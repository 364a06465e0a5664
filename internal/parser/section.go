package parser

import (
	"fmt"
	"regexp"
	"strings"

	"medical-qa-rag/internal/models"

	"github.com/tmc/langchaingo/schema"
)

var sectionRe = regexp.MustCompile(models.SectionRegex)

type sectionState struct {
	source  string
	section string
}

// TagSections walks the chunks in document order and stamps each with the
// numbered heading ("2.1 Non-opioid analgesics") it belongs to. A chunk
// that opens a new heading is tagged with that heading; headings carry
// forward across chunks and pages of the same source.
func TagSections(docs []schema.Document) []schema.Document {
	var state sectionState
	for i := range docs {
		source := metaString(docs[i].Metadata, models.MetaSource)
		if source != state.source {
			state = sectionState{source: source}
		}
		first, last := scanHeadings(docs[i].PageContent)
		section := state.section
		if first != "" {
			section = first
		}
		if last != "" {
			state.section = last
		}
		if section != "" {
			docs[i].Metadata[models.MetaSection] = section
		}
	}
	return docs
}

// scanHeadings returns the first and the last heading line in text.
func scanHeadings(text string) (first, last string) {
	for _, line := range strings.Split(text, "\n") {
		heading := matchHeading(line)
		if heading == "" {
			continue
		}
		if first == "" {
			first = heading
		}
		last = heading
	}
	return first, last
}

func matchHeading(line string) string {
	m := sectionRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", m[1], strings.TrimSpace(m[2]))
}
