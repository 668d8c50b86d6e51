package research

import (
	"fmt"
	"strings"
	"time"
)

func systemPrompt() string {
	return fmt.Sprintf(`You are an expert researcher. Today is %s.
Be highly organized, anticipate the user's needs, and treat them as capable of handling detailed, accurate information.
You may use speculation or prediction, but you must flag it clearly.`, time.Now().Format("2006-01-02"))
}

const queryListSchema = `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "description": "List of distinct search queries"
    }
  },
  "required": ["queries"]
}`

const extractionSchema = `Return the JSON object directly without any formatting or additional text. Make sure to answer in valid json and include all necessary properties:{
  "type": "object",
  "properties": {
    "learnings": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Concise, information-dense facts extracted from the page"
    },
    "followUpQuestions": {
      "type": "array",
      "items": {"type": "string"},
      "description": "Questions worth researching next, at most 3"
    }
  },
  "required": ["learnings", "followUpQuestions"]
}`

// queryListResult and extractionResult are the explicit shapes expected back
// from structured generation. validate rejects anything that parsed as JSON
// but does not carry the required content.
type queryListResult struct {
	Queries []string `json:"queries"`
}

func (r queryListResult) validate() error {
	if len(r.Queries) == 0 {
		return fmt.Errorf("empty queries list")
	}
	for _, q := range r.Queries {
		if strings.TrimSpace(q) == "" {
			return fmt.Errorf("blank query in list")
		}
	}
	return nil
}

type extractionResult struct {
	Learnings         []string `json:"learnings"`
	FollowUpQuestions []string `json:"followUpQuestions"`
}

func (r extractionResult) validate() error {
	if r.Learnings == nil && r.FollowUpQuestions == nil {
		return fmt.Errorf("neither learnings nor follow-up questions present")
	}
	return nil
}

func buildQueryPrompt(prompt string, breadth int, learnings []Learning, sources *SourceRegistry) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Given the following research goal, generate up to %d distinct search queries to investigate it. Each query should target a different aspect of the topic.

<goal>%s</goal>`, breadth, prompt)

	if len(learnings) > 0 {
		b.WriteString("\n\nHere is everything learned so far. Use it to make the new queries more specific and to avoid repeating covered ground:\n")
		for _, l := range learnings {
			fmt.Fprintf(&b, "%s (Source #%d: %s)\n", l.Text, l.SourceID, sources.LookupURLByID(l.SourceID))
		}
	}
	return b.String()
}

func buildExtractionPrompt(query, content string, maxLearnings int) string {
	return fmt.Sprintf(`Given the following page content retrieved for the search query <query>%s</query>, extract up to %d learnings and up to 3 follow-up questions.
Learnings must be unique, concise and information-dense: include exact figures, dates, names and entities wherever the page states them.

<content>
%s
</content>`, query, maxLearnings, content)
}

func buildDiversityPrompt(topic string, breadth int) string {
	return fmt.Sprintf(`Generate up to %d search queries that will find independent and diverse primary sources about the following topic. Prefer queries likely to surface original reports, datasets, official documents and first-hand accounts from publishers not yet seen.

<topic>%s</topic>`, breadth, topic)
}

func buildReportPrompt(topic string, learnings []Learning, sources []SourceRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, `Write a detailed research report on the following topic using ONLY the learnings below.

<topic>%s</topic>

Sources:
`, topic)
	for _, s := range sources {
		fmt.Fprintf(&b, "[%d] %s\n", s.ID, s.URL)
	}
	b.WriteString("\nLearnings:\n")
	for _, l := range learnings {
		fmt.Fprintf(&b, "- [%d] %s (found via %q)\n", l.SourceID, l.Text, l.SourceQuery)
	}
	b.WriteString(`
Formatting requirements:
- Markdown, starting with a single H1 title.
- An executive summary, then H2 sections covering the findings.
- In-text citations as bracketed source ids, e.g. [2], matching the source list above.
- End with a "References" section listing every source exactly once as "[id] url".
- Every source must be cited at least once in the body.`)
	return b.String()
}
