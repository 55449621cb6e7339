package classify

// Summary is the compact form of a classified record sent to the model.
type Summary struct {
	Number      int           `json:"number"`
	Title       string        `json:"title"`
	Labels      []string      `json:"labels"`
	Author      string        `json:"author"`
	URL         string        `json:"url"`
	BodyExcerpt string        `json:"body_excerpt"`
	Category    Category      `json:"category"`
	Area        *string       `json:"area"`
	IsBreaking  bool          `json:"is_breaking"`
	Issue       *IssueSummary `json:"issue,omitempty"`
}

// IssueSummary carries the linked tracker story, when one was resolved.
type IssueSummary struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Summarize converts classified records into prompt summaries, keeping order.
func Summarize(classified []Classified) []Summary {
	out := make([]Summary, 0, len(classified))
	for _, c := range classified {
		labels := c.Record.Labels
		if labels == nil {
			labels = []string{}
		}
		s := Summary{
			Number:      c.Record.Number,
			Title:       c.Record.Title,
			Labels:      labels,
			Author:      c.Record.Author,
			URL:         c.Record.URL,
			BodyExcerpt: c.Record.BodyExcerpt,
			Category:    c.Category,
			IsBreaking:  c.Breaking,
		}
		if c.Area != "" {
			area := c.Area
			s.Area = &area
		}
		if is := c.Record.Issue; is != nil {
			s.Issue = &IssueSummary{ID: is.ID, Name: is.Name, URL: is.URL, Description: is.Description}
		}
		out = append(out, s)
	}
	return out
}
