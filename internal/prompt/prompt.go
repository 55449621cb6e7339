package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/rlsnotes/internal/classify"
)

// System is the system prompt for every consolidation call.
const System = "You are a Release Notes Consolidator. Write concise, user-facing release notes. " +
	"Prefer concrete impact and product language over internal implementation. " +
	"Group by Features, Fixes, Chore. " +
	"Merge duplicate PRs if they describe the same user-visible change. " +
	"Flag risky or ambiguous items. Keep bullets short (≤ 18 words). " +
	"Use the provided labels and commit prefixes when helpful, but prioritize clarity for non-engineers. " +
	"Respond with strict JSON only, no prose. " +
	"Always include all repos present in the input and ensure each repo has sections with non-empty items if relevant PRs exist. " +
	"First, produce tldr as 2–4 bullets summarizing the main focus areas of the week based on category frequencies and recurring area/* labels across repos."

// OutputSchema is the schema sketch appended to every user message.
const OutputSchema = "Output schema: { tldr: string[], repos: [{ name: string, sections: [{ title: string, items: [{ text: string, prs: number[] }] }]}], upgrade_notes: string[], contributors: string[] }"

// RepairInstruction is appended as an extra user message on the repair call.
const RepairInstruction = "Your previous JSON did not match the required schema or had no content. " +
	"Return a corrected JSON that strictly matches the schema and includes non-empty sections with items for all repos that have PRs."

// Snapshot is the classified input of one repository.
type Snapshot struct {
	Repo    string
	Records []classify.Summary
}

// Window is the since/until pair shown in the prompt header.
type Window struct {
	Since string
	Until string
}

// BuildUserMessage renders the user message for a set of repository snapshots.
// Repository order and record order are preserved.
func BuildUserMessage(snapshots []Snapshot, w Window) (string, error) {
	parts := []string{fmt.Sprintf("Release window: %s → %s", w.Since, w.Until)}
	for _, snap := range snapshots {
		records := snap.Records
		if records == nil {
			records = []classify.Summary{}
		}
		data, err := marshal(records)
		if err != nil {
			return "", fmt.Errorf("encoding snapshot for %s: %w", snap.Repo, err)
		}
		parts = append(parts,
			"Repo: "+snap.Repo,
			"PRs snapshot (JSON):",
			data,
			"",
		)
	}
	parts = append(parts, OutputSchema)
	return strings.Join(parts, "\n"), nil
}

// marshal encodes v as a single JSON line without HTML escaping, so titles
// such as "a < b" reach the model verbatim.
func marshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// DisplayWindow derives the header window from the per-repository refs.
// A single distinct value is shown as is, several as "per-repo". With no
// since refs the window starts at "auto"; with no until refs it ends at
// fallbackUntil, or HEAD when that is empty too.
func DisplayWindow(sinceRefs, untilRefs []string, fallbackUntil string) Window {
	if fallbackUntil == "" {
		fallbackUntil = "HEAD"
	}
	return Window{
		Since: displayValue(sinceRefs, "auto"),
		Until: displayValue(untilRefs, fallbackUntil),
	}
}

func displayValue(values []string, none string) string {
	var first string
	for _, v := range values {
		if v == "" {
			continue
		}
		if first == "" {
			first = v
		} else if v != first {
			return "per-repo"
		}
	}
	if first == "" {
		return none
	}
	return first
}
