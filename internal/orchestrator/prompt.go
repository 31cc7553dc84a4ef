package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// maxTranscriptPromptBytes caps how much prior transcript a resume or
// follow-up run feeds back to the agent.
const maxTranscriptPromptBytes = 64 * 1024

// buildPrompt assembles the agent prompt for one run kind. Every prompt
// carries the feature description; the surrounding material varies by kind.
func (o *Orchestrator) buildPrompt(f *models.Feature, kind runKind, extraPrompt string) (string, error) {
	var b strings.Builder

	writeSection := func(header, body string) {
		body = strings.TrimSpace(body)
		if body == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if header != "" {
			b.WriteString(header)
			b.WriteString("\n")
		}
		b.WriteString(body)
	}

	if spec := readOptional(store.AppSpecPath(o.projectPath)); spec != "" {
		writeSection("## Project specification", spec)
	}
	if ctx := readOptional(store.ContextPath(o.projectPath, f.ID)); ctx != "" {
		writeSection("## Additional context", ctx)
	}

	feature := fmt.Sprintf("ID: %s\nDescription: %s", f.ID, f.Description)
	if f.Category != "" {
		feature += "\nCategory: " + f.Category
	}
	writeSection("## Feature", feature)

	if f.PlanSpec != nil && f.PlanSpec.Status == models.PlanApproved && f.PlanSpec.Content != "" {
		writeSection("## Approved plan", f.PlanSpec.Content)
	}

	switch kind {
	case runPlan:
		writeSection("## Task", "Produce an implementation plan for this feature. "+
			"Do not modify any files. Break the work into ordered tasks and record the plan "+
			"with the update_plan tool, then stop.")
	case runVerify:
		writeSection("## Task", "The implementation for this feature is already in place. "+
			"Run the project's tests relevant to it, interpret the results, and fix only what the tests reveal. "+
			"When everything passes, report the status with the update_feature_status tool.")
	case runResume:
		transcript, err := o.store.GetAgentOutput(o.projectPath, f.ID)
		if err != nil {
			return "", err
		}
		writeSection("## Previous session", tailString(transcript, maxTranscriptPromptBytes))
		writeSection("## Task", "The previous session was interrupted. Review the transcript above, "+
			"determine what remains, and continue the implementation from where it stopped.")
	case runFollowUp:
		transcript, err := o.store.GetAgentOutput(o.projectPath, f.ID)
		if err != nil {
			return "", err
		}
		writeSection("## Previous session", tailString(transcript, maxTranscriptPromptBytes))
		writeSection("## Follow-up request", extraPrompt)
		writeSection("## Task", "Address the follow-up request above, building on the previous session's work.")
	default:
		writeSection("## Task", "Implement this feature. Work incrementally, keep changes scoped to the feature, "+
			"and run the relevant tests before finishing. Report the final status with the update_feature_status tool.")
	}

	if f.SkipTests {
		writeSection("", "Automated tests are waived for this feature; a human will review the result.")
	}

	return b.String(), nil
}

// readOptional returns the file's contents, or empty when it does not exist
// or cannot be read.
func readOptional(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

// tailString returns at most max bytes from the end of s, cutting at a line
// boundary when possible.
func tailString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	s = s[len(s)-max:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i+1 < len(s) {
		s = s[i+1:]
	}
	return s
}
