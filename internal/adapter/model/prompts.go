package model

import (
	"fmt"
	"strings"
)

const systemPrompt = "You are a senior full-stack migration architect. You rebuild legacy software on a modern stack without breaking its API contract."

func planPrompt(in GenerateInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Legacy repository: %s\n", in.RepositoryURL)
	fmt.Fprintf(&b, "Modernization intent: %s\n\n", in.Intent)
	if in.Summary != "" {
		b.WriteString("Repository snapshot:\n")
		b.WriteString(in.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString(`Produce a concise architecture plan in four phases:
1. Contract audit: list every API endpoint of the legacy backend with its HTTP method. The new backend keeps these names.
2. Backend: a Python FastAPI or Node.js Express service under modernized_stack/backend with CORS enabled.
3. Frontend: a Next.js App Router frontend under modernized_stack/frontend following the intent.
4. Orchestration: a docker-compose.yml under modernized_stack.`)
	return b.String()
}

func codePrompt(plan string) string {
	return fmt.Sprintf(`Plan:
%s

Generate the complete file system of modernized_stack.

Constraints:
- Files live under modernized_stack/, at least backend/main.py, frontend/app/page.tsx, preview.html and docker-compose.yml.
- backend/main.py must exit by itself about five seconds after startup so a validation run terminates.
- preview.html is a self-contained interactive mock that simulates backend calls with embedded JavaScript.

Return only JSON of the form:
{"files":[{"filename":"modernized_stack/backend/main.py","content":"..."}],"entrypoint":"modernized_stack/backend/main.py"}
The entrypoint is the backend server script.`, plan)
}

// fallbackPlan is used when the plan call fails.
func fallbackPlan(in GenerateInput) string {
	return fmt.Sprintf("Rebuild %s on a modern stack. Intent: %s", in.RepositoryURL, in.Intent)
}
