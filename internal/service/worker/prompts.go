package worker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/devcrewhq/crew/internal/core"
)

// specialtyGuidance frames the model's role for each worker kind. Injected
// at the top of every task prompt.
var specialtyGuidance = map[core.Specialty]string{
	core.SpecialtyFrontend: `You are a frontend specialist expert in:
- Component-driven UI development
- TypeScript
- Responsive design
- Accessibility (WCAG 2.1)
- Modern CSS (Flexbox, Grid)

Focus on creating clean, reusable components with proper types.`,

	core.SpecialtyBackend: `You are a backend specialist expert in:
- RESTful API design
- Data modeling and persistence
- Authentication & authorization
- Error handling
- Input validation

Focus on creating robust, well-structured APIs with proper error handling and validation.`,

	core.SpecialtyTesting: `You are a testing specialist expert in:
- pytest for Python
- vitest for TypeScript
- Test coverage analysis
- Integration testing
- Mocking and fixtures
- Edge case identification

Focus on comprehensive test coverage with clear, maintainable test code.`,

	core.SpecialtyDocs: `You are a documentation specialist expert in:
- Technical writing
- API documentation
- Architecture diagrams (Mermaid)
- User guides
- README structure

Focus on clear, comprehensive documentation that helps developers understand and use the code.`,

	core.SpecialtyInfra: `You are an infrastructure specialist expert in:
- Docker and Docker Compose
- CI/CD pipelines
- Environment configuration
- Deployment automation
- Security best practices

Focus on creating maintainable, secure infrastructure configurations.`,

	core.SpecialtyIntegration: `You are an integration specialist expert in:
- REST API integration
- Webhook handling
- OAuth flows
- Error handling for external services
- Rate limiting and retry logic

Focus on robust integrations with proper error handling and resilience.`,
}

// systemPrompts set the model persona per specialty.
var systemPrompts = map[core.Specialty]string{
	core.SpecialtyFrontend: "You are an expert frontend developer. You write clean, " +
		"type-safe TypeScript with accessible, reusable components.",
	core.SpecialtyBackend: "You are an expert backend developer. You design robust APIs " +
		"with careful error handling, validation and clear data models.",
	core.SpecialtyTesting: "You are an expert in test-driven development, specializing in " +
		"pytest for Python and vitest for TypeScript. You write comprehensive, maintainable " +
		"tests with good coverage, proper mocking, and clear assertions.",
	core.SpecialtyDocs: "You are an expert technical writer specializing in clear, concise " +
		"documentation. You write comprehensive README files, API documentation, and setup " +
		"guides that are easy to follow and well-structured.",
	core.SpecialtyInfra: "You are an expert DevOps engineer specializing in Docker, CI/CD " +
		"pipelines, and deployment automation. You create robust, production-ready " +
		"infrastructure configurations with proper security and best practices.",
	core.SpecialtyIntegration: "You are an expert integration engineer. You build resilient " +
		"connections to external services with proper error handling, retries and rate limiting.",
}

// systemPromptFor returns the persona for a specialty.
func systemPromptFor(specialty core.Specialty) string {
	return systemPrompts[specialty]
}

// taskPrompt renders the execution prompt for one task. existingFiles maps
// workspace-relative paths to their current contents; it grounds edits to
// files the task modifies.
func taskPrompt(task *core.Task, existingFiles map[string]string) string {
	var b strings.Builder

	b.WriteString("# Task Assignment\n\n")
	b.WriteString(specialtyGuidance[task.Specialty])
	b.WriteString("\n\n## Your Task\n\n")
	fmt.Fprintf(&b, "**Title**: %s\n\n", task.Title)
	fmt.Fprintf(&b, "**Description**: %s\n\n", task.Description)

	b.WriteString("**Files to Create**:\n")
	writeFileList(&b, task.FilesToCreate)
	b.WriteString("\n**Files to Modify**:\n")
	writeFileList(&b, task.FilesToModify)

	if len(existingFiles) > 0 {
		b.WriteString("\n## Existing File Contents\n")
		paths := make([]string, 0, len(existingFiles))
		for p := range existingFiles {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		for _, p := range paths {
			fmt.Fprintf(&b, "\n### %s\n\n```\n%s\n```\n", p, existingFiles[p])
		}
	}

	b.WriteString(`
## Instructions

1. Implement the complete solution for this task
2. Write clean, well-documented code
3. Include error handling where appropriate
4. Add comments for complex logic

## Output Format

Provide the complete contents of every file you create or modify. Format each file like this:

## File: path/to/file.ext

` + "```" + `
[Complete file contents here]
` + "```" + `

Begin your implementation now.`)

	return b.String()
}

func writeFileList(b *strings.Builder, files []string) {
	if len(files) == 0 {
		b.WriteString("- None\n")
		return
	}
	for _, f := range files {
		fmt.Fprintf(b, "- %s\n", f)
	}
}
