package planner

import "fmt"

// decompositionPrompt builds the requirements-analysis prompt. The model
// must answer with a single JSON object matching the plan wire format.
func decompositionPrompt(requirements, projectContext string) string {
	contextSection := ""
	if projectContext != "" {
		contextSection = fmt.Sprintf("\n## Existing Project Context\n\n%s\n", projectContext)
	}

	return fmt.Sprintf(`You are a software architect breaking down project requirements into parallelizable tasks for specialized AI agents.

## Requirements

%s
%s
## Your Task

Analyze these requirements and break them into **independent, parallelizable tasks** that can be executed by specialized agents working simultaneously.

### Worker Specialties

- **frontend**: UI components, TypeScript, UX flows, styling
- **backend**: API endpoints, data models, business logic
- **testing**: unit tests, integration tests, test coverage
- **docs**: README files, API documentation, architecture diagrams, user guides
- **infra**: Docker configs, CI/CD pipelines, deployment scripts, environment setup
- **integration**: third-party API integrations, webhooks, external services

### Task Design Principles

1. **Granularity**: Each task should be 2-4 hours of focused work
2. **Independence**: Tasks should be parallelizable where possible
3. **Dependencies**: Clearly identify which tasks must complete before others
4. **File Specificity**: List exactly which files will be created or modified
5. **Clear Scope**: Each task has a well-defined deliverable

### Output Format

Return a JSON object with this exact structure:

`+"```json"+`
{
  "project_name": "Brief project name",
  "description": "One-sentence project description",
  "estimated_total_hours": 20,
  "tasks": [
    {
      "id": "task_001",
      "title": "Create API server scaffold",
      "description": "Set up the basic server with middleware, error handling, and routing structure",
      "specialty": "backend",
      "estimated_hours": 2.0,
      "files_to_create": ["src/server.py", "src/routes/__init__.py"],
      "files_to_modify": ["pyproject.toml"],
      "dependencies": []
    },
    {
      "id": "task_002",
      "title": "Implement user authentication API",
      "description": "Create login/register endpoints with JWT token generation",
      "specialty": "backend",
      "estimated_hours": 3.0,
      "files_to_create": ["src/routes/auth.py"],
      "files_to_modify": ["src/routes/__init__.py"],
      "dependencies": ["task_001"]
    },
    {
      "id": "task_003",
      "title": "Build login UI component",
      "description": "Create the login form with validation and error states",
      "specialty": "frontend",
      "estimated_hours": 2.5,
      "files_to_create": ["src/components/LoginForm.vue"],
      "files_to_modify": ["src/router/index.ts"],
      "dependencies": ["task_002"]
    }
  ]
}
`+"```"+`

### Critical Rules

1. Task IDs must be unique (task_001, task_002, etc.)
2. Dependencies must reference valid task IDs
3. Avoid circular dependencies (task A depends on task B depends on task A)
4. Group related work into single tasks (don't split unnecessarily)
5. Consider the natural order of development (backend before frontend, models before endpoints, etc.)
6. Ensure tasks can actually be done in parallel where dependencies allow

Generate the complete task breakdown now.`, requirements, contextSection)
}
