package validation

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/devcrewhq/crew/internal/core"
	"github.com/devcrewhq/crew/internal/logging"
)

// secretPattern pairs a compiled regex with the kind of credential it finds.
type secretPattern struct {
	re   *regexp.Regexp
	kind string
}

var secretPatterns = []secretPattern{
	{regexp.MustCompile(`(?i)(aws_access_key_id)\s*[:=]\s*['"]?([A-Z0-9]{20})['"]?`), "AWS Access Key"},
	{regexp.MustCompile(`(?i)(aws_secret_access_key)\s*[:=]\s*['"]?([A-Za-z0-9/+=]{40})['"]?`), "AWS Secret Key"},
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]([a-zA-Z0-9_\-]{20,})['"]`), "API Key"},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"]([^'"]{8,})['"]`), "Hardcoded Password"},
	{regexp.MustCompile(`(?i)(bearer|token)\s+([a-zA-Z0-9_\-.]{20,})`), "Bearer Token"},
	{regexp.MustCompile(`(sk_live_[a-zA-Z0-9]{24,}|pk_live_[a-zA-Z0-9]{24,})`), "Stripe API Key"},
	{regexp.MustCompile(`(ghp_[a-zA-Z0-9]{36}|gho_[a-zA-Z0-9]{36})`), "GitHub Personal Access Token"},
	{regexp.MustCompile(`(xox[baprs]-[a-zA-Z0-9\-]+)`), "Slack Token"},
	{regexp.MustCompile(`(AIza[a-zA-Z0-9_\-]{35})`), "Google API Key"},
	{regexp.MustCompile(`(?i)(private[_-]?key|privatekey).*BEGIN.*PRIVATE.*KEY`), "Private Key"},
}

// Matches that contain one of these are placeholders, not leaks. All-caps
// matches are treated the same way (config examples).
var placeholderMarkers = []string{
	"example", "your_", "my_", "test_", "dummy", "fake", "placeholder",
	"insert", "replace", "xxx", "yyy", "zzz", "123456", "password",
}

// Scanning skips vendored trees, caches and docs; markdown routinely shows
// example keys.
var excludedPathRe = regexp.MustCompile(`\.git/|node_modules/|__pycache__/|\.pyc$|\.log$|\.md$`)

// SecurityScanner looks for committed credentials and a handful of risky
// call patterns. It runs entirely in-process: no external tool, never
// skipped for tooling reasons.
type SecurityScanner struct {
	logger *logging.Logger
}

// NewSecurityScanner creates the security gate.
func NewSecurityScanner(logger *logging.Logger) *SecurityScanner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &SecurityScanner{logger: logger}
}

func (v *SecurityScanner) Name() string { return "Security Scanning" }

// Skippable is always false: the scan applies to every tree and needs no
// external tool.
func (v *SecurityScanner) Skippable(ctx context.Context, workspace string) bool {
	return false
}

func (v *SecurityScanner) Validate(ctx context.Context, workspace string) core.ValidationResult {
	start := time.Now()
	var issues []core.Issue

	_ = filepath.WalkDir(workspace, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(workspace, path)
		if relErr != nil {
			return nil
		}
		if excludedPathRe.MatchString(filepath.ToSlash(rel)) {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil || !utf8.Valid(content) {
			return nil
		}
		text := string(content)

		issues = append(issues, scanSecrets(rel, text)...)
		issues = append(issues, scanRiskyCalls(rel, text)...)
		return nil
	})

	if n := len(issues); n > 0 {
		v.logger.Warn("security scan found issues", "count", n)
	}

	return core.ValidationResult{
		Gate:     v.Name(),
		Status:   statusFor(issues),
		Duration: time.Since(start),
		Issues:   issues,
	}
}

func scanSecrets(rel, content string) []core.Issue {
	var issues []core.Issue
	for _, p := range secretPatterns {
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matched := content[loc[0]:loc[1]]
			if isPlaceholder(matched) {
				continue
			}
			issues = append(issues, core.Issue{
				File:     rel,
				Line:     lineAt(content, loc[0]),
				Severity: core.SeverityError,
				Message:  "Potential " + p.kind + " detected",
				Rule:     "secret-detection",
			})
		}
	}
	return issues
}

type riskyCall struct {
	re       *regexp.Regexp
	exts     []string
	severity core.Severity
	message  string
	rule     string
}

var riskyCalls = []riskyCall{
	{regexp.MustCompile(`\beval\s*\(`), []string{".py", ".js", ".ts"},
		core.SeverityWarning, "Use of eval() detected (code injection risk)", "no-eval"},
	{regexp.MustCompile(`\bexec\s*\(`), []string{".py"},
		core.SeverityWarning, "Use of exec() detected (code injection risk)", "no-exec"},
	{regexp.MustCompile(`import\s+pickle|from\s+pickle\s+import`), []string{".py"},
		core.SeverityInfo, "pickle usage detected (potential deserialization risk)", "pickle-usage"},
	{regexp.MustCompile(`dangerouslySetInnerHTML`), []string{".js", ".jsx", ".ts", ".tsx"},
		core.SeverityWarning, "dangerouslySetInnerHTML detected (XSS risk)", "no-dangerous-html"},
}

func scanRiskyCalls(rel, content string) []core.Issue {
	var issues []core.Issue
	for _, rc := range riskyCalls {
		if !hasExt(rel, rc.exts) {
			continue
		}
		loc := rc.re.FindStringIndex(content)
		if loc == nil {
			continue
		}
		issues = append(issues, core.Issue{
			File:     rel,
			Line:     lineAt(content, loc[0]),
			Severity: rc.severity,
			Message:  rc.message,
			Rule:     rc.rule,
		})
	}
	return issues
}

func hasExt(path string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func isPlaceholder(matched string) bool {
	lower := strings.ToLower(matched)
	for _, marker := range placeholderMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return isAllUpper(matched)
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}

func lineAt(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}
