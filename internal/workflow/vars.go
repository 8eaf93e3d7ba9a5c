package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Builtins are placeholders every workflow may use without declaring them
var Builtins = []string{"workflow", "project_name"}

// Regular expression to match placeholders {name}
var rePH = regexp.MustCompile(`\{[a-zA-Z_][a-zA-Z0-9_]*\}`)

// OutputPlaceholder is filled at run time with the tail of a failed command's output
const OutputPlaceholder = "{{output}}"

const (
	escapedBrace = "\x00ESCAPED_BRACE\x00"
	shellBrace   = "\x00SHELL_BRACE\x00"
	outputMark   = "\x00OUTPUT\x00"
)

// BuildVarMap builds the placeholder values with priority:
// 1. DEEFLOW_VAR_<NAME> environment variables (highest priority)
// 2. Workflow vars
// 3. Builtin defaults (lowest priority)
func BuildVarMap(workflowName string, wfVars map[string]string) map[string]string {
	vars := map[string]string{"workflow": workflowName}

	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	projectName := filepath.Base(wd)
	if projectName == "" || projectName == "." || projectName == "/" {
		projectName = "project"
	}
	vars["project_name"] = projectName

	for k, v := range wfVars {
		vars[k] = v
	}

	for k := range vars {
		if v, ok := os.LookupEnv("DEEFLOW_VAR_" + strings.ToUpper(k)); ok {
			vars[k] = v
		}
	}
	return vars
}

// ValidatePlaceholders returns the unknown and used placeholder names in text.
// Escaped braces (\{) and shell expansions (${...}) are not placeholders.
func ValidatePlaceholders(text string, allowed []string) (unknown []string, used []string) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}

	cleanText := strings.ReplaceAll(text, OutputPlaceholder, outputMark)
	cleanText = strings.ReplaceAll(cleanText, `\{`, escapedBrace)
	cleanText = strings.ReplaceAll(cleanText, "${", shellBrace)

	seenUnknown := map[string]struct{}{}
	seenUsed := map[string]struct{}{}
	for _, ph := range rePH.FindAllString(cleanText, -1) {
		name := ph[1 : len(ph)-1]
		if _, ok := allowedSet[name]; !ok {
			if _, exists := seenUnknown[name]; !exists {
				unknown = append(unknown, name)
				seenUnknown[name] = struct{}{}
			}
			continue
		}
		if _, exists := seenUsed[name]; !exists {
			used = append(used, name)
			seenUsed[name] = struct{}{}
		}
	}
	return unknown, used
}

// Expand replaces {name} placeholders with vars; unknown names are an error
func Expand(text string, vars map[string]string, allowed []string) (string, error) {
	if unknown, _ := ValidatePlaceholders(text, allowed); len(unknown) > 0 {
		return "", fmt.Errorf("unknown placeholders %v", unknown)
	}

	out := strings.ReplaceAll(text, OutputPlaceholder, outputMark)
	out = strings.ReplaceAll(out, `\{`, escapedBrace)
	out = strings.ReplaceAll(out, "${", shellBrace)
	out = rePH.ReplaceAllStringFunc(out, func(ph string) string {
		if v, ok := vars[ph[1:len(ph)-1]]; ok {
			return v
		}
		return ph
	})
	out = strings.ReplaceAll(out, shellBrace, "${")
	out = strings.ReplaceAll(out, escapedBrace, "{")
	out = strings.ReplaceAll(out, outputMark, OutputPlaceholder)
	return out, nil
}
