package directive

import (
	"regexp"
	"strings"
)

// The grammar below must match the exact tag names the prompt templates
// instruct the model to emit. Attribute order inside a tag is not fixed:
// real model output interleaves attributes freely, so every attribute is
// extracted independently from the tag header instead of through one
// rigid ordered pattern.

var (
	fileEditOpenRe = regexp.MustCompile(
		`<(proposed_file_replace_substring|proposed_file_replace|proposed_file_insert)\b([^>]*)>`)

	shellCommandRe = regexp.MustCompile(
		`(?s)<proposed_shell_command\b([^>]*)>(.*?)</proposed_shell_command>`)

	packageInstallRe = regexp.MustCompile(
		`<proposed_package_install\b([^>]*?)/?>`)

	workflowConfigRe = regexp.MustCompile(
		`(?s)<proposed_workflow_configuration\b([^>]*)>(.*?)</proposed_workflow_configuration>`)

	deploymentConfigRe = regexp.MustCompile(
		`<proposed_deployment_configuration\b([^>]*?)/?>`)

	toolNudgeRe = regexp.MustCompile(
		`<proposed_workspace_tool_nudge\b([^>]*?)/?>`)

	actionSummaryRe = regexp.MustCompile(
		`<proposed_actions\b([^>]*?)/?>`)

	ragSourceRe = regexp.MustCompile(
		`\[([^\]\n]+)\]\(rag://([^)\s]+)\)`)

	attrRe = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*=\s*"([^"]*)"`)
)

// parseAttrs extracts every name="value" pair from a tag header,
// independent of attribute order.
func parseAttrs(header string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrRe.FindAllStringSubmatch(header, -1) {
		attrs[m[1]] = m[2]
	}
	return attrs
}

// scanFileEdits returns every proposed file edit in the buffer, in order of
// first appearance, one entry per distinct file path. Only the path is known
// at this layer; line counts are filled in later when old/new content arrives.
func scanFileEdits(buffer string) []FileEdit {
	var edits []FileEdit
	seen := make(map[string]bool)
	for _, m := range fileEditOpenRe.FindAllStringSubmatch(buffer, -1) {
		attrs := parseAttrs(m[2])
		path := attrs["file_path"]
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true
		edits = append(edits, FileEdit{File: path})
	}
	return edits
}

// scanShellCommands returns every completed shell command tag pair. An opening
// tag whose closing tag has not streamed in yet is simply not matched.
func scanShellCommands(buffer string) []ShellCommand {
	var cmds []ShellCommand
	seen := make(map[string]bool)
	for _, m := range shellCommandRe.FindAllStringSubmatch(buffer, -1) {
		attrs := parseAttrs(m[1])
		command := strings.TrimSpace(m[2])
		if command == "" || seen[command] {
			continue
		}
		seen[command] = true
		cmds = append(cmds, ShellCommand{
			Command:          command,
			WorkingDirectory: attrs["working_directory"],
			IsDangerous:      attrs["is_dangerous"] == "true",
		})
	}
	return cmds
}

// scanPackageInstalls returns every package install tag. The package list is
// comma-separated; entries are trimmed and empties dropped.
func scanPackageInstalls(buffer string) []PackageInstall {
	var installs []PackageInstall
	seen := make(map[string]bool)
	for _, m := range packageInstallRe.FindAllStringSubmatch(buffer, -1) {
		attrs := parseAttrs(m[1])
		language := attrs["language"]
		var packages []string
		for _, pkg := range strings.Split(attrs["package_list"], ",") {
			if pkg = strings.TrimSpace(pkg); pkg != "" {
				packages = append(packages, pkg)
			}
		}
		if language == "" || len(packages) == 0 {
			continue
		}
		install := PackageInstall{Language: language, Packages: packages}
		if seen[install.Key()] {
			continue
		}
		seen[install.Key()] = true
		installs = append(installs, install)
	}
	return installs
}

// scanWorkflowConfigs returns every completed workflow configuration tag pair.
// Body lines become the command list; blank lines are dropped.
func scanWorkflowConfigs(buffer string) []WorkflowConfig {
	var configs []WorkflowConfig
	seen := make(map[string]bool)
	for _, m := range workflowConfigRe.FindAllStringSubmatch(buffer, -1) {
		attrs := parseAttrs(m[1])
		name := attrs["workflow_name"]
		if name == "" || seen[name] {
			continue
		}
		var commands []string
		for _, line := range strings.Split(m[2], "\n") {
			if line = strings.TrimSpace(line); line != "" {
				commands = append(commands, line)
			}
		}
		mode := WorkflowSequential
		if attrs["mode"] == string(WorkflowParallel) {
			mode = WorkflowParallel
		}
		seen[name] = true
		configs = append(configs, WorkflowConfig{
			Name:         name,
			Commands:     commands,
			Mode:         mode,
			SetRunButton: attrs["set_run_button"] == "true",
		})
	}
	return configs
}

// scanDeploymentConfigs returns every deployment configuration tag.
// run_command is required; build_command is optional.
func scanDeploymentConfigs(buffer string) []DeploymentConfig {
	var configs []DeploymentConfig
	seen := make(map[string]bool)
	for _, m := range deploymentConfigRe.FindAllStringSubmatch(buffer, -1) {
		attrs := parseAttrs(m[1])
		runCommand := attrs["run_command"]
		if runCommand == "" || seen[runCommand] {
			continue
		}
		seen[runCommand] = true
		configs = append(configs, DeploymentConfig{
			BuildCommand: attrs["build_command"],
			RunCommand:   runCommand,
		})
	}
	return configs
}

// scanToolNudges returns every workspace tool nudge tag.
func scanToolNudges(buffer string) []ToolNudge {
	var nudges []ToolNudge
	seen := make(map[string]bool)
	for _, m := range toolNudgeRe.FindAllStringSubmatch(buffer, -1) {
		attrs := parseAttrs(m[1])
		toolName := attrs["tool_name"]
		if toolName == "" || seen[toolName] {
			continue
		}
		seen[toolName] = true
		nudges = append(nudges, ToolNudge{
			ToolName: toolName,
			Reason:   attrs["reason"],
		})
	}
	return nudges
}

// scanRAGSources returns every [path](rag://id) reference.
func scanRAGSources(buffer string) []RAGSourceRef {
	var refs []RAGSourceRef
	seen := make(map[string]bool)
	for _, m := range ragSourceRe.FindAllStringSubmatch(buffer, -1) {
		id := m[2]
		if seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, RAGSourceRef{ID: id, Path: m[1]})
	}
	return refs
}

// scanActionSummary returns the first action summary, if any. Later
// occurrences are ignored: first match wins.
func scanActionSummary(buffer string) string {
	m := actionSummaryRe.FindStringSubmatch(buffer)
	if m == nil {
		return ""
	}
	return parseAttrs(m[1])["summary"]
}
