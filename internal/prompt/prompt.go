// Package prompt assembles the text sent to an agent on stdin.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WithFiles prepends the contents of files to prompt. A file that cannot be
// read is included as an inline error so the agent still sees the request.
func WithFiles(prompt string, files []string) string {
	if len(files) == 0 {
		return prompt
	}

	sections := make([]string, 0, len(files))
	for _, f := range files {
		var body string
		abs, err := filepath.Abs(f)
		if err == nil {
			var data []byte
			data, err = os.ReadFile(abs)
			body = string(data)
		}
		if err != nil {
			body = fmt.Sprintf("[Error reading file: %v]", err)
		}
		sections = append(sections, fmt.Sprintf("--- %s ---\n%s\n---", f, body))
	}

	return "Refer to the following files:\n\n" + strings.Join(sections, "\n\n") + "\n\n" + prompt
}

// ForFileOutput wraps prompt for a request that names an output file. When
// agentWrites is set the agent is told to create the file itself; otherwise
// it is told to print only the file's content so crewgate can save it.
func ForFileOutput(prompt, outputFile string, agentWrites bool) string {
	if agentWrites {
		return strings.Join([]string{
			"Do the following task right away without reading other files:",
			fmt.Sprintf("Create the file %q. Requirements are below.", outputFile),
			"",
			prompt,
			"",
			fmt.Sprintf("Important: do not read other files. Only write %q. Start now.", outputFile),
		}, "\n")
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(outputFile)), ".")
	return strings.Join([]string{
		fmt.Sprintf("Produce the content of the following .%s file. Output only the content:", ext),
		"- no markdown code fences (```)",
		"- no explanations, greetings or conversation",
		"- start and end with the file content itself",
		"",
		prompt,
	}, "\n")
}
