package webvm

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const bootScriptTemplate = `#!/bin/bash
echo "{{.PageText}}" > index.html
nohup python -m SimpleHTTPServer {{.Port}} &
`

// BootScriptData is the input of the boot script template
type BootScriptData struct {
	PageText string
	Port     int
}

// GenerateBootScript renders the first-boot script that serves a static page
func GenerateBootScript(pageText string, port int) (string, error) {
	tmpl, err := template.New("boot-script").Parse(bootScriptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse boot script template: %w", err)
	}

	data := BootScriptData{
		PageText: escapeDoubleQuoted(pageText),
		Port:     port,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute boot script template: %w", err)
	}
	return buf.String(), nil
}

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")

func escapeDoubleQuoted(s string) string {
	return doubleQuoteEscaper.Replace(s)
}
