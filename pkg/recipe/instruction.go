// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Dockerfile keywords used by the recipe.
const (
	KeywordFrom    = "FROM"
	KeywordEnv     = "ENV"
	KeywordWorkdir = "WORKDIR"
	KeywordRun     = "RUN"
	KeywordCopy    = "COPY"
	KeywordExpose  = "EXPOSE"
	KeywordCmd     = "CMD"
)

type (
	// Input names the external content an instruction consumes.
	Input string

	// Instruction is one Dockerfile line. Stage is the build stage the line
	// completes; several lines may complete the same stage, and the stage is
	// reached once the last of them has run.
	Instruction struct {
		Stage   Stage
		Keyword string
		Body    string
		Input   Input
	}
)

const (
	// InputNone marks instructions whose result depends only on the parent layer.
	InputNone Input = ""
	// InputManifest marks the manifest copy.
	InputManifest Input = "manifest"
	// InputSource marks the full context copy.
	InputSource Input = "source"
)

func (i Instruction) String() string {
	return i.Keyword + " " + i.Body
}

// Instructions returns the ordered build instructions. FROM and WORKDIR
// belong to StageBase and StageEnvConfigured respectively.
func (r *Recipe) Instructions() []Instruction {
	return []Instruction{
		{Stage: StageBase, Keyword: KeywordFrom, Body: r.BaseImage},
		{Stage: StageEnvConfigured, Keyword: KeywordEnv, Body: r.envBody()},
		{Stage: StageEnvConfigured, Keyword: KeywordWorkdir, Body: r.WorkDir},
		{Stage: StageSystemDepsInstalled, Keyword: KeywordRun, Body: r.systemDepsBody()},
		{Stage: StageAppDepsInstalled, Keyword: KeywordCopy, Body: ManifestPath + " .", Input: InputManifest},
		{Stage: StageAppDepsInstalled, Keyword: KeywordRun, Body: appDepsBody()},
		{Stage: StageSourceCopied, Keyword: KeywordCopy, Body: ". .", Input: InputSource},
		{Stage: StagePortDeclared, Keyword: KeywordExpose, Body: strconv.Itoa(r.Port)},
		{Stage: StageEntrypointDefined, Keyword: KeywordCmd, Body: execForm(r.Server.Argv())},
	}
}

// Dockerfile renders the instructions, one per line.
func (r *Recipe) Dockerfile() string {
	var b strings.Builder
	for _, in := range r.Instructions() {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (r *Recipe) envBody() string {
	parts := make([]string, 0, len(r.Env))
	for _, e := range r.Env {
		parts = append(parts, e.Name+"="+quoteWord(e.Value))
	}
	return strings.Join(parts, " ")
}

func (r *Recipe) systemDepsBody() string {
	install := "apt-get install -y --no-install-recommends"
	for _, p := range r.SystemPackages {
		install += " " + quoteWord(p)
	}
	return strings.Join([]string{
		"apt-get update",
		install,
		"rm -rf /var/lib/apt/lists/*",
	}, " && ")
}

func appDepsBody() string {
	return "pip install --upgrade pip && pip install --no-cache-dir -r " + quoteWord(ManifestPath)
}

// quoteWord quotes s for bash. Strings that need no quoting are returned as is.
func quoteWord(s string) string {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		// Only invalid UTF-8 fails to quote; checkShell reports it.
		return s
	}
	return q
}

// checkShell parses body as bash and reports syntax errors.
func checkShell(body string) error {
	if _, err := syntax.NewParser(syntax.Variant(syntax.LangBash)).Parse(strings.NewReader(body), ""); err != nil {
		return fmt.Errorf("invalid shell body: %w", err)
	}
	return nil
}

func execForm(argv []string) string {
	// Marshalling a []string cannot fail.
	out, _ := json.Marshal(argv)
	return string(out)
}
