// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// ErrManifestNotFound is returned when the manifest file does not exist.
	ErrManifestNotFound = errors.New("dependency manifest not found")
	// ErrCorruptManifest is the sentinel wrapped by ParseError.
	ErrCorruptManifest = errors.New("dependency manifest is corrupt")

	namePattern      = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)`)
	extrasPattern    = regexp.MustCompile(`^\[\s*([A-Za-z0-9._-]+(?:\s*,\s*[A-Za-z0-9._-]+)*)?\s*\]`)
	specifierPattern = regexp.MustCompile(`^(===|==|!=|~=|>=|<=|>|<)\s*([A-Za-z0-9.*+!_-]+)$`)
	normalizePattern = regexp.MustCompile(`[-_.]+`)
)

// Global options that may appear on their own line.
var globalOptions = map[string]bool{
	"--index-url":       true,
	"-i":                true,
	"--extra-index-url": true,
	"--trusted-host":    true,
	"--find-links":      true,
	"-f":                true,
	"--pre":             false,
	"--only-binary":     true,
	"--no-binary":       true,
	"--prefer-binary":   false,
	"--no-index":        false,
	"--require-hashes":  false,
	"--use-feature":     true,
}

// Per-requirement options that may follow the specifiers on the same
// logical line.
var requirementOptions = map[string]bool{
	"--hash":            true,
	"--config-settings": true,
	"--global-option":   true,
}

var hashAlgorithms = map[string]int{
	"sha256": 64,
	"sha384": 96,
	"sha512": 128,
}

// Options that would pull content from outside the manifest.
var rejectedOptions = map[string]string{
	"-r":            "nested requirement files are not supported",
	"--requirement": "nested requirement files are not supported",
	"-c":            "constraint files are not supported",
	"--constraint":  "constraint files are not supported",
	"-e":            "editable installs are not supported",
	"--editable":    "editable installs are not supported",
}

type (
	// Specifier is one version clause, e.g. ">=0.110".
	Specifier struct {
		Op      string
		Version string
	}

	// Requirement is one parsed package line.
	Requirement struct {
		Name       string
		Extras     []string
		Specifiers []Specifier
		URL        string
		Marker     string
		// Hashes are the --hash values, e.g. "sha256:<hex>".
		Hashes []string
		// Options are the other per-requirement options.
		Options []Option
		Line    int
	}

	// Option is a global pip option line.
	Option struct {
		Name  string
		Value string
		Line  int
	}

	// Manifest is a parsed requirements file.
	Manifest struct {
		Path         string
		Requirements []Requirement
		Options      []Option
		raw          []byte
	}

	// ParseError reports the first offending line of a corrupt manifest.
	// Line is 1-based; 0 means the error concerns the whole file.
	ParseError struct {
		Line   int
		Text   string
		Reason string
	}
)

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("corrupt manifest: %s", e.Reason)
	}
	return fmt.Sprintf("corrupt manifest: line %d %q: %s", e.Line, e.Text, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrCorruptManifest }

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseBytes(data)
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Parse reads r fully and parses it.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseBytes(data)
}

// ParseBytes parses manifest content.
func ParseBytes(data []byte) (*Manifest, error) {
	if !utf8.Valid(data) {
		return nil, &ParseError{Reason: "not valid UTF-8"}
	}
	if i := bytes.IndexByte(data, 0); i >= 0 {
		line := bytes.Count(data[:i], []byte{'\n'}) + 1
		return nil, &ParseError{Line: line, Reason: "contains a NUL byte"}
	}

	m := &Manifest{raw: bytes.Clone(data)}
	for _, ll := range logicalLines(string(data)) {
		if err := m.parseLine(ll); err != nil {
			return nil, err
		}
	}
	if m.RequireHashes() {
		for _, r := range m.Requirements {
			if len(r.Hashes) == 0 {
				return nil, &ParseError{Line: r.Line, Text: r.Name, Reason: "--require-hashes is set but the requirement has no --hash"}
			}
			if !r.Pinned() {
				return nil, &ParseError{Line: r.Line, Text: r.Name, Reason: "--require-hashes is set but the requirement is not pinned with =="}
			}
		}
	}
	return m, nil
}

// RequireHashes reports whether the manifest enables pip's hash-checking mode.
func (m *Manifest) RequireHashes() bool {
	for _, o := range m.Options {
		if o.Name == "--require-hashes" {
			return true
		}
	}
	return false
}

// Digest is the sha256 of the raw manifest bytes, hex encoded.
func (m *Manifest) Digest() string {
	sum := sha256.Sum256(m.raw)
	return hex.EncodeToString(sum[:])
}

// Bytes returns a copy of the raw manifest content.
func (m *Manifest) Bytes() []byte { return bytes.Clone(m.raw) }

// Names returns the normalized package names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.Requirements))
	for _, r := range m.Requirements {
		names = append(names, Normalize(r.Name))
	}
	return names
}

// Normalize applies PEP 503 name normalization.
func Normalize(name string) string {
	return strings.ToLower(normalizePattern.ReplaceAllString(name, "-"))
}

// Pinned reports whether the requirement fixes an exact version.
func (r Requirement) Pinned() bool {
	if r.URL != "" {
		return true
	}
	for _, s := range r.Specifiers {
		if (s.Op == "==" && !strings.Contains(s.Version, "*")) || s.Op == "===" {
			return true
		}
	}
	return false
}

func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	if r.URL != "" {
		b.WriteString(" @ " + r.URL)
	}
	for i, s := range r.Specifiers {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s.Op + s.Version)
	}
	if r.Marker != "" {
		b.WriteString("; " + r.Marker)
	}
	return b.String()
}

type logicalLine struct {
	number int
	text   string
}

// logicalLines joins backslash continuations and strips comments. The
// reported number is the first physical line.
func logicalLines(content string) []logicalLine {
	physical := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var out []logicalLine
	var cur strings.Builder
	start := 0
	for i, line := range physical {
		if cur.Len() == 0 {
			start = i + 1
		}
		if strings.HasSuffix(line, `\`) {
			cur.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}
		cur.WriteString(line)
		text := strings.TrimSpace(stripComment(cur.String()))
		cur.Reset()
		if text != "" {
			out = append(out, logicalLine{number: start, text: text})
		}
	}
	if cur.Len() > 0 {
		if text := strings.TrimSpace(stripComment(cur.String())); text != "" {
			out = append(out, logicalLine{number: start, text: text})
		}
	}
	return out
}

// stripComment removes a full-line comment or a comment preceded by whitespace.
func stripComment(line string) string {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return ""
	}
	for i := 1; i < len(line); i++ {
		if line[i] == '#' && (line[i-1] == ' ' || line[i-1] == '\t') {
			return line[:i]
		}
	}
	return line
}

func (m *Manifest) parseLine(ll logicalLine) error {
	if strings.HasPrefix(ll.text, "-") {
		return m.parseOption(ll)
	}
	spec, opts := splitRequirementOptions(ll.text)
	req, reason := parseRequirement(spec)
	if reason == "" {
		reason = req.addOptions(opts, ll.number)
	}
	if reason != "" {
		return &ParseError{Line: ll.number, Text: ll.text, Reason: reason}
	}
	req.Line = ll.number
	m.Requirements = append(m.Requirements, req)
	return nil
}

func (m *Manifest) parseOption(ll logicalLine) error {
	name, value := ll.text, ""
	if i := strings.IndexAny(ll.text, " \t="); i >= 0 {
		name, value = ll.text[:i], strings.TrimSpace(ll.text[i+1:])
	}

	if reason, rejected := rejectedOptions[name]; rejected {
		return &ParseError{Line: ll.number, Text: ll.text, Reason: reason}
	}
	// Short flags may be glued to their value: -rfile.txt, -efoo.
	for flag, reason := range rejectedOptions {
		if len(flag) == 2 && strings.HasPrefix(name, flag) {
			return &ParseError{Line: ll.number, Text: ll.text, Reason: reason}
		}
	}

	takesValue, known := globalOptions[name]
	if !known {
		return &ParseError{Line: ll.number, Text: ll.text, Reason: fmt.Sprintf("unknown option %s", name)}
	}
	if takesValue && value == "" {
		return &ParseError{Line: ll.number, Text: ll.text, Reason: fmt.Sprintf("option %s requires a value", name)}
	}
	if !takesValue && value != "" {
		return &ParseError{Line: ll.number, Text: ll.text, Reason: fmt.Sprintf("option %s takes no value", name)}
	}
	m.Options = append(m.Options, Option{Name: name, Value: value, Line: ll.number})
	return nil
}

// splitRequirementOptions separates trailing "--" options from the PEP 508
// part of a requirement line.
func splitRequirementOptions(text string) (string, []string) {
	for i := 1; i < len(text)-1; i++ {
		if text[i] == '-' && text[i+1] == '-' && (text[i-1] == ' ' || text[i-1] == '\t') {
			return strings.TrimSpace(text[:i]), strings.Fields(text[i:])
		}
	}
	return text, nil
}

// addOptions parses per-requirement options. Values are given as
// --name=value or --name value. A non-empty reason means the line is invalid.
func (r *Requirement) addOptions(fields []string, line int) string {
	for i := 0; i < len(fields); i++ {
		name, value, hasValue := strings.Cut(fields[i], "=")
		if _, known := requirementOptions[name]; !known {
			return fmt.Sprintf("unknown requirement option %s", name)
		}
		if !hasValue {
			if i+1 >= len(fields) || strings.HasPrefix(fields[i+1], "--") {
				return fmt.Sprintf("option %s requires a value", name)
			}
			i++
			value = fields[i]
		}
		if value == "" {
			return fmt.Sprintf("option %s requires a value", name)
		}
		if name == "--hash" {
			if reason := checkHash(value); reason != "" {
				return reason
			}
			r.Hashes = append(r.Hashes, value)
			continue
		}
		r.Options = append(r.Options, Option{Name: name, Value: value, Line: line})
	}
	return ""
}

func checkHash(value string) string {
	algo, digest, ok := strings.Cut(value, ":")
	n, known := hashAlgorithms[algo]
	if !ok || !known {
		return fmt.Sprintf("unsupported hash %q (want sha256, sha384 or sha512)", value)
	}
	if len(digest) != n {
		return fmt.Sprintf("hash %q has %d hex digits, want %d", value, len(digest), n)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Sprintf("hash %q is not hex", value)
	}
	return ""
}

// parseRequirement parses a PEP 508 requirement. A non-empty reason means the
// line is invalid.
func parseRequirement(text string) (Requirement, string) {
	var req Requirement

	body, marker, _ := strings.Cut(text, ";")
	req.Marker = strings.TrimSpace(marker)
	if strings.Contains(text, ";") && req.Marker == "" {
		return req, "empty environment marker"
	}
	body = strings.TrimSpace(body)

	loc := namePattern.FindStringIndex(body)
	if loc == nil {
		return req, "missing package name"
	}
	req.Name = body[:loc[1]]
	rest := strings.TrimSpace(body[loc[1]:])

	if strings.HasPrefix(rest, "[") {
		m := extrasPattern.FindStringSubmatchIndex(rest)
		if m == nil {
			return req, "malformed extras"
		}
		if m[2] >= 0 {
			for _, e := range strings.Split(rest[m[2]:m[3]], ",") {
				req.Extras = append(req.Extras, strings.TrimSpace(e))
			}
		}
		rest = strings.TrimSpace(rest[m[1]:])
	}

	if strings.HasPrefix(rest, "@") {
		req.URL = strings.TrimSpace(rest[1:])
		if req.URL == "" || strings.ContainsAny(req.URL, " \t") || !strings.Contains(req.URL, "://") {
			return req, "malformed direct reference"
		}
		return req, ""
	}

	if strings.HasPrefix(rest, "(") && strings.HasSuffix(rest, ")") {
		rest = strings.TrimSpace(rest[1 : len(rest)-1])
	}
	if rest == "" {
		return req, ""
	}
	for _, clause := range strings.Split(rest, ",") {
		sm := specifierPattern.FindStringSubmatch(strings.TrimSpace(clause))
		if sm == nil {
			return req, fmt.Sprintf("invalid version specifier %q", strings.TrimSpace(clause))
		}
		req.Specifiers = append(req.Specifiers, Specifier{Op: sm[1], Version: sm[2]})
	}
	return req, ""
}
