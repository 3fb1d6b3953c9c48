package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"
)

// Rule rewrites transcript text; changed reports whether anything matched.
type Rule interface {
	Rewrite(text string) (output string, changed bool)
}

// Options tunes a Normalizer.
type Options struct {
	// MaxPasses bounds how often the rule set is re-run until the text is stable.
	MaxPasses int
	// StripFillers removes spoken fillers ("um", "uh", ...) before the rules run.
	StripFillers bool
}

// Normalizer cleans transcript text before it is measured and drafted from.
type Normalizer struct {
	rules        []Rule
	maxPasses    int
	stripFillers bool
}

var (
	fillerPattern     = regexp.MustCompile(`(?i)(^|[\s,])(?:um+|uh+|erm+|hmm+)(?:[,.]?)(\s|$)`)
	spaceBeforePunct  = regexp.MustCompile(`\s+([,.;:!?])`)
	repeatedSpacing   = regexp.MustCompile(`[ \t]+`)
	repeatedNewlines  = regexp.MustCompile(`\n{3,}`)
	sedDelimiterValid = func(r byte) bool { return !isWordByte(r) && r != ' ' && r != '\t' }
)

// Load reads substitution rules from path. A missing or empty path yields a
// normalizer that only tidies whitespace (and fillers when enabled).
func Load(path string, opts Options) (*Normalizer, error) {
	n := New(nil, opts)
	if strings.TrimSpace(path) == "" {
		return n, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return n, nil
		}
		return nil, fmt.Errorf("read transcript rules %q: %w", path, err)
	}

	rules, err := Parse(string(contents))
	if err != nil {
		return nil, fmt.Errorf("parse transcript rules %q: %w", path, err)
	}
	n.rules = rules
	return n, nil
}

func New(rules []Rule, opts Options) *Normalizer {
	if opts.MaxPasses <= 0 {
		opts.MaxPasses = 10
	}
	return &Normalizer{rules: rules, maxPasses: opts.MaxPasses, stripFillers: opts.StripFillers}
}

// Apply strips fillers, runs the rules until the text is stable and tidies spacing.
func (n *Normalizer) Apply(text string) (string, error) {
	result := text
	if n.stripFillers {
		result = stripFillers(result)
	}

	for pass := 0; pass < n.maxPasses && len(n.rules) > 0; pass++ {
		changed := false
		for _, rule := range n.rules {
			next, ruleChanged := rule.Rewrite(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return tidy(result), nil
}

// Parse compiles a rules document. Lines are either `from => to` (whole
// word, case-insensitive) or `s/pattern/replacement/flags`; `#` starts a comment.
func Parse(contents string) ([]Rule, error) {
	var rules []Rule
	for number, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			rule Rule
			err  error
		)
		switch {
		case len(line) > 1 && line[0] == 's' && sedDelimiterValid(line[1]):
			rule, err = parseSubstitution(line)
		case strings.Contains(line, "=>"):
			rule, err = parsePhrase(line)
		default:
			err = errors.New("expected `from => to` or `s/pattern/replacement/flags`")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", number+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

type phraseRule struct {
	pattern     *regexp.Regexp
	replacement string
}

func parsePhrase(line string) (Rule, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	to = strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("phrase rule needs a source phrase")
	}

	expr := regexp.QuoteMeta(from)
	if isWordByte(from[0]) {
		expr = `\b` + expr
	}
	if isWordByte(from[len(from)-1]) {
		expr += `\b`
	}
	pattern, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("phrase %q: %w", from, err)
	}
	return phraseRule{pattern: pattern, replacement: to}, nil
}

func (r phraseRule) Rewrite(text string) (string, bool) {
	output := r.pattern.ReplaceAllLiteralString(text, r.replacement)
	return output, output != text
}

type substitutionRule struct {
	pattern     *regexp.Regexp
	replacement string
	all         bool
}

func parseSubstitution(line string) (Rule, error) {
	delim := line[1]
	pattern, next, err := readSection(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	replacement, next, err := readSection(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("replacement: %w", err)
	}

	all := false
	inline := "i"
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'g':
			all = true
		case 'i':
		case 'I':
			inline = strings.ReplaceAll(inline, "i", "")
		case 'm', 's':
			inline += string(flag)
		default:
			return nil, fmt.Errorf("unknown flag %q", flag)
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return substitutionRule{pattern: compiled, replacement: replacement, all: all}, nil
}

func (r substitutionRule) Rewrite(text string) (string, bool) {
	if r.all {
		output := r.pattern.ReplaceAllString(text, r.replacement)
		return output, output != text
	}

	match := r.pattern.FindStringSubmatchIndex(text)
	if match == nil {
		return text, false
	}
	expanded := r.pattern.ExpandString(nil, r.replacement, text, match)
	output := text[:match[0]] + string(expanded) + text[match[1]:]
	return output, output != text
}

// readSection reads up to the next unescaped delimiter. An escaped delimiter
// loses its backslash; other escapes are kept for the regexp engine.
func readSection(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	for i := start; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) {
			if line[i+1] == delim {
				b.WriteByte(delim)
			} else {
				b.WriteByte(c)
				b.WriteByte(line[i+1])
			}
			i++
			continue
		}
		if c == delim {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("missing closing delimiter")
}

func stripFillers(text string) string {
	for {
		next := fillerPattern.ReplaceAllString(text, "$1$2")
		if next == text {
			return next
		}
		text = next
	}
}

func tidy(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		line = repeatedSpacing.ReplaceAllString(line, " ")
		line = spaceBeforePunct.ReplaceAllString(line, "$1")
		lines[i] = strings.TrimSpace(line)
	}
	out := strings.Join(lines, "\n")
	out = repeatedNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimFunc(out, unicode.IsSpace)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
