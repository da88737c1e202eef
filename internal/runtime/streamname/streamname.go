// Package streamname resolves log stream name templates.
//
// A template is plain text with placeholders in braces:
//
//	{machine_name}   host name
//	{program_name}   base name of the running executable
//	{process_id}     operating system pid
//	{logger_name}    the record's source name
//	{thread_name}    always "main"; goroutines have no names
//	{strftime:FMT}   the record time in UTC, formatted with strftime FMT
//
// Characters CloudWatch Logs refuses in stream names (':' and '*') are
// replaced with '_' after expansion.
package streamname

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
)

// Environment holds the process-wide placeholder values.
type Environment struct {
	MachineName string
	ProgramName string
	ProcessID   int
}

// CurrentEnvironment describes the running process.
func CurrentEnvironment() Environment {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return Environment{
		MachineName: host,
		ProgramName: filepath.Base(os.Args[0]),
		ProcessID:   os.Getpid(),
	}
}

type segmentKind int

const (
	literal segmentKind = iota
	loggerName
	timeFormat
)

type segment struct {
	kind  segmentKind
	value string
}

// Resolver expands one parsed template. It is immutable and safe for
// concurrent use.
type Resolver struct {
	template string
	segments []segment
	static   bool
}

// New parses template against env. Unknown placeholders and unbalanced
// braces are errors.
func New(template string, env Environment) (*Resolver, error) {
	if template == "" {
		return nil, fmt.Errorf("streamname: empty template")
	}
	r := &Resolver{template: template, static: true}
	rest := template
	var text strings.Builder
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			if strings.IndexByte(rest, '}') >= 0 {
				return nil, fmt.Errorf("streamname: unbalanced '}' in %q", template)
			}
			text.WriteString(rest)
			break
		}
		if strings.IndexByte(rest[:open], '}') >= 0 {
			return nil, fmt.Errorf("streamname: unbalanced '}' in %q", template)
		}
		text.WriteString(rest[:open])
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, fmt.Errorf("streamname: unterminated placeholder in %q", template)
		}
		name := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		switch {
		case name == "machine_name":
			text.WriteString(env.MachineName)
		case name == "program_name":
			text.WriteString(env.ProgramName)
		case name == "process_id":
			text.WriteString(strconv.Itoa(env.ProcessID))
		case name == "thread_name":
			text.WriteString("main")
		case name == "logger_name":
			r.flush(&text)
			r.segments = append(r.segments, segment{kind: loggerName})
			r.static = false
		case strings.HasPrefix(name, "strftime:"):
			r.flush(&text)
			r.segments = append(r.segments, segment{kind: timeFormat, value: strings.TrimPrefix(name, "strftime:")})
			r.static = false
		default:
			return nil, fmt.Errorf("streamname: unknown placeholder {%s}", name)
		}
	}
	r.flush(&text)
	return r, nil
}

func (r *Resolver) flush(text *strings.Builder) {
	if text.Len() == 0 {
		return
	}
	r.segments = append(r.segments, segment{kind: literal, value: text.String()})
	text.Reset()
}

// Template returns the source template.
func (r *Resolver) Template() string { return r.template }

// Static reports whether every record resolves to the same name.
func (r *Resolver) Static() bool { return r.static }

// Resolve expands the template for a record from source at t.
func (r *Resolver) Resolve(source string, t time.Time) string {
	var b strings.Builder
	for _, seg := range r.segments {
		switch seg.kind {
		case literal:
			b.WriteString(seg.value)
		case loggerName:
			b.WriteString(source)
		case timeFormat:
			b.WriteString(strftime.Format(seg.value, t.UTC()))
		}
	}
	return sanitize(b.String())
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == ':' || r == '*' {
			return '_'
		}
		return r
	}, name)
}
