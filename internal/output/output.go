package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"
)

// Format represents output format
type Format string

const (
	FormatTable Format = "table"
	FormatWide  Format = "wide"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses a format string
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON
	case "yaml", "yml":
		return FormatYAML
	case "wide":
		return FormatWide
	default:
		return FormatTable
	}
}

// Printer handles formatted output
type Printer struct {
	format  Format
	writer  io.Writer
	noColor bool
}

// NewPrinter creates a new printer
func NewPrinter(format Format) *Printer {
	return &Printer{
		format:  format,
		writer:  os.Stdout,
		noColor: os.Getenv("NO_COLOR") != "",
	}
}

// SetWriter sets the output writer
func (p *Printer) SetWriter(w io.Writer) {
	p.writer = w
}

// Print outputs data in the configured format
func (p *Printer) Print(data interface{}) error {
	switch p.format {
	case FormatJSON:
		return p.printJSON(data)
	case FormatYAML:
		return p.printYAML(data)
	default:
		// Table and Wide are handled by specific methods
		return p.printJSON(data)
	}
}

func (p *Printer) printJSON(data interface{}) error {
	enc := json.NewEncoder(p.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (p *Printer) printYAML(data interface{}) error {
	enc := yaml.NewEncoder(p.writer)
	enc.SetIndent(2)
	return enc.Encode(data)
}

// Color codes
const (
	Reset   = "\033[0m"
	Bold    = "\033[1m"
	Red     = "\033[31m"
	Green   = "\033[32m"
	Yellow  = "\033[33m"
	Blue    = "\033[34m"
	Magenta = "\033[35m"
	Cyan    = "\033[36m"
	Gray    = "\033[90m"
)

// Colorize adds color to text
func (p *Printer) Colorize(color, text string) string {
	if p.noColor {
		return text
	}
	return color + text + Reset
}

// TableWriter creates a tabwriter for aligned output
func (p *Printer) TableWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(p.writer, 0, 0, 2, ' ', 0)
}

// CommandRow represents one catalog command in table output.
type CommandRow struct {
	Name    string `json:"name" yaml:"name"`
	Heavy   bool   `json:"heavy" yaml:"heavy"`
	Hash    string `json:"hash" yaml:"hash"`
	CodeLen int    `json:"code_bytes,omitempty" yaml:"code_bytes,omitempty"`
}

// PrintCommands prints a catalog command listing.
func (p *Printer) PrintCommands(rows []CommandRow) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(rows)
	}

	if len(rows) == 0 {
		fmt.Fprintln(p.writer, "No commands found")
		return nil
	}

	w := p.TableWriter()
	if p.format == FormatWide {
		fmt.Fprintln(w, p.Colorize(Bold, "NAME\tHEAVY\tHASH\tCODE BYTES"))
	} else {
		fmt.Fprintln(w, p.Colorize(Bold, "NAME\tHEAVY\tHASH"))
	}

	for _, row := range rows {
		heavy := "no"
		if row.Heavy {
			heavy = p.Colorize(Yellow, "yes")
		}
		if p.format == FormatWide {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
				p.Colorize(Cyan, row.Name), heavy, row.Hash, row.CodeLen)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Colorize(Cyan, row.Name), heavy, row.Hash)
		}
	}

	return w.Flush()
}

// CompileResult represents the outcome of compiling a script, for the
// `avapd compile` subcommand.
type CompileResult struct {
	ScriptHash    string `json:"script_hash" yaml:"script_hash"`
	NodeCount     int    `json:"node_count" yaml:"node_count"`
	BytecodeBytes int    `json:"bytecode_bytes" yaml:"bytecode_bytes"`
	Bytecode      string `json:"bytecode,omitempty" yaml:"bytecode,omitempty"` // base64, only when requested
}

// PrintCompileResult prints a compile result.
func (p *Printer) PrintCompileResult(result CompileResult) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(result)
	}

	fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Script Hash:"), result.ScriptHash)
	fmt.Fprintf(p.writer, "%s %d\n", p.Colorize(Bold, "Nodes:"), result.NodeCount)
	fmt.Fprintf(p.writer, "%s %d\n", p.Colorize(Bold, "Bytecode Size:"), result.BytecodeBytes)
	return nil
}

// ExecuteResult represents the outcome of POST /api/v1/execute in CLI
// output.
type ExecuteResult struct {
	RequestID  string          `json:"request_id" yaml:"request_id"`
	Success    bool            `json:"success" yaml:"success"`
	Variables  json.RawMessage `json:"variables,omitempty" yaml:"variables,omitempty"`
	Error      string          `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64           `json:"duration_ms" yaml:"duration_ms"`
	Status     int             `json:"status" yaml:"status"`
}

// PrintExecuteResult prints an execution result.
func (p *Printer) PrintExecuteResult(result ExecuteResult) error {
	if p.format == FormatJSON || p.format == FormatYAML {
		return p.Print(result)
	}

	fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Request ID:"), result.RequestID)
	fmt.Fprintf(p.writer, "%s %d ms\n", p.Colorize(Bold, "Duration:"), result.DurationMs)
	fmt.Fprintf(p.writer, "%s %d\n", p.Colorize(Bold, "Status:"), result.Status)

	if result.Error != "" {
		fmt.Fprintf(p.writer, "%s %s\n", p.Colorize(Bold, "Error:"), p.Colorize(Red, result.Error))
		return nil
	}

	fmt.Fprintf(p.writer, "%s\n", p.Colorize(Bold, "Variables:"))
	var pretty interface{}
	if err := json.Unmarshal(result.Variables, &pretty); err == nil {
		formatted, _ := json.MarshalIndent(pretty, "", "  ")
		fmt.Fprintln(p.writer, string(formatted))
	} else {
		fmt.Fprintln(p.writer, string(result.Variables))
	}

	return nil
}

// LogEntry represents one structured execution log line in CLI output.
type LogEntry struct {
	Timestamp  string `json:"timestamp" yaml:"timestamp"`
	RequestID  string `json:"request_id" yaml:"request_id"`
	Level      string `json:"level" yaml:"level"`
	Message    string `json:"message" yaml:"message"`
	DurationMs int64  `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
}

// PrintLogEntry prints a single log entry
func (p *Printer) PrintLogEntry(entry LogEntry) error {
	if p.format == FormatJSON {
		return p.printJSON(entry)
	}

	// Colorize level
	levelColor := Gray
	switch strings.ToUpper(entry.Level) {
	case "ERROR", "ERR":
		levelColor = Red
	case "WARN", "WARNING":
		levelColor = Yellow
	case "INFO":
		levelColor = Green
	case "DEBUG":
		levelColor = Gray
	}

	fmt.Fprintf(p.writer, "%s %s %s %s\n",
		p.Colorize(Gray, entry.Timestamp),
		p.Colorize(Cyan, "["+entry.RequestID+"]"),
		p.Colorize(levelColor, entry.Level),
		entry.Message,
	)

	return nil
}

// Success prints a success message
func (p *Printer) Success(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Green, "✓ ")+msg)
}

// Error prints an error message
func (p *Printer) Error(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Red, "✗ ")+msg)
}

// Warning prints a warning message
func (p *Printer) Warning(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Yellow, "⚠ ")+msg)
}

// Info prints an info message
func (p *Printer) Info(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(p.writer, p.Colorize(Blue, "ℹ ")+msg)
}
