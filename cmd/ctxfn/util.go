package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/fatih/color"
	"github.com/hokaccha/go-prettyjson"
	"github.com/mattn/go-isatty"
)

// getSource resolves the assembly listing from the -c flag, --stdin, or a
// file argument.
func getSource(ctx *cli.Context) (string, error) {
	codeSet := ctx.IsSet("code")
	stdinSet := ctx.Bool("stdin")
	fileProvided := ctx.Arg(0) != ""

	count := 0
	if codeSet {
		count++
	}
	if stdinSet {
		count++
	}
	if fileProvided {
		count++
	}
	if count > 1 {
		return "", errors.New("multiple input sources specified")
	}
	if count == 0 {
		return "", errors.New("no input provided")
	}

	if stdinSet {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if fileProvided {
		data, err := os.ReadFile(ctx.Arg(0))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return ctx.String("code"), nil
}

// parseCallArgs parses a comma-separated argument list into call values.
// Each element is an int, float, quoted string, true, false or nil;
// anything else is passed through as a string. Commas inside quoted
// strings are not supported.
func parseCallArgs(spec string) ([]any, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	parts := strings.Split(spec, ",")
	args := make([]any, 0, len(parts))
	for _, part := range parts {
		args = append(args, parseCallArg(strings.TrimSpace(part)))
	}
	return args, nil
}

func parseCallArg(text string) any {
	switch text {
	case "nil":
		return nil
	case "true":
		return true
	case "false":
		return false
	}
	if strings.HasPrefix(text, "\"") {
		if value, err := strconv.Unquote(text); err == nil {
			return value
		}
	}
	if i, err := strconv.ParseInt(text, 0, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return f
	}
	return text
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stderrWriter() io.Writer {
	return os.Stderr
}

func formatOutput(ctx *cli.Context, result any) (string, error) {
	format := strings.ToLower(ctx.String("output"))
	useColor := !ctx.Bool("no-color") && isTerminal(os.Stdout)
	if !useColor {
		color.NoColor = true
	}

	switch format {
	case "":
		// Default: try JSON, fall back to the string representation
		if result == nil {
			return "", nil
		}
		output, err := marshalResult(result, useColor)
		if err != nil {
			return fmt.Sprintf("%v", result), nil
		}
		return string(output), nil
	case "json":
		output, err := marshalResult(result, useColor)
		if err != nil {
			return "", err
		}
		return string(output), nil
	case "text":
		return fmt.Sprintf("%v", result), nil
	default:
		return "", fmt.Errorf("unknown output format: %s", format)
	}
}

func marshalResult(result any, useColor bool) ([]byte, error) {
	if useColor {
		return prettyjson.Marshal(result)
	}
	return json.MarshalIndent(result, "", "  ")
}
