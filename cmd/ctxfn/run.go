package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/rs/zerolog"
	"github.com/xmorgan/codetools"
	"github.com/xmorgan/codetools/asm"
	"github.com/xmorgan/codetools/namespace"
	"github.com/xmorgan/codetools/vm"
)

func runHandler(ctx *cli.Context) error {
	logger := getLogger(ctx)

	source, err := getSource(ctx)
	if err != nil {
		return err
	}
	assembly, err := asm.Parse(source)
	if err != nil {
		return err
	}
	logger.Debug().
		Str("function", assembly.Name).
		Int("bytes", assembly.Code.InstructionSize()).
		Msg("assembled")

	fn := assembly.Function(builtins())
	wrapped, err := codetools.Wrap(fn, func() namespace.Namespace {
		return namespace.NewDict()
	})
	if err != nil {
		return err
	}
	logger.Debug().
		Int("names", wrapped.Code().NameCount()).
		Msg("rewritten for context execution")

	args, err := parseCallArgs(ctx.String("args"))
	if err != nil {
		return err
	}
	result, err := wrapped.Call(context.Background(), args...)
	if err != nil {
		return err
	}
	logger.Debug().Msg("call returned")

	output, err := formatOutput(ctx, result)
	if err != nil {
		return err
	}
	if output != "" {
		fmt.Println(output)
	}
	return nil
}

func versionHandler(ctx *cli.Context) error {
	if strings.ToLower(ctx.String("output")) == "json" {
		info, err := json.MarshalIndent(map[string]any{
			"version": version,
			"commit":  commit,
			"date":    date,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(info))
	} else {
		fmt.Println(version)
	}
	return nil
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: stderrWriter(), NoColor: ctx.Bool("no-color")}
	logger := zerolog.New(writer).With().Timestamp().Logger()
	if ctx.Bool("verbose") {
		return logger.Level(zerolog.DebugLevel)
	}
	return logger.Level(zerolog.WarnLevel)
}

// builtins is the global environment assembled functions run against.
func builtins() map[string]any {
	return map[string]any{
		"print": vm.Builtin(func(ctx context.Context, args ...any) (any, error) {
			out := make([]any, len(args))
			copy(out, args)
			fmt.Println(out...)
			return nil, nil
		}),
		"len": vm.Builtin(func(ctx context.Context, args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("len() takes 1 argument, got %d", len(args))
			}
			switch v := args[0].(type) {
			case string:
				return int64(len(v)), nil
			case []any:
				return int64(len(v)), nil
			case map[string]any:
				return int64(len(v)), nil
			default:
				return nil, fmt.Errorf("len() unsupported for %s", vm.TypeName(args[0]))
			}
		}),
		"type": vm.Builtin(func(ctx context.Context, args ...any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("type() takes 1 argument, got %d", len(args))
			}
			return vm.TypeName(args[0]), nil
		}),
	}
}
