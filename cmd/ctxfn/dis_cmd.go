package main

import (
	"fmt"
	"os"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/xmorgan/codetools/asm"
	"github.com/xmorgan/codetools/dis"
	"github.com/xmorgan/codetools/rewrite"
)

func disHandler(ctx *cli.Context) error {
	source, err := getSource(ctx)
	if err != nil {
		return err
	}
	assembly, err := asm.Parse(source)
	if err != nil {
		return err
	}
	code := assembly.Code
	if ctx.Bool("rewritten") {
		code, err = rewrite.ForContext(code)
		if err != nil {
			return err
		}
	}
	instructions, err := dis.Disassemble(code)
	if err != nil {
		return err
	}
	dis.Print(instructions, os.Stdout)
	return nil
}

func rewriteHandler(ctx *cli.Context) error {
	source, err := getSource(ctx)
	if err != nil {
		return err
	}
	assembly, err := asm.Parse(source)
	if err != nil {
		return err
	}
	code := assembly.Code

	rewritten, err := rewrite.ForContext(code)
	if err != nil {
		return err
	}

	fmt.Printf("function:   %s\n", code.Name())
	fmt.Printf("name table: %v\n", rewritten.Names())
	fmt.Printf("  globals:  %v\n", code.Names())
	fmt.Printf("  cells:    %v\n", code.CellAndFreeNames())
	fmt.Printf("  locals:   %v\n", code.VarNames())
	fmt.Println()

	instructions, err := dis.Disassemble(rewritten)
	if err != nil {
		return err
	}
	dis.Print(instructions, os.Stdout)
	return nil
}
