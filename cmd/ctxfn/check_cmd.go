package main

import (
	"fmt"

	"github.com/deepnoodle-ai/wonton/cli"
	"github.com/xmorgan/codetools/conformance"
	"github.com/xmorgan/codetools/namespace"
)

func checkHandler(ctx *cli.Context) error {
	err := conformance.Check(func() namespace.Namespace {
		return namespace.NewDict()
	})
	if err != nil {
		return err
	}
	fmt.Println("namespace.Dict conforms to the mapping contract")
	return nil
}
