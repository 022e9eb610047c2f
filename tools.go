//go:build tools
// +build tools

// Tool dependencies invoked through go generate.
package main

import (
	_ "go.uber.org/mock/mockgen"
)
