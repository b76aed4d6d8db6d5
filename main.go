// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Triad - Triple-redundant flight board coordinator
//
// A CLI tool for running the boards of a triple-redundant flight computer,
// forwarding ground commands to the payload and inspecting the links between
// them.

package main

import (
	"os"

	"github.com/Thermoquad/triad/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
