// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/triad/pkg/frame"
	"github.com/Thermoquad/triad/pkg/payload"
)

var (
	frameAddress uint8
	frameCommand string
	frameData    string
)

var frameCmd = &cobra.Command{
	Use:   "frame",
	Short: "Encode and decode frames offline",
}

var frameEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Encode a command or data frame",
	Long: `Encode a single frame and print it as hex.

A command frame is built from --command, which takes a command name
(START_DOWNLOAD) or a number (0x02). A data frame is built from --data,
which takes hex bytes ("AA BB CC").`,
	Example: `  triad frame encode --address 3 --command REQUEST_PACKET
  triad frame encode --address 5 --data "AA BB CC"`,
	Args: cobra.NoArgs,
	RunE: runFrameEncode,
}

var frameDecodeCmd = &cobra.Command{
	Use:     "decode <hex>...",
	Short:   "Decode frames from hex bytes",
	Example: `  triad frame decode 6B 03 AA BB CC`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runFrameDecode,
}

func init() {
	rootCmd.AddCommand(frameCmd)
	frameCmd.AddCommand(frameEncodeCmd, frameDecodeCmd)

	frameEncodeCmd.Flags().Uint8Var(&frameAddress, "address", payload.DefaultAddress, "Frame address (0-7)")
	frameEncodeCmd.Flags().StringVar(&frameCommand, "command", "", "Command name or id")
	frameEncodeCmd.Flags().StringVar(&frameData, "data", "", "Payload as hex bytes")
	frameEncodeCmd.MarkFlagsMutuallyExclusive("command", "data")
	frameEncodeCmd.MarkFlagsOneRequired("command", "data")
}

// parseHex parses hex bytes, ignoring whitespace, commas and 0x prefixes
func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer("0x", "", "0X", "", ",", " ").Replace(s)
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

// parseCommandID accepts a command name or a number
func parseCommandID(s string) (uint8, error) {
	if code, err := payload.ParseCommandCode(s); err == nil {
		return uint8(code), nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown command %q", s)
	}
	return uint8(n), nil
}

func encodeFrame(address uint8, command, data string) ([]byte, error) {
	if command != "" {
		id, err := parseCommandID(command)
		if err != nil {
			return nil, err
		}
		return frame.EncodeCommand(address, id)
	}
	p, err := parseHex(data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return frame.EncodeData(address, p)
}

func runFrameEncode(cmd *cobra.Command, args []string) error {
	raw, err := encodeFrame(frameAddress, frameCommand, frameData)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), frame.FormatHex(raw))
	return nil
}

// decodeFrames decodes every frame in raw, in order
func decodeFrames(raw []byte) ([]*frame.Frame, error) {
	var frames []*frame.Frame
	for len(raw) > 0 {
		f, err := frame.Decode(raw)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		raw = raw[frame.HeaderSize+len(f.Payload()):]
	}
	if len(frames) == 0 {
		return nil, errors.New("no frames")
	}
	return frames, nil
}

func runFrameDecode(cmd *cobra.Command, args []string) error {
	raw, err := parseHex(strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	frames, err := decodeFrames(raw)
	for _, f := range frames {
		fmt.Fprint(cmd.OutOrStdout(), frame.FormatFrame(f, payload.CommandName))
	}
	return err
}
