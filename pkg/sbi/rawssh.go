package sbi

import (
	"encoding/json"
	"fmt"

	"github.com/robertobru/netcl/pkg/model"
)

// CommandResult is the stdout of one remotely executed command, optionally
// parsed as JSON when the caller asked for it.
type CommandResult struct {
	Command string
	Stdout  string
	Parsed  interface{}
}

// RawSSHDriver executes plain shell commands on a device, used to reach the
// FRR vtysh channel on SONiC switches and on the firewall. It shares the
// session handling of CLIDriver.
type RawSSHDriver struct {
	cli *CLIDriver
}

// NewRawSSHDriver creates a raw SSH driver for the device.
func NewRawSSHDriver(device model.DeviceInfo) *RawSSHDriver {
	return &RawSSHDriver{cli: NewCLIDriver(device)}
}

// Close tears down the persistent session.
func (d *RawSSHDriver) Close() { d.cli.Close() }

// SendCommands executes the commands in order. With jsonParse set each
// stdout is decoded into Parsed; undecodable output is a hard error since
// the caller asked for structured data.
func (d *RawSSHDriver) SendCommands(commands []string, jsonParse bool) ([]CommandResult, error) {
	outputs, err := d.cli.SendCommands(commands)
	if err != nil {
		return nil, err
	}

	results := make([]CommandResult, 0, len(outputs))
	for i, out := range outputs {
		res := CommandResult{Command: commands[i], Stdout: out}
		if jsonParse {
			var parsed interface{}
			if err := json.Unmarshal([]byte(out), &parsed); err != nil {
				return nil, fmt.Errorf("parsing output of %q as JSON: %w", commands[i], err)
			}
			res.Parsed = parsed
		}
		results = append(results, res)
	}
	return results, nil
}
