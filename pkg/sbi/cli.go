package sbi

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// CLIDriver drives a switch CLI over SSH. One persistent SSH connection per
// device, created lazily on first use; each command runs in its own session.
type CLIDriver struct {
	device model.DeviceInfo

	mu     sync.Mutex
	client *ssh.Client
}

// NewCLIDriver creates a driver for the device. No connection is made until
// the first command.
func NewCLIDriver(device model.DeviceInfo) *CLIDriver {
	return &CLIDriver{device: device}
}

func classifySSHError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "permission denied") ||
		strings.Contains(msg, "handshake failed: ssh: ") {
		return fmt.Errorf("%w: %v", util.ErrUnauthenticated, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no route to host") || strings.Contains(msg, "i/o timeout") {
		return fmt.Errorf("%w: %v", util.ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %v", util.ErrUnreachable, err)
}

func (d *CLIDriver) session() (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	cfg := &ssh.ClientConfig{
		User: d.device.User,
		Auth: []ssh.AuthMethod{ssh.Password(d.device.Password)},
		// Device host keys are not provisioned in the fabric inventory.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         ConnectTimeout,
	}

	addr := d.device.Address
	if !strings.Contains(addr, ":") {
		addr = addr + ":22"
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, classifySSHError(err)
	}
	d.client = client
	util.WithDevice(d.device.Name).Debug("CLI session established")
	return client, nil
}

// Close tears down the persistent session, forcing a reconnect on the next
// command.
func (d *CLIDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
}

func (d *CLIDriver) run(cmd string, timeout time.Duration) (string, error) {
	client, err := d.session()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		d.Close()
		return "", classifySSHError(err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return string(res.out), classifySSHError(res.err)
		}
		return string(res.out), nil
	case <-time.After(timeout):
		d.Close()
		return "", fmt.Errorf("%w: command %q timed out after %s", util.ErrUnreachable, cmd, timeout)
	}
}

// SendCommands runs the configuration commands in order and returns the
// per-command output. Retried as a unit on unreachable failures.
func (d *CLIDriver) SendCommands(commands []string) ([]string, error) {
	var outputs []string
	err := withRetry(func() error {
		outputs = outputs[:0]
		for _, cmd := range commands {
			util.WithDevice(d.device.Name).Debugf("sending command %q", cmd)
			out, err := d.run(cmd, CommandTimeout)
			if err != nil {
				return err
			}
			outputs = append(outputs, out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outputs, nil
}

// GetInfo runs a single show command and returns its raw output.
func (d *CLIDriver) GetInfo(command string) (string, error) {
	var out string
	err := withRetry(func() error {
		var err error
		out, err = d.run(command, ReadTimeout)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
