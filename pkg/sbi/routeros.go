package sbi

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-routeros/routeros/v3"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// DefaultAPIPort is the RouterOS API port used when the device address
// carries none.
const DefaultAPIPort = "8728"

// ROSDriver drives a RouterOS device over its native API protocol. One
// persistent connection per device, created lazily; commands follow the
// /path/print, /path/add, /path/set, /path/remove word structure.
type ROSDriver struct {
	device model.DeviceInfo

	mu     sync.Mutex
	client *routeros.Client
}

// NewROSDriver creates a driver for the device.
func NewROSDriver(device model.DeviceInfo) *ROSDriver {
	return &ROSDriver{device: device}
}

func (d *ROSDriver) session() (*routeros.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	address := d.device.Address
	if !strings.Contains(address, ":") {
		address = address + ":" + DefaultAPIPort
	}

	dialer := &net.Dialer{Timeout: ConnectTimeout}
	conn, err := dialer.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", util.ErrUnreachable, address, err)
	}

	client, err := routeros.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", util.ErrUnreachable, err)
	}
	if err := client.Login(d.device.User, d.device.Password); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", util.ErrUnauthenticated, err)
	}

	d.client = client
	util.WithDevice(d.device.Name).Debug("RouterOS API session established")
	return client, nil
}

// Close tears down the persistent session.
func (d *ROSDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Close()
		d.client = nil
	}
}

func (d *ROSDriver) run(words ...string) (*routeros.Reply, error) {
	var reply *routeros.Reply
	err := withRetry(func() error {
		client, err := d.session()
		if err != nil {
			return err
		}
		reply, err = client.Run(words...)
		if err != nil {
			if _, ok := err.(*routeros.DeviceError); ok {
				// The API answered: the command itself was refused.
				return fmt.Errorf("%w: %s: %v", util.ErrMisconfigured, words[0], err)
			}
			d.Close()
			return fmt.Errorf("%w: %s: %v", util.ErrUnreachable, words[0], err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Print lists the rows under path, optionally filtered by API queries
// ("?interface=ether1").
func (d *ROSDriver) Print(path string, queries ...string) ([]map[string]string, error) {
	words := append([]string{path + "/print"}, queries...)
	reply, err := d.run(words...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}

// Add creates a row under path and returns its .id.
func (d *ROSDriver) Add(path string, props map[string]string) (string, error) {
	words := []string{path + "/add"}
	for k, v := range props {
		words = append(words, fmt.Sprintf("=%s=%s", k, v))
	}
	reply, err := d.run(words...)
	if err != nil {
		return "", err
	}
	if reply.Done != nil {
		if id, ok := reply.Done.Map["ret"]; ok {
			return id, nil
		}
	}
	return "", nil
}

// Set updates the row with the given .id.
func (d *ROSDriver) Set(path, id string, props map[string]string) error {
	words := []string{path + "/set", "=.id=" + id}
	for k, v := range props {
		words = append(words, fmt.Sprintf("=%s=%s", k, v))
	}
	_, err := d.run(words...)
	return err
}

// Remove deletes the row with the given .id.
func (d *ROSDriver) Remove(path, id string) error {
	_, err := d.run(path+"/remove", "=.id="+id)
	return err
}

// Command runs an arbitrary command ("/interface/ethernet/monitor") with
// explicit attribute words and returns the result rows.
func (d *ROSDriver) Command(path string, props map[string]string) ([]map[string]string, error) {
	words := []string{path}
	for k, v := range props {
		words = append(words, fmt.Sprintf("=%s=%s", k, v))
	}
	reply, err := d.run(words...)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(reply.Re))
	for _, re := range reply.Re {
		rows = append(rows, re.Map)
	}
	return rows, nil
}
