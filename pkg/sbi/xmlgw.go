package sbi

import (
	"bytes"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// XGNode is one request or response node of the XML gateway tree protocol
// spoken by MLNX-OS-style switches.
type XGNode struct {
	Name  string `xml:"name"`
	Type  string `xml:"type"`
	Value string `xml:"value"`
}

type xgRequest struct {
	XMLName xml.Name `xml:"xg-request"`
	Nodes   []XGNode `xml:"action-request>nodes>node"`
}

type xgStatus struct {
	StatusCode int    `xml:"status-code"`
	StatusMsg  string `xml:"status-msg"`
}

type xgResponse struct {
	XMLName xml.Name  `xml:"xg-response"`
	Status  *xgStatus `xml:"action-response>return-status"`
	Nodes   []XGNode  `xml:"action-response>nodes>node"`
}

// GetNodes builds get-requests for every identifier substituted into the
// node path template.
func GetNodes(template string, identifiers ...string) []XGNode {
	nodes := make([]XGNode, 0, len(identifiers))
	for _, id := range identifiers {
		nodes = append(nodes, XGNode{Name: "get", Type: "string", Value: fmt.Sprintf(template, id)})
	}
	return nodes
}

// ActionNodes builds action-requests for every identifier substituted into
// the node path template.
func ActionNodes(template string, identifiers ...string) []XGNode {
	nodes := make([]XGNode, 0, len(identifiers))
	for _, id := range identifiers {
		nodes = append(nodes, XGNode{Name: "action", Type: "string", Value: fmt.Sprintf(template, id)})
	}
	return nodes
}

// XGDriver speaks the XML gateway protocol: form login for a session
// cookie, then XML request trees posted to /xtree.
type XGDriver struct {
	device        model.DeviceInfo
	skipTLSVerify bool

	mu            sync.Mutex
	client        *http.Client
	authenticated bool
}

// NewXGDriver creates a driver for the device.
func NewXGDriver(device model.DeviceInfo, skipTLSVerify bool) *XGDriver {
	return &XGDriver{device: device, skipTLSVerify: skipTLSVerify}
}

func (d *XGDriver) session() (*http.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.authenticated {
		return d.client, nil
	}

	if d.client == nil {
		jar, _ := cookiejar.New(nil)
		d.client = &http.Client{
			Jar: jar,
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{InsecureSkipVerify: d.skipTLSVerify},
				ResponseHeaderTimeout: ReadTimeout,
			},
			Timeout: ConnectTimeout + ReadTimeout,
		}
	}

	login := url.Values{
		"f_user_id":  {d.device.User},
		"f_password": {d.device.Password},
	}
	loginURL := fmt.Sprintf("https://%s/admin/launch?script=rh&template=login&action=login", d.device.Address)
	resp, err := d.client.PostForm(loginURL, login)
	if err != nil {
		return nil, fmt.Errorf("%w: login: %v", util.ErrUnreachable, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: login returned %d", util.ErrUnauthenticated, resp.StatusCode)
	}

	d.authenticated = true
	return d.client, nil
}

// Close drops the authenticated session.
func (d *XGDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authenticated = false
}

// Post sends the request nodes and returns the response nodes.
func (d *XGDriver) Post(nodes []XGNode) ([]XGNode, error) {
	var result []XGNode
	err := withRetry(func() error {
		client, err := d.session()
		if err != nil {
			return err
		}

		raw, err := xml.Marshal(xgRequest{Nodes: nodes})
		if err != nil {
			return fmt.Errorf("encoding xg-request: %w", err)
		}

		resp, err := client.Post(
			fmt.Sprintf("https://%s/xtree", d.device.Address),
			"text/xml",
			bytes.NewReader(raw),
		)
		if err != nil {
			d.Close()
			return fmt.Errorf("%w: %v", util.ErrUnreachable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			d.Close()
			return fmt.Errorf("%w: reading xtree response: %v", util.ErrUnreachable, err)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%w: xtree returned %d", util.ErrUnauthenticated, resp.StatusCode)
		}

		var parsed xgResponse
		if err := xml.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("%w: decoding xtree response: %v", util.ErrMisconfigured, err)
		}
		if parsed.Status != nil && (parsed.Status.StatusCode != 0 || parsed.Status.StatusMsg != "") {
			if strings.Contains(parsed.Status.StatusMsg, "Not Authenticated") {
				d.Close()
				return fmt.Errorf("%w: %s", util.ErrUnauthenticated, parsed.Status.StatusMsg)
			}
			return fmt.Errorf("%w: status %d: %s", util.ErrMisconfigured,
				parsed.Status.StatusCode, parsed.Status.StatusMsg)
		}

		result = parsed.Nodes
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
