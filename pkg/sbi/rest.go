package sbi

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/util"
)

// RESTOptions tunes a RESTDriver for the vendor API it talks to.
type RESTOptions struct {
	// BasePath is prepended to every request path ("restconf/data" for
	// RESTCONF switches, "api/v2" for the firewall).
	BasePath string
	// Scheme defaults to https.
	Scheme string
	// Headers are sent on every request.
	Headers map[string]string
	// BasicAuth sends user/password basic authentication.
	BasicAuth bool
	// SkipTLSVerify disables certificate verification (policy knob from
	// the controller configuration).
	SkipTLSVerify bool
}

// RESTDriver is a retrying JSON-over-HTTP client for one device.
type RESTDriver struct {
	device model.DeviceInfo
	opts   RESTOptions

	once   sync.Once
	client *http.Client
}

// NewRESTDriver creates a REST driver for the device.
func NewRESTDriver(device model.DeviceInfo, opts RESTOptions) *RESTDriver {
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	return &RESTDriver{device: device, opts: opts}
}

func (d *RESTDriver) httpClient() *http.Client {
	d.once.Do(func() {
		transport := &http.Transport{
			TLSClientConfig:       &tls.Config{InsecureSkipVerify: d.opts.SkipTLSVerify},
			ResponseHeaderTimeout: ReadTimeout,
		}
		d.client = &http.Client{
			Transport: transport,
			Timeout:   ConnectTimeout + ReadTimeout,
		}
	})
	return d.client
}

func (d *RESTDriver) buildURL(path string) string {
	u := url.URL{
		Scheme: d.opts.Scheme,
		Host:   d.device.Address,
	}
	parts := []string{}
	if d.opts.BasePath != "" {
		parts = append(parts, strings.Trim(d.opts.BasePath, "/"))
	}
	parts = append(parts, strings.TrimLeft(path, "/"))
	u.Path = "/" + strings.Join(parts, "/")
	if idx := strings.IndexByte(u.Path, '?'); idx >= 0 {
		u.RawQuery = u.Path[idx+1:]
		u.Path = u.Path[:idx]
	}
	return u.String()
}

func (d *RESTDriver) do(method, path string, body, out interface{}) error {
	return withRetry(func() error {
		var reader io.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encoding %s %s body: %w", method, path, err)
			}
			reader = bytes.NewReader(raw)
		}

		req, err := http.NewRequest(method, d.buildURL(path), reader)
		if err != nil {
			return fmt.Errorf("building %s %s: %w", method, path, err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range d.opts.Headers {
			req.Header.Set(k, v)
		}
		if d.opts.BasicAuth {
			req.SetBasicAuth(d.device.User, d.device.Password)
		} else if d.device.ClientID != "" {
			req.Header.Set("Authorization", fmt.Sprintf("%s %s", d.device.ClientID, d.device.ClientKey))
		}

		resp, err := d.httpClient().Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %v", util.ErrUnreachable, method, path, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: reading %s %s response: %v", util.ErrUnreachable, method, path, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s %s returned %d", util.ErrUnauthenticated, method, path, resp.StatusCode)
		case resp.StatusCode >= 400:
			return fmt.Errorf("%w: %s %s returned %d: %s", util.ErrMisconfigured, method, path,
				resp.StatusCode, strings.TrimSpace(string(raw)))
		}

		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("%w: decoding %s %s response: %v", util.ErrMisconfigured, method, path, err)
			}
		}
		return nil
	})
}

// Get fetches path and decodes the JSON response into out.
func (d *RESTDriver) Get(path string, out interface{}) error {
	return d.do(http.MethodGet, path, nil, out)
}

// Post sends body to path; a non-nil out receives the decoded response.
func (d *RESTDriver) Post(path string, body, out interface{}) error {
	return d.do(http.MethodPost, path, body, out)
}

// Put sends body to path.
func (d *RESTDriver) Put(path string, body, out interface{}) error {
	return d.do(http.MethodPut, path, body, out)
}

// Patch sends a partial update to path.
func (d *RESTDriver) Patch(path string, body, out interface{}) error {
	return d.do(http.MethodPatch, path, body, out)
}

// Delete removes the resource at path.
func (d *RESTDriver) Delete(path string) error {
	return d.do(http.MethodDelete, path, nil, nil)
}
