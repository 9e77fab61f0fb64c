// Package connectivity answers whether a sync attempt is worth making: the
// device must have an active network link and the sync server must be
// reachable over it.
package connectivity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ErrOffline is reported when either check fails
var ErrOffline = errors.New("device is offline")

// Status is the result of one connectivity check
type Status struct {
	Connected         bool
	InternetReachable bool
}

// Online reports whether both the link and the server are up
func (s Status) Online() bool {
	return s.Connected && s.InternetReachable
}

// Err returns ErrOffline wrapped with the failing check, or nil when online
func (s Status) Err() error {
	switch {
	case !s.Connected:
		return fmt.Errorf("%w: no active network interface", ErrOffline)
	case !s.InternetReachable:
		return fmt.Errorf("%w: server unreachable", ErrOffline)
	}
	return nil
}

// Checker reports current connectivity
type Checker interface {
	Check(ctx context.Context) Status
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) Status

func (f CheckerFunc) Check(ctx context.Context) Status {
	return f(ctx)
}

// NetChecker checks for a non-loopback interface that is up and then probes
// the server with a HEAD request.
type NetChecker struct {
	probeURL   string
	timeout    time.Duration
	httpClient *http.Client
	interfaces func() ([]net.Interface, error)
}

// NewNetChecker creates a checker probing probeURL
func NewNetChecker(probeURL string, timeout time.Duration, hc *http.Client) *NetChecker {
	if hc == nil {
		hc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NetChecker{
		probeURL:   probeURL,
		timeout:    timeout,
		httpClient: hc,
		interfaces: net.Interfaces,
	}
}

// Check never returns an error; failures read as offline
func (c *NetChecker) Check(ctx context.Context) Status {
	var st Status
	st.Connected = c.linkUp()
	if !st.Connected {
		slog.Debug("no active network interface")
		return st
	}
	st.InternetReachable = c.probe(ctx)
	return st
}

func (c *NetChecker) linkUp() bool {
	ifaces, err := c.interfaces()
	if err != nil {
		slog.Debug("failed to list network interfaces", "error", err)
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}

func (c *NetChecker) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.probeURL, nil)
	if err != nil {
		slog.Debug("invalid reachability url", "url", c.probeURL, "error", err)
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Debug("reachability probe failed", "url", c.probeURL, "error", err)
		return false
	}
	resp.Body.Close()

	// Any HTTP answer, even 404 or 405, proves the server is reachable.
	return true
}
