// Package browser provides the page sessions workers use to load article URLs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrSessionClosed is returned by Load after Close.
var ErrSessionClosed = errors.New("session closed")

// Layout carries geometry measured by a rendering browser.
type Layout struct {
	OverlappingPairs int
}

// Snapshot is the loaded state of one URL.
type Snapshot struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	HTML       string
	Duration   time.Duration
	// Layout is nil when the session does not render pages.
	Layout *Layout
}

// Session is a page handle exclusively owned by one worker.
type Session interface {
	Load(ctx context.Context, url string) (Snapshot, error)
	Close() error
}

// Factory opens new sessions.
type Factory interface {
	Open(ctx context.Context) (Session, error)
}

// FactoryFunc adapts a function into a Factory.
type FactoryFunc func(ctx context.Context) (Session, error)

// Open implements Factory.
func (f FactoryFunc) Open(ctx context.Context) (Session, error) {
	return f(ctx)
}

// Proxy routes a session through an authenticated HTTP proxy.
type Proxy struct {
	Host     string
	Port     string
	Username string
	Password string
}

// Enabled reports whether a proxy host is configured.
func (p *Proxy) Enabled() bool {
	return p != nil && p.Host != ""
}

// Address returns host:port.
func (p *Proxy) Address() string {
	return net.JoinHostPort(p.Host, p.Port)
}

// URL returns the proxy URL without credentials.
func (p *Proxy) URL() string {
	return fmt.Sprintf("http://%s", p.Address())
}

func (p *Proxy) hasCredentials() bool {
	return p.Enabled() && p.Username != ""
}
