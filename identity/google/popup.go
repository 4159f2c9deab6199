package google

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/mindease/mindease/errors"
	"github.com/mindease/mindease/identity"
)

const callbackPath = "/callback"

// LoopbackPopup is a Popup for command line and desktop use. It listens on a
// random loopback port and hands the authorization URL to an opener, usually
// something that launches a browser or prints the URL.
type LoopbackPopup struct {
	open     func(authURL string) error
	listener net.Listener
	server   *http.Server
	results  chan url.Values
	busy     sync.Mutex

	mu      sync.Mutex // Guards waiting.
	waiting bool
}

// NewLoopbackPopup starts listening on 127.0.0.1 and returns the popup.
func NewLoopbackPopup(open func(authURL string) error) (*LoopbackPopup, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, errors.WrapPrefix(err, "google: loopback listener failed", 0)
	}
	p := &LoopbackPopup{
		open:     open,
		listener: ln,
		results:  make(chan url.Values, 1),
	}
	p.server = &http.Server{
		Handler:           http.HandlerFunc(p.handleCallback),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = p.server.Serve(ln) }()
	return p, nil
}

// RedirectURL is the loopback callback address.
func (p *LoopbackPopup) RedirectURL() string {
	return "http://" + p.listener.Addr().String() + callbackPath
}

// Open hands authURL to the opener and waits for the redirect. Only one popup
// can be open at a time, a concurrent request fails with
// identity.ErrCancelledPopup.
func (p *LoopbackPopup) Open(ctx context.Context, authURL string) (url.Values, error) {
	if !p.busy.TryLock() {
		return nil, errors.Mark(identity.ErrCancelledPopup, 0)
	}
	defer p.busy.Unlock()

	p.setWaiting(true)
	defer p.setWaiting(false)

	if err := p.open(authURL); err != nil {
		return nil, errors.Mark(identity.ErrPopupClosed, 0).Append(err.Error())
	}
	select {
	case v := <-p.results:
		return v, nil
	case <-ctx.Done():
		return nil, errors.Mark(identity.ErrPopupClosed, 0).Append(ctx.Err().Error())
	}
}

// Close stops the loopback listener.
func (p *LoopbackPopup) Close() error {
	return p.server.Close()
}

func (p *LoopbackPopup) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != callbackPath {
		http.NotFound(w, r)
		return
	}
	p.mu.Lock()
	if !p.waiting {
		p.mu.Unlock()
		http.Error(w, "No sign in is in progress.", http.StatusConflict)
		return
	}
	p.waiting = false
	p.results <- r.URL.Query()
	p.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "Sign in complete. You can close this window and return to MindEase.")
}

func (p *LoopbackPopup) setWaiting(waiting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waiting = waiting
	if waiting {
		// Drop a result left over from an abandoned popup.
		select {
		case <-p.results:
		default:
		}
	}
}
