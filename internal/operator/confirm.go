// Package operator implements the channels through which a human confirms that an
// anti-bot challenge has been solved in the live browser window.
package operator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/ershoufang-crawler/internal/fetcher"
)

var (
	// ErrNothingPending is returned by Gate.Confirm when no challenge is awaiting confirmation.
	ErrNothingPending = errors.New("no challenge pending")
	// ErrNoConfirmers is returned by Any when it has nothing to wait on.
	ErrNoConfirmers = errors.New("no confirmation channel configured")
)

const noticeBanner = "=================================================="

// Console prints the challenge notice and waits for the operator to press Enter.
type Console struct {
	out io.Writer

	once  sync.Once
	in    *bufio.Reader
	lines chan string
}

// NewConsole reads confirmations from in and writes notices to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{out: out, in: bufio.NewReader(in), lines: make(chan string)}
}

// AwaitConfirmation blocks until a line is read or ctx is done.
func (c *Console) AwaitConfirmation(ctx context.Context, notice fetcher.Notice) error {
	c.once.Do(func() { go c.readLines() })
	c.drain()

	fmt.Fprintln(c.out, noticeBanner)
	fmt.Fprintln(c.out, "检测到验证码，需要手动处理 (anti-bot challenge detected)")
	fmt.Fprintf(c.out, "页面 (page): %s\n", notice.URL)
	fmt.Fprintln(c.out, "1. 在浏览器中完成人机验证 (solve the verification in the browser window)")
	fmt.Fprintln(c.out, "2. 验证成功后页面会显示二手房列表 (the listing page should then appear)")
	fmt.Fprintln(c.out, "3. 完成后回到控制台按回车键继续 (press Enter here to continue)")
	fmt.Fprintln(c.out, noticeBanner)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-c.lines:
		if !ok {
			return io.EOF
		}
		return nil
	}
}

// drain discards lines typed before the current challenge appeared.
func (c *Console) drain() {
	for {
		select {
		case _, ok := <-c.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (c *Console) readLines() {
	defer close(c.lines)
	for {
		line, err := c.in.ReadString('\n')
		if line != "" || err == nil {
			c.lines <- strings.TrimSpace(line)
		}
		if err != nil {
			return
		}
	}
}

// Pending describes the challenge a Gate is waiting on.
type Pending struct {
	URL   string    `json:"url"`
	Since time.Time `json:"since"`
}

// Gate is an in-process confirmation signal, fulfilled by Confirm.
// Each AwaitConfirmation call arms it once.
type Gate struct {
	now func() time.Time

	mu      sync.Mutex
	pending *Pending
	done    chan struct{}
	armed   chan struct{}
}

// NewGate returns an unarmed Gate.
func NewGate() *Gate {
	return &Gate{now: time.Now, armed: make(chan struct{}, 1)}
}

// AwaitConfirmation arms the gate and blocks until Confirm or ctx is done.
func (g *Gate) AwaitConfirmation(ctx context.Context, notice fetcher.Notice) error {
	done := make(chan struct{})
	g.mu.Lock()
	g.pending = &Pending{URL: notice.URL, Since: g.now().UTC()}
	g.done = done
	g.mu.Unlock()
	select {
	case g.armed <- struct{}{}:
	default:
	}

	defer g.disarm(done)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Armed signals (once per arming, best-effort) that a confirmation is awaited.
func (g *Gate) Armed() <-chan struct{} {
	return g.armed
}

func (g *Gate) disarm(done chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done == done {
		g.pending = nil
		g.done = nil
	}
}

// Confirm releases the pending wait.
func (g *Gate) Confirm() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done == nil {
		return ErrNothingPending
	}
	close(g.done)
	g.pending = nil
	g.done = nil
	return nil
}

// Pending returns the challenge currently awaiting confirmation.
func (g *Gate) Pending() (Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Pending{}, false
	}
	return *g.pending, true
}

// Any waits on every confirmer and returns once the first of them confirms.
type Any []fetcher.Confirmer

// AwaitConfirmation implements fetcher.Confirmer.
func (a Any) AwaitConfirmation(ctx context.Context, notice fetcher.Notice) error {
	if len(a) == 0 {
		return ErrNoConfirmers
	}
	if len(a) == 1 {
		return a[0].AwaitConfirmation(ctx, notice)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan error, len(a))
	for _, c := range a {
		go func(c fetcher.Confirmer) {
			results <- c.AwaitConfirmation(waitCtx, notice)
		}(c)
	}
	var errs []error
	for range a {
		err := <-results
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
