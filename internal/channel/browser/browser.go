// Package browser drives a chat web page through the Chrome DevTools
// protocol. It attaches to a running Chrome when a debugger address is
// configured and reachable, and launches a local one otherwise.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/stupiduntilnot/parley/internal/channel"
)

// Default selectors, tried in order.
var (
	DefaultInputSelectors = []string{
		"#prompt-textarea",
		"textarea",
		"div[contenteditable='true']",
		"form textarea",
		"form div[contenteditable='true']",
	}
	DefaultSendSelectors = []string{
		"button[data-testid='send-button']",
	}
	DefaultResponseSelectors = []string{
		"div[data-message-author-role='assistant'] > div > div.markdown",
		"[data-message-author-role='assistant']",
		".markdown.prose",
		".prose",
		"div[data-message-author-role='assistant'] div.prose",
	}
)

const (
	DefaultDebuggerAddr      = "127.0.0.1:9222"
	DefaultChatURL           = "https://chatgpt.com/"
	DefaultNavigationTimeout = 60 * time.Second
)

// Config selects the browser and the chat page.
type Config struct {
	// DebuggerAddr is a host:port or ws:// URL of a Chrome started with
	// --remote-debugging-port. Empty means always launch.
	DebuggerAddr string
	ChatURL      string
	Headless     bool
	// Bin overrides the Chrome binary used when launching.
	Bin string

	InputSelectors    []string
	SendSelectors     []string
	ResponseSelectors []string

	NavigationTimeout time.Duration
}

// WithDefaults fills every unset field.
func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.ChatURL) == "" {
		c.ChatURL = DefaultChatURL
	}
	if len(c.InputSelectors) == 0 {
		c.InputSelectors = DefaultInputSelectors
	}
	if len(c.SendSelectors) == 0 {
		c.SendSelectors = DefaultSendSelectors
	}
	if len(c.ResponseSelectors) == 0 {
		c.ResponseSelectors = DefaultResponseSelectors
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	return c
}

// Channel is a chat page in a Chrome tab.
type Channel struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	launched *launcher.Launcher
}

var _ channel.Channel = (*Channel)(nil)

func New(cfg Config, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{cfg: cfg.WithDefaults(), log: log}
}

// Open connects to Chrome and opens the chat URL in a new tab.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page != nil {
		return nil
	}

	controlURL, err := c.controlURL()
	if err != nil {
		return err
	}
	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		c.cleanupLauncher()
		return fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: c.cfg.ChatURL})
	if err != nil {
		_ = browser.Close()
		c.cleanupLauncher()
		return fmt.Errorf("open chat page: %w", err)
	}
	if err := page.Context(ctx).Timeout(c.cfg.NavigationTimeout).WaitLoad(); err != nil {
		c.log.Warn("chat page load did not complete", zap.Error(err))
	}

	c.browser = browser
	c.page = page
	c.log.Info("browser channel opened", zap.String("url", c.cfg.ChatURL), zap.Bool("attached", c.launched == nil))
	return nil
}

func (c *Channel) controlURL() (string, error) {
	if addr := strings.TrimSpace(c.cfg.DebuggerAddr); addr != "" {
		u, err := launcher.ResolveURL(addr)
		if err == nil {
			return u, nil
		}
		c.log.Warn("debugger address not reachable, launching chrome", zap.String("addr", addr), zap.Error(err))
	}

	l := launcher.New().Headless(c.cfg.Headless)
	if c.cfg.Bin != "" {
		l = l.Bin(c.cfg.Bin)
	}
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch chrome: %w", err)
	}
	c.launched = l
	return u, nil
}

func (c *Channel) cleanupLauncher() {
	if c.launched != nil {
		c.launched.Kill()
		c.launched = nil
	}
}

func (c *Channel) currentPage(ctx context.Context) (*rod.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil, errors.New("browser channel is not open")
	}
	return c.page.Context(ctx), nil
}

// Send types text into the first matching input and submits it with the
// send button, or Enter when no button is present.
func (c *Channel) Send(ctx context.Context, text string) error {
	page, err := c.currentPage(ctx)
	if err != nil {
		return err
	}
	box, sel, err := first(page, c.cfg.InputSelectors)
	if err != nil {
		return fmt.Errorf("find input: %w", err)
	}
	c.log.Debug("input located", zap.String("selector", sel))

	if _, err := box.Eval(`() => { if ('value' in this) { this.value = '' } else { this.textContent = '' } }`); err != nil {
		return fmt.Errorf("clear input: %w", err)
	}
	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus input: %w", err)
	}
	if err := box.Input(text); err != nil {
		return fmt.Errorf("type message: %w", err)
	}

	if button, _, err := first(page, c.cfg.SendSelectors); err == nil {
		if err := button.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("click send: %w", err)
		}
		return nil
	}
	if err := box.Type(input.Enter); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

// Poll returns the texts matched by the first response selector that
// yields any non-empty text.
func (c *Channel) Poll(ctx context.Context) ([]string, error) {
	page, err := c.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	for _, sel := range c.cfg.ResponseSelectors {
		els, err := page.Elements(sel)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		var texts []string
		for _, el := range els {
			t, err := el.Text()
			if err != nil {
				continue
			}
			if t = strings.TrimSpace(t); t != "" {
				texts = append(texts, t)
			}
		}
		if len(texts) > 0 {
			c.log.Debug("responses read", zap.String("selector", sel), zap.Int("count", len(texts)))
			return texts, nil
		}
	}
	return nil, nil
}

// Refresh reloads the chat page and waits for it to load.
func (c *Channel) Refresh(ctx context.Context) error {
	page, err := c.currentPage(ctx)
	if err != nil {
		return err
	}
	if err := page.Reload(); err != nil {
		return fmt.Errorf("reload chat page: %w", err)
	}
	if err := page.Timeout(c.cfg.NavigationTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("wait for chat page: %w", err)
	}
	return nil
}

// Close closes the tab. A Chrome launched by Open is shut down; an
// attached one is left running.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.page != nil {
		err = c.page.Close()
		c.page = nil
	}
	if c.launched != nil {
		if c.browser != nil {
			err = errors.Join(err, c.browser.Close())
		}
		c.cleanupLauncher()
	}
	c.browser = nil
	return err
}

// first returns the first element matched by selectors, in order.
func first(page *rod.Page, selectors []string) (*rod.Element, string, error) {
	for _, sel := range selectors {
		has, el, err := page.Has(sel)
		if err != nil {
			return nil, "", err
		}
		if has {
			return el, sel, nil
		}
	}
	return nil, "", fmt.Errorf("no element matches %s", strings.Join(selectors, ", "))
}
