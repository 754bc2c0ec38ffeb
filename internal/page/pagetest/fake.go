// Package pagetest provides an in-memory page.Page for exercising the
// publishing engines without a browser.
//
// Nodes answer to the selector strings they declare, native commands act on
// the focused node, and every mutation, event and post is recorded so tests
// can assert on the exact sequence an engine produced.
package pagetest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/quill/internal/page"
)

// Node is one fake DOM element.
type Node struct {
	Tag       string
	ID        string
	Class     string
	Editable  bool
	Visible   bool
	Top       float64
	Height    float64
	Label     string
	Selectors []string
	Value     string
	HTML      string

	// IgnoreAssign makes direct value and text assignment a no-op, the way
	// framework-controlled fields drop writes that bypass their state.
	IgnoreAssign bool
	// CancelBeforeInput makes every beforeinput event report defaultPrevented.
	CancelBeforeInput bool
	// ApplyInputEvents makes synthetic insertText input events insert their data.
	ApplyInputEvents bool
	// ApplyPasteEvents makes synthetic paste events insert their plain text.
	ApplyPasteEvents bool
	// InsertLimit truncates native text insertion to this many runes when positive.
	InsertLimit int
	// RejectAppendHTML makes fragment appends fail.
	RejectAppendHTML bool

	handle      page.Element
	selectedAll bool
}

// Event is a dispatched event with its target.
type Event struct {
	Target page.Element
	page.Event
}

// Post is a recorded postMessage call.
type Post struct {
	Target  page.WindowRef
	Origin  string
	Message any
}

// Fake implements page.Page in memory. Configure it before handing it to an
// engine; read results through the accessor methods.
type Fake struct {
	mu sync.Mutex

	nodes   []*Node
	focused *Node
	seq     int

	// Commands lists the native commands that report success. Commands
	// missing from the map report false.
	Commands      map[string]bool
	CommandErrors map[string]error
	CopyWorks     bool
	ClipboardErr  error

	URL          string
	Opener       bool
	PlatformName string

	Session    map[string]string
	StorageErr error

	// PostErr, when set, decides whether a post to target at origin fails.
	PostErr func(target page.WindowRef, origin string) error

	gone          bool
	sessionWrites []string
	clipboardText string
	clipboardHTML string
	execs         []string
	events        []Event
	posts         []Post
	navigations   []string
	scrolls       [][2]int
	bodyClicks    int
	clicks        []page.Element
}

var _ page.Page = (*Fake)(nil)

// New returns a fake document at url with an opener and the usual set of
// supported native commands.
func New(url string) *Fake {
	return &Fake{
		Commands: map[string]bool{
			"selectAll":  true,
			"delete":     true,
			"insertText": true,
			"insertHTML": true,
		},
		CommandErrors: map[string]error{},
		CopyWorks:     true,
		URL:           url,
		Opener:        true,
		PlatformName:  "Linux x86_64",
		Session:       map[string]string{},
	}
}

// Add registers n and returns its handle.
func (f *Fake) Add(n *Node) page.Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	n.handle = page.Element(fmt.Sprintf("n%d", f.seq))
	f.nodes = append(f.nodes, n)
	return n.handle
}

// Remove detaches the node behind el.
func (f *Fake) Remove(el page.Element) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, n := range f.nodes {
		if n.handle == el {
			f.nodes = append(f.nodes[:i], f.nodes[i+1:]...)
			if f.focused == n {
				f.focused = nil
			}
			return
		}
	}
}

// Update runs fn on the node behind el while holding the fake's lock.
func (f *Fake) Update(el page.Element, fn func(n *Node)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.node(el); n != nil {
		fn(n)
	}
}

// Gone makes every later call fail with page.ErrPageGone.
func (f *Fake) Gone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gone = true
}

func (f *Fake) node(el page.Element) *Node {
	for _, n := range f.nodes {
		if n.handle == el {
			return n
		}
	}
	return nil
}

func (f *Fake) lookup(el page.Element) (*Node, error) {
	if f.gone {
		return nil, page.ErrPageGone
	}
	n := f.node(el)
	if n == nil {
		return nil, fmt.Errorf("pagetest: stale element %q", el)
	}
	return n, nil
}

func (n *Node) info() page.ElementInfo {
	ce := "inherit"
	if n.Editable {
		ce = "true"
	}
	return page.ElementInfo{
		Handle:          n.handle,
		Tag:             strings.ToUpper(n.Tag),
		ID:              n.ID,
		Class:           n.Class,
		ContentEditable: ce,
		Visible:         n.Visible,
		Rect:            page.Rect{Top: n.Top, Width: 100, Height: n.Height},
		Label:           n.Label,
	}
}

func (n *Node) matches(selector string) bool {
	for _, s := range n.Selectors {
		if s == selector {
			return true
		}
	}
	return false
}

func (n *Node) insert(s string) {
	if n.InsertLimit > 0 {
		if r := []rune(s); len(r) > n.InsertLimit {
			s = string(r[:n.InsertLimit])
		}
	}
	if n.selectedAll {
		n.Value = s
		n.selectedAll = false
		return
	}
	n.Value += s
}

// Query implements page.Finder.
func (f *Fake) Query(_ context.Context, selector string) (page.ElementInfo, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ElementInfo{}, false, page.ErrPageGone
	}
	for _, n := range f.nodes {
		if n.matches(selector) {
			return n.info(), true, nil
		}
	}
	return page.ElementInfo{}, false, nil
}

// QueryAll implements page.Finder.
func (f *Fake) QueryAll(_ context.Context, selector string) ([]page.ElementInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return nil, page.ErrPageGone
	}
	var out []page.ElementInfo
	for _, n := range f.nodes {
		if n.matches(selector) {
			out = append(out, n.info())
		}
	}
	return out, nil
}

// Describe implements page.Finder.
func (f *Fake) Describe(_ context.Context, el page.Element) (page.ElementInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return page.ElementInfo{}, err
	}
	return n.info(), nil
}

func (f *Fake) Focus(_ context.Context, el page.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return err
	}
	f.focused = n
	return nil
}

func (f *Fake) Click(_ context.Context, el page.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.lookup(el); err != nil {
		return err
	}
	f.clicks = append(f.clicks, el)
	return nil
}

func (f *Fake) ScrollIntoView(_ context.Context, el page.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := f.lookup(el)
	return err
}

func (f *Fake) Select(_ context.Context, el page.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return err
	}
	n.selectedAll = true
	return nil
}

func (f *Fake) HasFocus(_ context.Context, el page.Element) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return false, err
	}
	return f.focused == n, nil
}

// ExecCommand implements page.Editor. Commands act on the focused node.
func (f *Fake) ExecCommand(_ context.Context, command, arg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return false, page.ErrPageGone
	}
	f.execs = append(f.execs, command)
	if err := f.CommandErrors[command]; err != nil {
		return false, err
	}
	if !f.Commands[command] {
		return false, nil
	}
	n := f.focused
	switch command {
	case "selectAll":
		if n != nil {
			n.selectedAll = true
		}
	case "delete":
		if n != nil && n.selectedAll {
			n.Value = ""
			n.selectedAll = false
		}
	case "insertText":
		if n == nil {
			return false, nil
		}
		n.insert(arg)
	case "insertHTML":
		if n == nil {
			return false, nil
		}
		n.HTML += arg
		n.insert(StripTags(arg))
	case "paste":
		if n == nil || f.clipboardText == "" {
			return false, nil
		}
		n.HTML += f.clipboardHTML
		n.insert(f.clipboardText)
	}
	return true, nil
}

// Dispatch implements page.Editor.
func (f *Fake) Dispatch(_ context.Context, el page.Element, ev page.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return false, err
	}
	f.events = append(f.events, Event{Target: el, Event: ev})
	switch ev.Type {
	case "beforeinput":
		return ev.Cancelable && n.CancelBeforeInput, nil
	case "input":
		if n.ApplyInputEvents && ev.InputType == "insertText" {
			n.insert(ev.Data)
		}
	case "paste":
		if n.ApplyPasteEvents {
			n.HTML += ev.HTML
			n.insert(ev.Text)
		}
	}
	return false, nil
}

func (f *Fake) Value(_ context.Context, el page.Element) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return "", err
	}
	return n.Value, nil
}

func (f *Fake) SetValue(_ context.Context, el page.Element, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return err
	}
	if !n.IgnoreAssign {
		n.Value = v
	}
	return nil
}

func (f *Fake) AppendValue(_ context.Context, el page.Element, s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return err
	}
	if !n.IgnoreAssign {
		n.Value += s
	}
	return nil
}

func (f *Fake) AppendHTML(_ context.Context, el page.Element, html string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.lookup(el)
	if err != nil {
		return err
	}
	if n.RejectAppendHTML {
		return fmt.Errorf("pagetest: fragment append rejected")
	}
	n.HTML += html
	n.Value += StripTags(html)
	return nil
}

// CopyHTML implements page.Clipboard.
func (f *Fake) CopyHTML(_ context.Context, html string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return false, page.ErrPageGone
	}
	f.execs = append(f.execs, "copy")
	if !f.CopyWorks {
		return false, nil
	}
	f.clipboardHTML = html
	f.clipboardText = StripTags(html)
	return true, nil
}

func (f *Fake) WriteClipboardText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	if f.ClipboardErr != nil {
		return f.ClipboardErr
	}
	f.clipboardHTML = ""
	f.clipboardText = text
	return nil
}

func (f *Fake) Location(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return "", page.ErrPageGone
	}
	return f.URL, nil
}

func (f *Fake) Navigate(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	f.navigations = append(f.navigations, url)
	return nil
}

func (f *Fake) ScrollBy(_ context.Context, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	f.scrolls = append(f.scrolls, [2]int{x, y})
	return nil
}

func (f *Fake) ClickBody(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	f.bodyClicks++
	f.focused = nil
	return nil
}

func (f *Fake) Platform(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return "", page.ErrPageGone
	}
	return f.PlatformName, nil
}

func (f *Fake) HasOpener(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return false, page.ErrPageGone
	}
	return f.Opener, nil
}

// PostMessage implements page.Messenger. Failed posts are not recorded.
func (f *Fake) PostMessage(_ context.Context, target page.WindowRef, msg any, origin string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	if f.PostErr != nil {
		if err := f.PostErr(target, origin); err != nil {
			return err
		}
	}
	f.posts = append(f.posts, Post{Target: target, Origin: origin, Message: msg})
	return nil
}

func (f *Fake) SessionGet(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return "", false, page.ErrPageGone
	}
	if f.StorageErr != nil {
		return "", false, f.StorageErr
	}
	v, ok := f.Session[key]
	return v, ok, nil
}

func (f *Fake) SessionSet(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	if f.StorageErr != nil {
		return f.StorageErr
	}
	f.Session[key] = value
	f.sessionWrites = append(f.sessionWrites, value)
	return nil
}

func (f *Fake) SessionRemove(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return page.ErrPageGone
	}
	if f.StorageErr != nil {
		return f.StorageErr
	}
	delete(f.Session, key)
	return nil
}

// -- accessors --

func (f *Fake) NodeValue(el page.Element) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.node(el); n != nil {
		return n.Value
	}
	return ""
}

func (f *Fake) NodeHTML(el page.Element) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.node(el); n != nil {
		return n.HTML
	}
	return ""
}

func (f *Fake) Execs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execs...)
}

func (f *Fake) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...)
}

// EventTypes returns the Type of every dispatched event, in order.
func (f *Fake) EventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func (f *Fake) Posts() []Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Post(nil), f.posts...)
}

func (f *Fake) Navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.navigations...)
}

func (f *Fake) Scrolls() [][2]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int(nil), f.scrolls...)
}

func (f *Fake) BodyClicks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodyClicks
}

func (f *Fake) Clicks() []page.Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]page.Element(nil), f.clicks...)
}

// SessionWrites returns every value written to session storage, in order.
func (f *Fake) SessionWrites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sessionWrites...)
}

// SessionValue reads key without going through the page interface.
func (f *Fake) SessionValue(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.Session[key]
	return v, ok
}

func (f *Fake) ClipboardText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clipboardText
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// StripTags is the fake's crude idea of rendered text.
func StripTags(html string) string {
	return strings.ReplaceAll(tagPattern.ReplaceAllString(html, ""), "&nbsp;", " ")
}

// Sleeper is an instant page.Sleeper that records what was asked of it.
// OnSleep, when set, runs before each pause returns and may change the page.
type Sleeper struct {
	mu      sync.Mutex
	total   time.Duration
	calls   int
	OnSleep func(call int, d time.Duration)
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.total += d
	s.calls++
	call, hook := s.calls, s.OnSleep
	s.mu.Unlock()
	if hook != nil {
		hook(call, d)
	}
	return ctx.Err()
}

// Total is the sum of every requested pause.
func (s *Sleeper) Total() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Sleeper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
