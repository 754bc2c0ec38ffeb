package browser

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/quill/internal/page"
)

//go:embed bridge.js
var bridgeScript string

// BindingName is the runtime binding the bridge reports inbound messages to.
const BindingName = "__quillInbound"

// WorldName names the isolated JavaScript world the bridge runs in. Page
// scripts share the DOM with it but cannot reach its globals or its binding.
const WorldName = "quill"

// goneMarkers are fragments of the errors Chrome and the bridge raise when
// the document a call was aimed at no longer exists.
var goneMarkers = []string{
	"quill: document replaced",
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Cannot read properties of undefined (reading 'call')",
	"__quill is not defined",
	"No target with given id",
	"Inspected target navigated or closed",
}

// CDPPage implements page.Page for one document of a Chrome tab by calling
// into the injected bridge.
type CDPPage struct {
	// tabCtx is the chromedp context of the tab.
	tabCtx context.Context
	doc    string
	// world is the bridge world's execution context in this document.
	world runtime.ExecutionContextID

	// evaluateFunc runs expr in the page and decodes its value into res,
	// which may be nil. Tests replace it.
	evaluateFunc func(ctx context.Context, expr string, res any) error
}

var _ page.Page = (*CDPPage)(nil)

// NewCDPPage binds to the document identified by doc, whose bridge runs in
// execution context world of the tab behind tabCtx.
func NewCDPPage(tabCtx context.Context, world runtime.ExecutionContextID, doc string) *CDPPage {
	p := &CDPPage{tabCtx: tabCtx, doc: doc, world: world}
	p.evaluateFunc = p.evaluate
	return p
}

// Doc returns the bridge's identifier of the bound document.
func (p *CDPPage) Doc() string { return p.doc }

func (p *CDPPage) runActions(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

func (p *CDPPage) evaluate(ctx context.Context, expr string, res any) error {
	return p.runActions(ctx, chromedp.Evaluate(expr, res, inWorld(p.world), awaitPromise))
}

// inWorld aims an evaluation at one execution context instead of the page's
// main world.
func inWorld(id runtime.ExecutionContextID) chromedp.EvaluateOption {
	return func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithContextID(id)
	}
}

func awaitPromise(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
	return ep.WithAwaitPromise(true)
}

// call invokes a bridge op. Arguments are passed as a JSON array so no page
// content is ever spliced into the expression as code.
func (p *CDPPage) call(ctx context.Context, res any, op string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	encoded, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("browser: encoding %s arguments: %w", op, err)
	}
	docJSON, _ := json.Marshal(p.doc)
	opJSON, _ := json.Marshal(op)
	expr := fmt.Sprintf("window.__quill.call(%s,%s,%s)", docJSON, opJSON, encoded)
	if err := p.evaluateFunc(ctx, expr, res); err != nil {
		return classify(ctx, op, err)
	}
	return nil
}

func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.Canceled) {
		// The tab context ended underneath us.
		return page.ErrPageGone
	}
	msg := err.Error()
	for _, m := range goneMarkers {
		if strings.Contains(msg, m) {
			return page.ErrPageGone
		}
	}
	return fmt.Errorf("browser: %s: %w", op, err)
}

func (p *CDPPage) Query(ctx context.Context, selector string) (page.ElementInfo, bool, error) {
	var info *page.ElementInfo
	if err := p.call(ctx, &info, "query", selector); err != nil {
		return page.ElementInfo{}, false, err
	}
	if info == nil {
		return page.ElementInfo{}, false, nil
	}
	return *info, true, nil
}

func (p *CDPPage) QueryAll(ctx context.Context, selector string) ([]page.ElementInfo, error) {
	var infos []page.ElementInfo
	err := p.call(ctx, &infos, "queryAll", selector)
	return infos, err
}

func (p *CDPPage) Describe(ctx context.Context, el page.Element) (page.ElementInfo, error) {
	var info page.ElementInfo
	err := p.call(ctx, &info, "describe", el)
	return info, err
}

func (p *CDPPage) Focus(ctx context.Context, el page.Element) error {
	return p.call(ctx, nil, "focus", el)
}

func (p *CDPPage) Click(ctx context.Context, el page.Element) error {
	return p.call(ctx, nil, "click", el)
}

func (p *CDPPage) ScrollIntoView(ctx context.Context, el page.Element) error {
	return p.call(ctx, nil, "scrollIntoView", el)
}

func (p *CDPPage) Select(ctx context.Context, el page.Element) error {
	return p.call(ctx, nil, "select", el)
}

func (p *CDPPage) HasFocus(ctx context.Context, el page.Element) (bool, error) {
	var ok bool
	err := p.call(ctx, &ok, "hasFocus", el)
	return ok, err
}

func (p *CDPPage) ExecCommand(ctx context.Context, command, arg string) (bool, error) {
	var ok bool
	err := p.call(ctx, &ok, "exec", command, arg)
	return ok, err
}

func (p *CDPPage) Dispatch(ctx context.Context, el page.Element, ev page.Event) (bool, error) {
	var prevented bool
	err := p.call(ctx, &prevented, "dispatch", el, ev)
	return prevented, err
}

func (p *CDPPage) Value(ctx context.Context, el page.Element) (string, error) {
	var v string
	err := p.call(ctx, &v, "value", el)
	return v, err
}

func (p *CDPPage) SetValue(ctx context.Context, el page.Element, v string) error {
	return p.call(ctx, nil, "setValue", el, v)
}

func (p *CDPPage) AppendValue(ctx context.Context, el page.Element, s string) error {
	return p.call(ctx, nil, "appendValue", el, s)
}

func (p *CDPPage) AppendHTML(ctx context.Context, el page.Element, html string) error {
	return p.call(ctx, nil, "appendHTML", el, html)
}

func (p *CDPPage) CopyHTML(ctx context.Context, html string) (bool, error) {
	var ok bool
	err := p.call(ctx, &ok, "copyHTML", html)
	return ok, err
}

func (p *CDPPage) WriteClipboardText(ctx context.Context, text string) error {
	return p.call(ctx, nil, "writeClipboard", text)
}

func (p *CDPPage) Location(ctx context.Context) (string, error) {
	var loc string
	err := p.call(ctx, &loc, "location")
	return loc, err
}

func (p *CDPPage) Navigate(ctx context.Context, url string) error {
	return p.call(ctx, nil, "navigate", url)
}

func (p *CDPPage) ScrollBy(ctx context.Context, x, y int) error {
	return p.call(ctx, nil, "scrollBy", x, y)
}

func (p *CDPPage) ClickBody(ctx context.Context) error {
	return p.call(ctx, nil, "clickBody")
}

func (p *CDPPage) Platform(ctx context.Context) (string, error) {
	var name string
	err := p.call(ctx, &name, "platform")
	return name, err
}

func (p *CDPPage) HasOpener(ctx context.Context) (bool, error) {
	var ok bool
	err := p.call(ctx, &ok, "hasOpener")
	return ok, err
}

func (p *CDPPage) PostMessage(ctx context.Context, target page.WindowRef, msg any, targetOrigin string) error {
	return p.call(ctx, nil, "post", target, msg, targetOrigin)
}

func (p *CDPPage) SessionGet(ctx context.Context, key string) (string, bool, error) {
	var v *string
	if err := p.call(ctx, &v, "sessionGet", key); err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (p *CDPPage) SessionSet(ctx context.Context, key, value string) error {
	return p.call(ctx, nil, "sessionSet", key, value)
}

func (p *CDPPage) SessionRemove(ctx context.Context, key string) error {
	return p.call(ctx, nil, "sessionRemove", key)
}

// inboundPayload is what the bridge hands the runtime binding.
type inboundPayload struct {
	Doc    string          `json:"doc"`
	Origin string          `json:"origin"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// decodeInbound parses a binding payload into the document it came from and
// the message itself.
func decodeInbound(payload string) (string, page.Inbound, error) {
	var in inboundPayload
	if err := json.UnmarshalFromString(payload, &in); err != nil {
		return "", page.Inbound{}, fmt.Errorf("browser: malformed inbound payload: %w", err)
	}
	return in.Doc, page.Inbound{
		Origin: in.Origin,
		Source: page.WindowRef(in.Source),
		Data:   []byte(in.Data),
	}, nil
}
