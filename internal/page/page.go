// Package page defines the capability surface the publishing engines need from
// a live editor document: element lookup, editing primitives, clipboard, window
// control, cross-window messaging and session storage.
//
// The browser package implements it over the Chrome DevTools Protocol and the
// pagetest package provides an in-memory double for tests.
package page

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrPageGone is returned once the document the handles belong to has been
// replaced by a navigation or the tab was closed.
var ErrPageGone = errors.New("page: document is gone")

// Element is an opaque handle to a DOM element in the current document.
// The zero value refers to no element.
type Element string

// WindowRef names a window reachable from the document: the opener, the
// document's own window, or the source window of an inbound message.
type WindowRef string

const (
	// Opener is the window that opened this tab.
	Opener WindowRef = "opener"
	// Self is the document's own window.
	Self WindowRef = "self"
)

// Rect is an element's bounding client rectangle.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ElementInfo is a snapshot of the element attributes the lookup rules inspect.
type ElementInfo struct {
	Handle          Element `json:"handle"`
	Tag             string  `json:"tag"`
	ID              string  `json:"id"`
	Class           string  `json:"className"`
	ContentEditable string  `json:"contentEditable"`
	// Visible mirrors offsetParent != null.
	Visible bool   `json:"visible"`
	Rect    Rect   `json:"rect"`
	Label   string `json:"label"`
}

// Editable reports whether the element is explicitly content editable.
func (e ElementInfo) Editable() bool { return e.ContentEditable == "true" }

// Ready reports whether a rich editor element can accept input right now.
func (e ElementInfo) Ready() bool { return e.Editable() && e.Visible && e.Rect.Height > 0 }

// Event describes a synthetic DOM event. Only the fields relevant to the
// event Type are read by implementations.
type Event struct {
	Type       string `json:"type"`
	InputType  string `json:"inputType,omitempty"`
	Data       string `json:"data,omitempty"`
	Key        string `json:"key,omitempty"`
	Code       string `json:"code,omitempty"`
	Location   int    `json:"location,omitempty"`
	CtrlKey    bool   `json:"ctrlKey,omitempty"`
	MetaKey    bool   `json:"metaKey,omitempty"`
	HTML       string `json:"html,omitempty"`
	Text       string `json:"text,omitempty"`
	Bubbles    bool   `json:"bubbles"`
	Cancelable bool   `json:"cancelable"`
	Composed   bool   `json:"composed,omitempty"`
}

// Inbound is a message event delivered to the document's window.
type Inbound struct {
	Origin string
	// Source is empty when the event carried no source window.
	Source WindowRef
	Data   json.RawMessage
}

// Finder locates elements.
type Finder interface {
	// Query returns the first element matching selector.
	Query(ctx context.Context, selector string) (ElementInfo, bool, error)
	// QueryAll returns every element matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]ElementInfo, error)
	Describe(ctx context.Context, el Element) (ElementInfo, error)
}

// Editor exposes the mutation primitives the fill strategies combine.
// Native commands act on the focused element and current selection.
type Editor interface {
	Focus(ctx context.Context, el Element) error
	Click(ctx context.Context, el Element) error
	ScrollIntoView(ctx context.Context, el Element) error
	// Select selects the element's whole contents.
	Select(ctx context.Context, el Element) error
	// HasFocus reports whether the active element is el or lies inside it.
	HasFocus(ctx context.Context, el Element) (bool, error)
	// ExecCommand runs a native editing command and returns what it reported.
	ExecCommand(ctx context.Context, command, arg string) (bool, error)
	// Dispatch fires ev at el and reports whether a listener prevented its default.
	Dispatch(ctx context.Context, el Element, ev Event) (bool, error)
	// Value reads the materialized value: the value property of form fields,
	// the rendered text of anything else.
	Value(ctx context.Context, el Element) (string, error)
	// SetValue assigns the value property of form fields, or the text
	// content of anything else.
	SetValue(ctx context.Context, el Element, v string) error
	AppendValue(ctx context.Context, el Element, s string) error
	// AppendHTML parses markup into a fragment and appends its children to el.
	AppendHTML(ctx context.Context, el Element, html string) error
}

// Clipboard covers the two ways content can reach the system clipboard.
type Clipboard interface {
	// CopyHTML renders markup into an off-screen scratch element, selects it
	// and runs the native copy command.
	CopyHTML(ctx context.Context, html string) (bool, error)
	WriteClipboardText(ctx context.Context, text string) error
}

// Window controls the document's window.
type Window interface {
	Location(ctx context.Context) (string, error)
	Navigate(ctx context.Context, url string) error
	ScrollBy(ctx context.Context, x, y int) error
	ClickBody(ctx context.Context) error
	// Platform returns navigator.platform.
	Platform(ctx context.Context) (string, error)
	HasOpener(ctx context.Context) (bool, error)
}

// Messenger posts to other windows.
type Messenger interface {
	PostMessage(ctx context.Context, target WindowRef, msg any, targetOrigin string) error
}

// Storage is the document's session storage.
type Storage interface {
	SessionGet(ctx context.Context, key string) (string, bool, error)
	SessionSet(ctx context.Context, key, value string) error
	SessionRemove(ctx context.Context, key string) error
}

// Page is everything an engine may do to a single document.
type Page interface {
	Finder
	Editor
	Clipboard
	Window
	Messenger
	Storage
}
