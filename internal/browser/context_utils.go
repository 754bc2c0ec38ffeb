package browser

import "context"

// CombineContext derives a context from ctx1 that is also cancelled when ctx2
// is. Values come from ctx1 only, which is where chromedp keeps the target
// connection; ctx2 usually carries an operation's deadline or the lifetime
// of the document epoch issuing the call.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}
