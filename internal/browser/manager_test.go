package browser

import (
	"context"
	"testing"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/quill/internal/agent"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/page/pagetest"
	"go.uber.org/zap/zaptest"
)

func TestBridgeIsScopedToIsolatedWorld(t *testing.T) {
	binding := bridgeBinding()
	assert.Equal(t, BindingName, binding.Name)
	assert.Equal(t, WorldName, binding.ExecutionContextName)

	script := bridgeOnNewDocument()
	assert.Equal(t, bridgeScript, script.Source)
	assert.Equal(t, WorldName, script.WorldName)

	params := inWorld(7)(&cdpruntime.EvaluateParams{Expression: "1"})
	assert.Equal(t, cdpruntime.ExecutionContextID(7), params.ContextID)
}

func TestInboundOnlyFromBridgeWorld(t *testing.T) {
	f := pagetest.New("https://zhuanlan.zhihu.com/write")
	a := agent.New(config.NewDefaultConfig(), nil, nil, zaptest.NewLogger(t))
	e := a.Start(context.Background(), f)
	defer e.Close()
	require.Eventually(t, func() bool { return len(f.Posts()) == 1 }, time.Second, 5*time.Millisecond, "startup announcement")

	tb := &tab{log: zaptest.NewLogger(t), epoch: e, doc: "d1", world: 5}
	handshake := `{"doc":"d1","origin":"https://aixiaohu.top","source":"w1","data":"PUBLISH_REQUEST"}`

	// A page script calling a same-named function in the main world.
	tb.inbound(9, handshake)
	// A payload from a previous document.
	tb.inbound(5, `{"doc":"d0","origin":"https://aixiaohu.top","source":"w1","data":"PUBLISH_REQUEST"}`)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, f.Posts(), 1)

	tb.inbound(5, handshake)
	require.Eventually(t, func() bool { return len(f.Posts()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestDropCancelsOnlyThatTab(t *testing.T) {
	browserCtx, browserCancel := context.WithCancel(context.Background())
	defer browserCancel()

	m := &Manager{tabs: map[target.ID]*tab{}}
	firstCtx, firstCancel := context.WithCancel(browserCtx)
	otherCtx, otherCancel := context.WithCancel(browserCtx)
	defer otherCancel()
	m.tabs["first"] = &tab{ctx: firstCtx, cancel: firstCancel}
	m.tabs["other"] = &tab{ctx: otherCtx, cancel: otherCancel}

	m.drop("first")
	assert.ErrorIs(t, firstCtx.Err(), context.Canceled)
	assert.NoError(t, browserCtx.Err())
	assert.NoError(t, otherCtx.Err())
	assert.NotContains(t, m.tabs, target.ID("first"))

	m.drop("missing")
	assert.Len(t, m.tabs, 1)
}
