package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/quill/internal/config"
	"github.com/xkilldash9x/quill/internal/page"
	"github.com/xkilldash9x/quill/internal/page/pagetest"
	"github.com/xkilldash9x/quill/internal/protocol"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const origin = "https://aixiaohu.top"

func newAgent(t *testing.T) *Agent {
	cfg := config.NewDefaultConfig()
	cfg.PlatformCfg.Selectors.TitlePresence = "title-presence"
	cfg.PlatformCfg.Selectors.ContentPresence = "content-presence"
	cfg.PlatformCfg.Selectors.TitleCandidates = "candidates"
	cfg.PlatformCfg.Selectors.Content = []string{".editor"}
	cfg.PlatformCfg.Selectors.Paste = []string{".editor"}
	a := New(cfg, nil, nil, zaptest.NewLogger(t))
	a.sleeper = &pagetest.Sleeper{}
	return a
}

func resultsIn(f *pagetest.Fake) []protocol.Result {
	var out []protocol.Result
	for _, p := range f.Posts() {
		if r, ok := p.Message.(protocol.Result); ok {
			out = append(out, r)
		}
	}
	return out
}

func TestEpochServesHandshakeAndTask(t *testing.T) {
	f := pagetest.New("https://zhuanlan.zhihu.com/write")
	f.Commands["paste"] = true
	title := f.Add(&pagetest.Node{Tag: "textarea", Visible: true, Top: 60, Height: 40, Selectors: []string{"title-presence", "candidates"}})
	content := f.Add(&pagetest.Node{Tag: "div", Editable: true, Visible: true, Top: 200, Height: 600, Selectors: []string{"content-presence", ".editor"}})

	e := newAgent(t).Start(context.Background(), f)
	defer e.Close()

	require.Eventually(t, func() bool { return len(f.Posts()) == 1 }, time.Second, 5*time.Millisecond, "startup handshake")
	assert.Equal(t, pagetest.Post{Target: page.Opener, Origin: "*", Message: protocol.Ready{Type: "READY", Platform: "zhihu"}}, f.Posts()[0])

	e.Deliver(page.Inbound{Origin: origin, Source: "w1", Data: []byte(`"PUBLISH_REQUEST"`)})
	require.Eventually(t, func() bool { return len(f.Posts()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, page.WindowRef("w1"), f.Posts()[1].Target)

	e.Deliver(page.Inbound{Origin: origin, Source: "w1", Data: []byte(
		`{"type":"TASK","platform":"zhihu","taskId":"t1","autoPublish":false,"payload":{"title":"Hello","content":"<p>World</p>"}}`)})
	require.Eventually(t, func() bool { return len(resultsIn(f)) == 1 }, 5*time.Second, 5*time.Millisecond)

	res := resultsIn(f)[0]
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "t1", res.TaskID)
	assert.Equal(t, "Hello", f.NodeValue(title))
	assert.Contains(t, f.NodeValue(content), "World")
	assert.Eventually(t, func() bool { return !e.Busy() }, time.Second, 5*time.Millisecond)
}

func TestEpochResumesBeforeAnnouncing(t *testing.T) {
	f := pagetest.New("https://zhuanlan.zhihu.com/p/123")
	f.Session["AIFA_SIMPLE_PENDING_TASK"] = `{"taskId":"t9","status":"success","targetOrigin":"https://aixiaohu.top","createdAt":1}`

	e := newAgent(t).Start(context.Background(), f)
	defer e.Close()

	require.Eventually(t, func() bool { return len(f.Posts()) == 2 }, time.Second, 5*time.Millisecond)
	posts := f.Posts()
	assert.Equal(t,
		protocol.Result{Type: "TASK_RESULT", Status: "success", TaskID: "t9", URL: "https://zhuanlan.zhihu.com/p/123"},
		posts[0].Message)
	assert.Equal(t, protocol.Ready{Type: "READY", Platform: "zhihu"}, posts[1].Message)
	_, kept := f.SessionValue("AIFA_SIMPLE_PENDING_TASK")
	assert.False(t, kept)
}

func TestCloseEndsEpoch(t *testing.T) {
	f := pagetest.New("https://zhuanlan.zhihu.com/write")
	ctx, cancel := context.WithCancel(context.Background())
	e := newAgent(t).Start(ctx, f)

	cancel()
	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("epoch did not stop with its parent context")
	}
	e.Close()
	e.Close()

	e.Deliver(page.Inbound{Origin: origin, Data: []byte(`"PUBLISH_REQUEST"`)})
}
