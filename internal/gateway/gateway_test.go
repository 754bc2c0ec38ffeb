package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
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

type mockAdmitter struct {
	mock.Mock
}

func (m *mockAdmitter) Busy() bool {
	return m.Called().Bool(0)
}

func (m *mockAdmitter) SetDefaultTarget(t protocol.Target) {
	m.Called(t)
}

func (m *mockAdmitter) Admit(task protocol.Task) bool {
	return m.Called(task).Bool(0)
}

const allowed = "https://aixiaohu.top"

func setup(t *testing.T, f *pagetest.Fake) (*Gateway, *Dispatcher, *mockAdmitter) {
	t.Helper()
	proto := protocol.New(config.NewDefaultConfig().Protocol(), "zhihu")
	d := NewDispatcher(f, proto, nil, zaptest.NewLogger(t))
	a := &mockAdmitter{}
	return New(d, a, nil, zaptest.NewLogger(t)), d, a
}

func inbound(origin string, source page.WindowRef, data string) page.Inbound {
	return page.Inbound{Origin: origin, Source: source, Data: []byte(data)}
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("replies to the source and records it", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		g, _, a := setup(t, f)
		a.On("SetDefaultTarget", protocol.Target{Window: "w1", Origin: allowed}).Once()

		g.Handle(ctx, inbound(allowed, "w1", `"PUBLISH_REQUEST"`))

		want := []pagetest.Post{{Target: "w1", Origin: allowed, Message: protocol.Ready{Type: "READY", Platform: "zhihu"}}}
		if diff := cmp.Diff(want, f.Posts()); diff != "" {
			t.Errorf("posts mismatch (-want +got):\n%s", diff)
		}
		a.AssertExpectations(t)
	})

	t.Run("sentinel origin falls back to opener and wildcard", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		g, _, a := setup(t, f)
		a.On("SetDefaultTarget", protocol.Target{Window: page.Opener, Origin: "*"}).Once()

		g.Handle(ctx, inbound("null", "", `"PUBLISH_REQUEST"`))

		posts := f.Posts()
		require.Len(t, posts, 1)
		assert.Equal(t, page.Opener, posts[0].Target)
		assert.Equal(t, "*", posts[0].Origin)
		a.AssertExpectations(t)
	})

	t.Run("no source and no opener answers self", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		f.Opener = false
		g, _, a := setup(t, f)
		a.On("SetDefaultTarget", protocol.Target{Window: page.Self, Origin: allowed}).Once()

		g.Handle(ctx, inbound(allowed, "", `"PUBLISH_REQUEST"`))
		require.Len(t, f.Posts(), 1)
		assert.Equal(t, page.Self, f.Posts()[0].Target)
		a.AssertExpectations(t)
	})

	t.Run("failed reply records self at wildcard", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		f.PostErr = func(page.WindowRef, string) error { return errors.New("DataCloneError") }
		g, _, a := setup(t, f)
		a.On("SetDefaultTarget", protocol.Target{Window: page.Self, Origin: "*"}).Once()

		g.Handle(ctx, inbound(allowed, "w1", `"PUBLISH_REQUEST"`))
		a.AssertExpectations(t)
	})

	t.Run("origin outside the allow-list gets no reply", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		g, _, a := setup(t, f)

		g.Handle(ctx, inbound("https://evil.example", "w1", `"PUBLISH_REQUEST"`))
		assert.Empty(t, f.Posts())
		a.AssertNotCalled(t, "SetDefaultTarget", mock.Anything)
	})
}

func TestTaskIntake(t *testing.T) {
	ctx := context.Background()
	envelope := `{"type":"TASK","platform":"zhihu","taskId":"t1","autoPublish":false,"payload":{"title":"Hello","content":"<p>World</p>"}}`

	t.Run("admits with the sender as reply target", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		g, _, a := setup(t, f)
		want := protocol.Task{
			ID: "t1", Platform: "zhihu", Title: "Hello", Content: "<p>World</p>",
			Reply: protocol.Target{Window: "w1", Origin: allowed},
		}
		a.On("Busy").Return(false).Once()
		a.On("Admit", want).Return(true).Once()

		g.Handle(ctx, inbound(allowed, "w1", envelope))
		a.AssertExpectations(t)
		assert.Empty(t, f.Posts(), "admission itself posts nothing")
	})

	t.Run("missing source borrows the opener", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		g, _, a := setup(t, f)
		a.On("Busy").Return(false).Once()
		a.On("Admit", mock.MatchedBy(func(task protocol.Task) bool {
			return task.Reply == protocol.Target{Window: page.Opener, Origin: allowed}
		})).Return(true).Once()

		g.Handle(ctx, inbound(allowed, "", envelope))
		a.AssertExpectations(t)
	})

	drops := []struct {
		name   string
		origin string
		data   string
		busy   bool
	}{
		{"origin outside the allow-list", "https://evil.example", envelope, false},
		{"sentinel origin", "", envelope, false},
		{"busy", allowed, envelope, true},
		{"other platform", allowed, `{"type":"TASK","platform":"juejin","taskId":"t1"}`, false},
		{"no task id", allowed, `{"type":"TASK","platform":"zhihu","payload":{"title":"x"}}`, false},
		{"not an envelope", allowed, `{"type":"PING"}`, false},
	}
	for _, tc := range drops {
		t.Run("drops "+tc.name, func(t *testing.T) {
			f := pagetest.New("https://zhuanlan.zhihu.com/write")
			g, _, a := setup(t, f)
			a.On("Busy").Return(tc.busy).Maybe()

			g.Handle(ctx, inbound(tc.origin, "w1", tc.data))
			a.AssertNotCalled(t, "Admit", mock.Anything)
			assert.Empty(t, f.Posts())
		})
	}

	t.Run("lost admission race is a drop", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		g, _, a := setup(t, f)
		a.On("Busy").Return(false).Once()
		a.On("Admit", mock.Anything).Return(false).Once()

		g.Handle(ctx, inbound(allowed, "w1", envelope))
		a.AssertExpectations(t)
	})
}

func TestSendResult(t *testing.T) {
	ctx := context.Background()
	res := protocol.Result{Type: "TASK_RESULT", Status: "success", TaskID: "t1", URL: "https://zhuanlan.zhihu.com/p/1"}

	t.Run("specific origin first", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		_, d, _ := setup(t, f)

		assert.True(t, d.SendResult(ctx, protocol.Target{Window: "w1", Origin: allowed}, res))
		want := []pagetest.Post{{Target: "w1", Origin: allowed, Message: res}}
		if diff := cmp.Diff(want, f.Posts()); diff != "" {
			t.Errorf("posts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("wildcard after a failed specific origin", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		f.PostErr = func(_ page.WindowRef, origin string) error {
			if origin != "*" {
				return errors.New("origin mismatch")
			}
			return nil
		}
		_, d, _ := setup(t, f)

		assert.True(t, d.SendResult(ctx, protocol.Target{Origin: allowed}, res))
		posts := f.Posts()
		require.Len(t, posts, 1)
		assert.Equal(t, page.Opener, posts[0].Target, "no recorded window falls back to the opener")
		assert.Equal(t, "*", posts[0].Origin)
	})

	t.Run("wildcard target is tried once", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/write")
		f.Opener = false
		calls := 0
		f.PostErr = func(page.WindowRef, string) error {
			calls++
			return errors.New("closed")
		}
		_, d, _ := setup(t, f)

		assert.False(t, d.SendResult(ctx, protocol.Target{Origin: "*"}, res))
		assert.Equal(t, 1, calls)
	})

	t.Run("resend targets the opener", func(t *testing.T) {
		f := pagetest.New("https://zhuanlan.zhihu.com/p/1")
		_, d, _ := setup(t, f)

		assert.True(t, d.Resend(ctx, allowed, res))
		assert.Equal(t, []pagetest.Post{{Target: page.Opener, Origin: allowed, Message: res}}, f.Posts())
	})
}

func TestAnnounceReady(t *testing.T) {
	ctx := context.Background()

	f := pagetest.New("https://zhuanlan.zhihu.com/write")
	_, d, _ := setup(t, f)
	d.AnnounceReady(ctx)
	assert.Equal(t, []pagetest.Post{{Target: page.Opener, Origin: "*", Message: protocol.Ready{Type: "READY", Platform: "zhihu"}}}, f.Posts())

	orphan := pagetest.New("https://zhuanlan.zhihu.com/write")
	orphan.Opener = false
	_, d, _ = setup(t, orphan)
	d.AnnounceReady(ctx)
	assert.Empty(t, orphan.Posts())
}
