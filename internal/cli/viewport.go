package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"feedsync/internal/model"
)

// lineViewport renders a feed view as lines on a terminal.
// A terminal only scrolls forward, so each message is printed once and the view always counts as at the bottom.
type lineViewport struct {
	mu      sync.Mutex
	out     io.Writer
	printed map[int64]struct{}
	rows    []model.Message
	top     float64
}

func newLineViewport(out io.Writer) *lineViewport {
	return &lineViewport{out: out, printed: make(map[int64]struct{})}
}

func (v *lineViewport) Render(msgs []model.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rows = msgs
	for _, m := range msgs {
		if _, ok := v.printed[m.ID]; ok {
			continue
		}
		v.printed[m.ID] = struct{}{}
		fmt.Fprintln(v.out, formatMessage(m))
	}
}

func (v *lineViewport) AtBottom() bool { return true }

func (v *lineViewport) ScrollToBottom() {}

func (v *lineViewport) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *lineViewport) SetScrollTop(top float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.top = top
}

// ContentHeight は1メッセージ1行
func (v *lineViewport) ContentHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return float64(len(v.rows))
}

func (v *lineViewport) TopVisible() (int64, float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rows) == 0 {
		return 0, 0, false
	}
	return v.rows[0].ID, 0, true
}

func (v *lineViewport) ScrollToItem(int64, float64) {}

// forget lets ids be printed again after a clear
func (v *lineViewport) forget() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.printed = make(map[int64]struct{})
	v.rows = nil
}

func formatMessage(m model.Message) string {
	content := m.Content
	if m.Type == model.TypeFile && m.FileInfo != nil {
		content = fmt.Sprintf("[file] %s (%d bytes)", m.OriginalName, m.FileSize)
	}
	return fmt.Sprintf("#%d %s %-12s %s",
		m.ID, m.Timestamp.Local().Format(time.DateTime), label(m), strings.TrimRight(content, "\n"))
}

func label(m model.Message) string {
	if m.Type == model.TypeAIResponse {
		return "🤖 " + m.DeviceID
	}
	return m.DeviceID
}
