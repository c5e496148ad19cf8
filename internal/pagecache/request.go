// Package pagecache 编排整页缓存与片段缓存：读取磁盘条目、判断新鲜度、执行条件
// 请求协商，并在需要重新生成时用 Capture 截获正文写入缓存。
package pagecache

import (
	"errors"
	"io"
	"time"

	"github.com/any-hub/pagecache/internal/conditional"
)

// Request 是一次请求传入缓存层的全部上下文，不依赖任何进程级全局状态。
type Request struct {
	// URI 用于在未指定 key 时推导缓存文件名。
	URI        string
	Validators conditional.Validators
	// Session 可为 nil，表示宿主没有会话层。
	Session conditional.Session
	// Now 为空时使用 time.Now。
	Now time.Time
}

// Response 是缓存层写出响应所需的最小能力。
type Response interface {
	conditional.HeaderWriter
	io.Writer
}

// Options 描述一个缓存区域。
type Options struct {
	// Dir 必须是绝对路径。
	Dir string
	// Key 为空时由 Request.URI 推导。
	Key      string
	Duration time.Duration
}

var (
	// ErrNotCapturing 表示在非 Capturing 状态下尝试生成或提交正文。
	ErrNotCapturing = errors.New("pagecache: cycle is not capturing")
	// ErrCaptureFinalized 表示 Capture 已经提交过一次。
	ErrCaptureFinalized = errors.New("pagecache: capture already finalized")
	// ErrFragmentNotStarted 表示在 Start 之前调用了 End，属于调用方编程错误。
	ErrFragmentNotStarted = errors.New("pagecache: fragment end without start")
	// ErrFragmentActive 表示在前一个片段结束前再次调用 Start。
	ErrFragmentActive = errors.New("pagecache: fragment already started")
)

func (r Request) now() time.Time {
	if r.Now.IsZero() {
		return time.Now()
	}
	return r.Now
}
