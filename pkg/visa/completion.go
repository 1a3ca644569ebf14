package visa

import (
	"time"

	"github.com/sirupsen/logrus"
)

// CompletionState 异步操作的完成状态
//
//	Issued -> Polling -> {Complete | Errored | TimedOut}
type CompletionState int

const (
	StateIssued CompletionState = iota
	StatePolling
	StateComplete
	StateErrored
	StateTimedOut
)

func (s CompletionState) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StatePolling:
		return "polling"
	case StateComplete:
		return "complete"
	case StateErrored:
		return "errored"
	case StateTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// Terminal 右侧三个状态为终态
func (s CompletionState) Terminal() bool {
	return s == StateComplete || s == StateErrored || s == StateTimedOut
}

// completion 单个在途异步操作的跟踪信息，操作结束即丢弃
type completion struct {
	command string
	state   CompletionState
	started time.Time
	polls   int
	esr     uint8
	log     logrus.FieldLogger
}

func newCompletion(command string, log logrus.FieldLogger) *completion {
	return &completion{
		command: command,
		state:   StateIssued,
		started: time.Now(),
		log:     log,
	}
}

func (c *completion) elapsed() time.Duration {
	return time.Since(c.started)
}

func (c *completion) transition(to CompletionState) {
	if c.state.Terminal() {
		return
	}
	if c.state != to {
		c.log.Debugf("异步操作 <%s>: %s -> %s (轮询 %d 次, ESR=0x%02X, 耗时 %v)",
			c.command, c.state, to, c.polls, c.esr, c.elapsed())
	}
	c.state = to
}
