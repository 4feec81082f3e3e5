package channel

import (
	"github.com/1ureka/p2pchan/internal/engine"
	"github.com/1ureka/p2pchan/internal/util"
)

// Policy decides how a channel reacts to a received message.
type Policy interface {
	HandleMessage(s *Session, msg engine.Message)
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(s *Session, msg engine.Message)

func (f PolicyFunc) HandleMessage(s *Session, msg engine.Message) { f(s, msg) }

// LogPolicy only logs received messages.
type LogPolicy struct{}

func (LogPolicy) HandleMessage(s *Session, msg engine.Message) {
	if msg.IsString {
		util.LogInfo("channel %q ← %q", s.Label(), string(msg.Data))
		return
	}
	util.LogInfo("channel %q ← %d bytes", s.Label(), len(msg.Data))
}

// ReplyPolicy acknowledges every received text message with exactly one
// Reply. Binary messages are logged and not answered.
type ReplyPolicy struct {
	Reply string
}

func (p ReplyPolicy) HandleMessage(s *Session, msg engine.Message) {
	LogPolicy{}.HandleMessage(s, msg)
	if !msg.IsString {
		return
	}
	if err := s.SendText(p.Reply); err != nil {
		util.LogWarning("channel %q: reply not sent: %v", s.Label(), err)
	}
}
