package delivery

import (
	"context"

	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/monitor"
)

// LogSender writes notices to the log instead of a chat. It backs
// dry runs and setups without bots.
type LogSender struct{}

var _ monitor.Sender = LogSender{}

func (LogSender) Send(_ context.Context, t monitor.Target, msg monitor.Message) error {
	if msg.Format == monitor.FormatImage && len(msg.Image) > 0 {
		logger.Info("[%s] image notice (%d bytes)\n%s", t, len(msg.Image), msg.Text)
		return nil
	}
	logger.Info("[%s]\n%s", t, msg.Text)
	return nil
}
