package monitor

import (
	"fmt"
	"strings"
)

// EventType is the closed set of notification kinds.
type EventType string

const (
	EventMain      EventType = "main"
	EventPre       EventType = "pre"
	EventPreRemove EventType = "pre-remove"
)

// Channel returns the release channel an event concerns.
func (t EventType) Channel() Channel {
	if t == EventMain {
		return ChannelMain
	}
	return ChannelPre
}

// MessageFormat selects how a notice is delivered.
type MessageFormat string

const (
	FormatImage MessageFormat = "image"
	FormatText  MessageFormat = "text"
)

// ParseMessageFormat accepts "image"/"text" and the legacy "1"/"2".
func ParseMessageFormat(s string) (MessageFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image", "1":
		return FormatImage, true
	case "text", "2":
		return FormatText, true
	}
	return "", false
}

// InitialVersion stands for "never observed". Events whose old version is
// InitialVersion are not announced.
const InitialVersion = "0.0.0"

// Event is one version transition.
type Event struct {
	Type       EventType
	Product    Product
	NewVersion string
	OldVersion string
	Size       SizeInfo
	Format     MessageFormat
	Template   string
	IconURL    string
}

// RenderText renders the plain-text notice of an event.
func RenderText(ev Event) (string, error) {
	name := ev.Product.Name
	var lines []string

	switch ev.Type {
	case EventMain:
		lines = []string{
			fmt.Sprintf("✨%s游戏版本更新通知", name),
			fmt.Sprintf("🚀版本变更：%s → %s", ev.OldVersion, ev.NewVersion),
		}
		lines = append(lines, totalLines(ev.Size, "📦完整大小（含中文语音）：")...)
		if inc := ev.Size.FormattedIncremental(); inc != "" {
			lines = append(lines, "🔄 增量更新大小：约"+inc)
		}
		lines = append(lines, "📢 请及时更新客户端")
	case EventPre:
		lines = []string{
			fmt.Sprintf("🎁%s预下载资源已开放", name),
			"📦新版本：" + ev.NewVersion,
		}
		lines = append(lines, totalLines(ev.Size, "📦 完整大小（含中文语音）：")...)
		if inc := ev.Size.FormattedIncremental(); inc != "" {
			lines = append(lines, "🔄 增量更新大小：约"+inc)
		}
		lines = append(lines, "📥请提前下载游戏资源")
	case EventPreRemove:
		return fmt.Sprintf("🌙%s预下载资源已关闭\n🔒正式版本%s即将上线", name, ev.OldVersion), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}

	if !ev.Product.NoLinkHint {
		lines = append(lines, fmt.Sprintf("💾 发送【#%s获取下载链接】获取客户端", name))
	}
	return strings.Join(lines, "\n"), nil
}

// totalLines lists the full-size lines, with game and audio packages on
// separate lines when they ship apart.
func totalLines(s SizeInfo, label string) []string {
	total := s.FormattedTotal()
	if total == "" {
		return nil
	}
	if !s.HasAudio {
		return []string{label + total}
	}
	return []string{"📦游戏本体大小：" + total, "🎧音频资源大小：" + s.FormattedAudio()}
}

// Title returns the headline of an event, used by rendered templates.
func (ev Event) Title() string {
	switch ev.Type {
	case EventMain:
		return ev.Product.Name + "游戏版本更新通知"
	case EventPre:
		return ev.Product.Name + "预下载资源已开放"
	case EventPreRemove:
		return ev.Product.Name + "预下载资源已关闭"
	}
	return ev.Product.Name
}

// Describe returns a one-line summary of the transition for logs and the CLI.
func (ev Event) Describe() string {
	switch {
	case ev.Type == EventPreRemove:
		return fmt.Sprintf("pre-download %s closed", ev.OldVersion)
	case ev.Type == EventPre && ev.OldVersion == "":
		return fmt.Sprintf("pre-download %s opened", ev.NewVersion)
	}
	return fmt.Sprintf("%s → %s", ev.OldVersion, ev.NewVersion)
}
