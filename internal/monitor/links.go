package monitor

import (
	"fmt"
	"strings"
)

// DownloadInfo is the formatted download listing of a channel, one
// message per section.
type DownloadInfo struct {
	Header      string
	Client      string
	Audio       string
	PatchClient string
	PatchAudio  string
}

// Sections returns the messages in send order.
func (d DownloadInfo) Sections() []string {
	return []string{d.Header, d.Client, d.Audio, d.PatchClient, d.PatchAudio}
}

// FormatDownloadInfo formats metadata of a channel that offers a release.
func FormatDownloadInfo(p Product, meta *DownloadMetadata) DownloadInfo {
	label := meta.Channel.Label()
	major := meta.Major
	if major == nil {
		major = &Release{}
	}

	clientKind := "游戏分卷包下载"
	if p.AudioSplit {
		clientKind = "游戏下载"
	}

	return DownloadInfo{
		Header: strings.Join([]string{
			fmt.Sprintf("%s %s下载信息", p.Name, label),
			"版本: " + major.Version,
			"请选择需要的下载内容",
		}, "\n"),
		Client:      formatPackages(major.GamePkgs, fmt.Sprintf("%s %s%s", p.Name, label, clientKind), clientKind),
		Audio:       formatPackages(major.AudioPkgs, fmt.Sprintf("%s %s音频下载", p.Name, label), "音频包"),
		PatchClient: formatPackages(meta.Patch.GamePkgs, fmt.Sprintf("%s %s游戏增量包下载", p.Name, label), "游戏增量包"),
		PatchAudio:  formatPackages(meta.Patch.AudioPkgs, fmt.Sprintf("%s %s音频增量包下载", p.Name, label), "音频增量包"),
	}
}

func formatPackages(pkgs []Package, title, kind string) string {
	if len(pkgs) == 0 {
		return fmt.Sprintf("%s\n暂无%s下载", title, kind)
	}

	items := make([]string, len(pkgs))
	for i, pkg := range pkgs {
		name := fmt.Sprintf("%s%d", kind, i+1)
		if pkg.Language != "" {
			name = pkg.Language + kind
		}
		version := ""
		if pkg.Version != "" {
			version = " (" + pkg.Version + ")"
		}
		items[i] = fmt.Sprintf("%s%s: %s\n大小: %s", name, version, pkg.URL, FormatSize(pkg.Size))
	}
	return title + "\n" + strings.Join(items, "\n\n")
}

// Versions is the stored version state of a product.
type Versions struct {
	Main string
	Pre  string
}

// String renders the versions for a chat reply.
func (v Versions) String() string {
	main, pre := v.Main, v.Pre
	if main == "" {
		main = "未知"
	}
	if pre == "" {
		pre = "未开启"
	}
	return fmt.Sprintf("正式版本：%s\n预下载版本：%s", main, pre)
}
