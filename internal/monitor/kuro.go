package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultKuroIndexURL is the launcher index of the kuro family
	DefaultKuroIndexURL = "https://prod-cn-alicdn-gamestarter.kurogame.com/launcher/game/G152/10003_Y8xXrXk65DqFHEDgApn3cpK5lfczpFx5/index.json"

	defaultKuroCDN = "https://pcdownload-huoshan.aki-game.com"
	kuroIconURL    = "https://cn.bing.com/th?id=OSK.d2e8b2efa5867fba330b354d0472f5e5&w=120&h=120&qlt=120&c=6&rs=1&cdv=1&pid=RS"
)

type kuroCDN struct {
	URL string `json:"url"`
}

type kuroPatch struct {
	IndexFile    string    `json:"indexFile"`
	IndexFileMd5 string    `json:"indexFileMd5"`
	Size         ByteCount `json:"size"`
	Version      string    `json:"version"`
}

type kuroConfig struct {
	IndexFile    string      `json:"indexFile"`
	IndexFileMd5 string      `json:"indexFileMd5"`
	Size         ByteCount   `json:"size"`
	Version      string      `json:"version"`
	PatchConfig  []kuroPatch `json:"patchConfig"`
}

type kuroSection struct {
	CdnList []kuroCDN   `json:"cdnList"`
	Config  *kuroConfig `json:"config"`
}

type kuroIndex struct {
	CdnList     []kuroCDN    `json:"cdnList"`
	Default     *kuroSection `json:"default"`
	Predownload *kuroSection `json:"predownload"`
}

func (ix *kuroIndex) section(ch Channel) *kuroSection {
	if ch == ChannelPre {
		return ix.Predownload
	}
	return ix.Default
}

func (ix *kuroIndex) cdn(s *kuroSection) string {
	for _, list := range [][]kuroCDN{ix.CdnList, s.CdnList} {
		if len(list) > 0 {
			if u := strings.TrimRight(list[0].URL, "/"); u != "" {
				return u
			}
		}
	}
	return defaultKuroCDN
}

// KuroAdapter serves the single product behind the kuro launcher index.
type KuroAdapter struct {
	product  Product
	client   *RetryableHTTPClient
	indexURL string
}

func (a *KuroAdapter) index(ctx context.Context) (*kuroIndex, error) {
	var ix kuroIndex
	if err := a.client.GetJSON(ctx, a.indexURL, &ix); err != nil {
		return nil, err
	}
	return &ix, nil
}

// Fetch reads default.config.version and predownload.config.version.
func (a *KuroAdapter) Fetch(ctx context.Context) (Snapshot, error) {
	ix, err := a.index(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if ix.Default == nil || ix.Default.Config == nil || ix.Default.Config.Version == "" {
		return Snapshot{}, fmt.Errorf("%w: index has no default version", ErrParse)
	}
	snap := Snapshot{Main: ix.Default.Config.Version}
	if ix.Predownload != nil && ix.Predownload.Config != nil {
		snap.Pre = ix.Predownload.Config.Version
	}
	return snap, nil
}

// Download lists the full index file of a channel and its patches,
// newest patch first.
func (a *KuroAdapter) Download(ctx context.Context, ch Channel) (*DownloadMetadata, error) {
	ix, err := a.index(ctx)
	if err != nil {
		return nil, err
	}

	meta := &DownloadMetadata{Channel: ch}
	section := ix.section(ch)
	if section == nil || section.Config == nil || section.Config.IndexFile == "" {
		return meta, nil
	}
	cfg := section.Config
	cdn := ix.cdn(section)

	meta.Major = &Release{
		Version: cfg.Version,
		GamePkgs: []Package{{
			URL:  cdn + "/" + strings.TrimPrefix(cfg.IndexFile, "/"),
			MD5:  cfg.IndexFileMd5,
			Size: int64(cfg.Size),
		}},
	}

	patches := make([]kuroPatch, 0, len(cfg.PatchConfig))
	for _, p := range cfg.PatchConfig {
		if p.IndexFile != "" {
			patches = append(patches, p)
		}
	}
	sort.SliceStable(patches, func(i, j int) bool {
		return Compare(patches[i].Version, patches[j].Version) > 0
	})
	for _, p := range patches {
		meta.Patch.GamePkgs = append(meta.Patch.GamePkgs, Package{
			URL:     cdn + "/" + strings.TrimPrefix(p.IndexFile, "/"),
			MD5:     p.IndexFileMd5,
			Size:    int64(p.Size),
			Version: p.Version,
		})
	}
	if len(patches) > 0 {
		meta.Patch.Version = patches[0].Version
	}
	return meta, nil
}

// ResolveSize derives sizes from the channel's download metadata.
func (a *KuroAdapter) ResolveSize(ctx context.Context, ch Channel, dl DownloadFunc) (SizeInfo, error) {
	if dl == nil {
		dl = a.Download
	}
	meta, err := dl(ctx, ch)
	if err != nil {
		return SizeInfo{}, fmt.Errorf("%w: %v", ErrSizeResolution, err)
	}
	if meta.Major == nil || len(meta.Major.GamePkgs) == 0 {
		return SizeInfo{}, fmt.Errorf("%w: %s offers no %s package", ErrSizeResolution, a.product.ID, ch)
	}

	info := SizeInfo{TotalSize: meta.Major.GamePkgs[0].Size, HasTotal: true}
	if len(meta.Patch.GamePkgs) > 0 {
		newest := meta.Patch.GamePkgs[0]
		info.IncrementalSize = newest.Size
		info.PatchVersion = newest.Version
		info.HasIncremental = true
	}
	return info, nil
}

// IconURL returns a fixed icon; the index carries none.
func (a *KuroAdapter) IconURL(context.Context) (string, error) {
	return kuroIconURL, nil
}
