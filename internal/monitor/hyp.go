package monitor

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultHypConnectBase serves branches, packages and game metadata
	DefaultHypConnectBase = "https://hyp-api.mihoyo.com/hyp/hyp-connect/api"
	// DefaultSophonBase serves chunked build manifests used for sizes
	DefaultSophonBase = "https://api-takumi.mihoyo.com/downloader/sophon_chunk/api"

	hypLauncherID = "jGHBHlcOq1"
	sophonPlatApp = "ddxf5qt290cg"
)

// Voice packs that are not counted in the advertised download size.
var excludedManifestLanguages = map[string]bool{
	"en-us": true,
	"ja-jp": true,
	"ko-kr": true,
}

type hypEnvelope[T any] struct {
	Retcode int    `json:"retcode"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (e *hypEnvelope[T]) check(url string) error {
	if e.Retcode != 0 {
		return fmt.Errorf("%w: %s answered retcode %d: %s", ErrFetch, url, e.Retcode, e.Message)
	}
	return nil
}

type hypGame struct {
	ID  string `json:"id"`
	Biz string `json:"biz"`
}

type hypBranchSection struct {
	PackageID string   `json:"package_id"`
	Branch    string   `json:"branch"`
	Password  string   `json:"password"`
	Tag       string   `json:"tag"`
	DiffTags  []string `json:"diff_tags"`
}

type hypGameBranch struct {
	Game        hypGame           `json:"game"`
	Main        *hypBranchSection `json:"main"`
	PreDownload *hypBranchSection `json:"pre_download"`
}

type hypBranchesData struct {
	GameBranches []hypGameBranch `json:"game_branches"`
}

type hypPackage struct {
	URL              string    `json:"url"`
	MD5              string    `json:"md5"`
	Size             ByteCount `json:"size"`
	DecompressedSize ByteCount `json:"decompressed_size"`
	Language         string    `json:"language"`
}

type hypRelease struct {
	Version   string       `json:"version"`
	GamePkgs  []hypPackage `json:"game_pkgs"`
	AudioPkgs []hypPackage `json:"audio_pkgs"`
}

type hypChannelPackages struct {
	Major   *hypRelease  `json:"major"`
	Patches []hypRelease `json:"patches"`
}

type hypGamePackages struct {
	Game        hypGame             `json:"game"`
	Main        *hypChannelPackages `json:"main"`
	PreDownload *hypChannelPackages `json:"pre_download"`
}

type hypPackagesData struct {
	GamePackages []hypGamePackages `json:"game_packages"`
}

type hypGamesData struct {
	Games []struct {
		ID      string `json:"id"`
		Biz     string `json:"biz"`
		Display struct {
			Name string `json:"name"`
			Icon struct {
				URL string `json:"url"`
			} `json:"icon"`
		} `json:"display"`
	} `json:"games"`
}

type sophonStats struct {
	CompressedSize   ByteCount `json:"compressed_size"`
	UncompressedSize ByteCount `json:"uncompressed_size"`
}

// sophonManifest.Stats is flat on getBuild and keyed by source version on
// getPatchBuild, so it is decoded lazily.
type sophonManifest struct {
	MatchingField     string                 `json:"matching_field"`
	Stats             map[string]interface{} `json:"stats"`
	DeduplicatedStats *sophonStats           `json:"deduplicated_stats"`
}

type sophonBuildData struct {
	BuildID   string           `json:"build_id"`
	Tag       string           `json:"tag"`
	Manifests []sophonManifest `json:"manifests"`
}

// HypAdapter serves products of the hyp launcher API.
type HypAdapter struct {
	product     Product
	client      *RetryableHTTPClient
	connectBase string
	sophonBase  string
}

func (a *HypAdapter) branchesURL() string {
	return fmt.Sprintf("%s/getGameBranches?launcher_id=%s&game_ids[]=%s", a.connectBase, hypLauncherID, a.product.GameID)
}

func (a *HypAdapter) packagesURL() string {
	return fmt.Sprintf("%s/getGamePackages?launcher_id=%s&game_ids[]=%s", a.connectBase, hypLauncherID, a.product.GameID)
}

func (a *HypAdapter) gamesURL() string {
	return fmt.Sprintf("%s/getGames?launcher_id=%s&language=zh-cn", a.connectBase, hypLauncherID)
}

func (a *HypAdapter) sophonURL(endpoint string, ch Channel, section *hypBranchSection) string {
	branch := "main"
	if ch == ChannelPre {
		branch = "predownload"
	}
	return fmt.Sprintf("%s/%s?branch=%s&plat_app=%s&package_id=%s&password=%s",
		a.sophonBase, endpoint, branch, sophonPlatApp, section.PackageID, section.Password)
}

func (a *HypAdapter) branch(ctx context.Context) (*hypGameBranch, error) {
	url := a.branchesURL()
	var env hypEnvelope[hypBranchesData]
	if err := a.client.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	if err := env.check(url); err != nil {
		return nil, err
	}
	if len(env.Data.GameBranches) == 0 {
		return nil, fmt.Errorf("%w: no game branch for %s", ErrParse, a.product.GameID)
	}
	return &env.Data.GameBranches[0], nil
}

// Fetch reads main.tag and pre_download.tag of the first game branch.
func (a *HypAdapter) Fetch(ctx context.Context) (Snapshot, error) {
	b, err := a.branch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if b.Main == nil || b.Main.Tag == "" {
		return Snapshot{}, fmt.Errorf("%w: branch of %s has no main tag", ErrParse, a.product.GameID)
	}
	snap := Snapshot{Main: b.Main.Tag}
	if b.PreDownload != nil {
		snap.Pre = b.PreDownload.Tag
	}
	return snap, nil
}

func convertHypPackages(pkgs []hypPackage, version string) []Package {
	out := make([]Package, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, Package{
			URL:      p.URL,
			MD5:      p.MD5,
			Size:     int64(p.Size),
			Version:  version,
			Language: p.Language,
		})
	}
	return out
}

// Download returns the major release and first patch of a channel.
func (a *HypAdapter) Download(ctx context.Context, ch Channel) (*DownloadMetadata, error) {
	url := a.packagesURL()
	var env hypEnvelope[hypPackagesData]
	if err := a.client.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	if err := env.check(url); err != nil {
		return nil, err
	}
	if len(env.Data.GamePackages) == 0 {
		return nil, fmt.Errorf("%w: no game package for %s", ErrParse, a.product.GameID)
	}

	gp := env.Data.GamePackages[0]
	section := gp.Main
	if ch == ChannelPre {
		section = gp.PreDownload
	}

	meta := &DownloadMetadata{Channel: ch}
	if section == nil {
		return meta, nil
	}
	if m := section.Major; m != nil && m.Version != "" {
		meta.Major = &Release{
			Version:   m.Version,
			GamePkgs:  convertHypPackages(m.GamePkgs, ""),
			AudioPkgs: convertHypPackages(m.AudioPkgs, ""),
		}
	}
	if len(section.Patches) > 0 {
		p := section.Patches[0]
		meta.Patch = Release{
			Version:   p.Version,
			GamePkgs:  convertHypPackages(p.GamePkgs, p.Version),
			AudioPkgs: convertHypPackages(p.AudioPkgs, p.Version),
		}
	}
	return meta, nil
}

func (a *HypAdapter) build(ctx context.Context, url string, post bool) (*sophonBuildData, error) {
	var env hypEnvelope[sophonBuildData]
	var err error
	if post {
		err = a.client.PostJSON(ctx, url, nil, &env)
	} else {
		err = a.client.GetJSON(ctx, url, &env)
	}
	if err != nil {
		return nil, err
	}
	if err := env.check(url); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// ResolveSize queries sophon build manifests for the channel's branch.
func (a *HypAdapter) ResolveSize(ctx context.Context, ch Channel, _ DownloadFunc) (SizeInfo, error) {
	b, err := a.branch(ctx)
	if err != nil {
		return SizeInfo{}, fmt.Errorf("%w: %v", ErrSizeResolution, err)
	}
	section := b.Main
	if ch == ChannelPre {
		section = b.PreDownload
	}
	if section == nil || section.PackageID == "" {
		return SizeInfo{}, fmt.Errorf("%w: %s offers no %s branch", ErrSizeResolution, a.product.ID, ch)
	}

	if a.product.AudioSplit {
		return a.resolveAudioSplit(ctx, ch, section)
	}
	return a.resolveSophon(ctx, ch, section)
}

func (a *HypAdapter) resolveSophon(ctx context.Context, ch Channel, section *hypBranchSection) (SizeInfo, error) {
	var patchVersion string
	if len(section.DiffTags) > 0 {
		patchVersion = section.DiffTags[0]
	}

	var full, patch *sophonBuildData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		full, err = a.build(gctx, a.sophonURL("getBuild", ch, section), false)
		return err
	})
	g.Go(func() error {
		var err error
		patch, err = a.build(gctx, a.sophonURL("getPatchBuild", ch, section), true)
		return err
	})
	if err := g.Wait(); err != nil {
		return SizeInfo{}, fmt.Errorf("%w: %v", ErrSizeResolution, err)
	}

	return SizeInfo{
		TotalSize:       sumManifests(full.Manifests, patchVersion),
		IncrementalSize: sumManifests(patch.Manifests, patchVersion),
		PatchVersion:    patchVersion,
		HasTotal:        true,
		HasIncremental:  true,
	}, nil
}

func (a *HypAdapter) resolveAudioSplit(ctx context.Context, ch Channel, section *hypBranchSection) (SizeInfo, error) {
	full, err := a.build(ctx, a.sophonURL("getBuild", ch, section), false)
	if err != nil {
		return SizeInfo{}, fmt.Errorf("%w: %v", ErrSizeResolution, err)
	}

	info := SizeInfo{PatchVersion: section.Tag}
	for _, m := range full.Manifests {
		switch m.MatchingField {
		case "game":
			info.TotalSize = int64(m.flatStats().CompressedSize)
			info.HasTotal = true
		case "asb":
			info.AudioSize = int64(m.flatStats().CompressedSize)
			info.HasAudio = true
		}
	}
	if !info.HasTotal {
		return SizeInfo{}, fmt.Errorf("%w: %s build has no game manifest", ErrSizeResolution, a.product.ID)
	}
	return info, nil
}

// sumManifests adds uncompressed sizes of every manifest except the
// excluded voice languages, preferring non-zero deduplicated stats.
func sumManifests(manifests []sophonManifest, version string) int64 {
	var sum int64
	for _, m := range manifests {
		if excludedManifestLanguages[strings.ToLower(m.MatchingField)] {
			continue
		}
		if m.DeduplicatedStats != nil && m.DeduplicatedStats.UncompressedSize > 0 {
			sum += int64(m.DeduplicatedStats.UncompressedSize)
			continue
		}
		sum += int64(m.versionStats(version).UncompressedSize)
	}
	return sum
}

func (m sophonManifest) flatStats() sophonStats {
	return decodeStats(m.Stats)
}

func (m sophonManifest) versionStats(version string) sophonStats {
	if version == "" {
		return sophonStats{}
	}
	nested, ok := m.Stats[version].(map[string]interface{})
	if !ok {
		return sophonStats{}
	}
	return decodeStats(nested)
}

func decodeStats(raw map[string]interface{}) sophonStats {
	return sophonStats{
		CompressedSize:   byteCountOf(raw["compressed_size"]),
		UncompressedSize: byteCountOf(raw["uncompressed_size"]),
	}
}

func byteCountOf(v interface{}) ByteCount {
	var b ByteCount
	switch x := v.(type) {
	case float64:
		b = ByteCount(x)
	case string:
		_ = b.UnmarshalJSON([]byte(x))
	}
	return b
}

// IconURL looks the product up in getGames by id or biz.
func (a *HypAdapter) IconURL(ctx context.Context) (string, error) {
	url := a.gamesURL()
	var env hypEnvelope[hypGamesData]
	if err := a.client.GetJSON(ctx, url, &env); err != nil {
		return "", err
	}
	if err := env.check(url); err != nil {
		return "", err
	}
	for _, g := range env.Data.Games {
		if g.ID == a.product.GameID || g.Biz == a.product.Biz {
			if g.Display.Icon.URL != "" {
				return g.Display.Icon.URL, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no icon for %s", ErrParse, a.product.GameID)
}
