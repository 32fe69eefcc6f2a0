package monitor

import "strings"

// ProductID is the short key of a monitored game.
type ProductID string

const (
	Genshin        ProductID = "ys"
	StarRail       ProductID = "sr"
	Zenless        ProductID = "zzz"
	Honkai3        ProductID = "bh3"
	WutheringWaves ProductID = "ww"
)

// Family selects which upstream adapter serves a product.
type Family int

const (
	FamilyHyp Family = iota
	FamilyKuro
)

func (f Family) String() string {
	switch f {
	case FamilyHyp:
		return "hyp"
	case FamilyKuro:
		return "kuro"
	}
	return "unknown"
}

// Channel is a release channel of a product.
type Channel string

const (
	ChannelMain Channel = "main"
	ChannelPre  Channel = "pre"
)

// Label returns the user-facing channel name.
func (c Channel) Label() string {
	if c == ChannelPre {
		return "预下载"
	}
	return "正式版"
}

// Product is one monitored game.
type Product struct {
	ID     ProductID
	Name   string
	Family Family
	// GameID and Biz identify the game on the hyp launcher API.
	GameID string
	Biz    string
	// Prefix namespaces the product's version-state keys.
	Prefix  string
	Aliases []string
	// AudioSplit marks hyp products whose sizes come from separate game
	// and audio manifests instead of per-language sophon manifests.
	AudioSplit bool
	// NoLinkHint drops the "request download links" line from notices.
	NoLinkHint bool
}

var products = []Product{
	{
		ID: Genshin, Name: "原神", Family: FamilyHyp,
		GameID: "1Z8W5NHUQb", Biz: "hk4e_cn", Prefix: "YS",
		Aliases:    []string{"ys", "YS", "原神"},
		NoLinkHint: true,
	},
	{
		ID: StarRail, Name: "崩坏:星穹铁道", Family: FamilyHyp,
		GameID: "64kMb5iAWu", Biz: "hkrpg_cn", Prefix: "SR",
		Aliases: []string{"sr", "*", "星铁", "星轨", "穹轨", "星穹", "崩铁", "星穹铁道", "崩坏星穹铁道", "铁道"},
	},
	{
		ID: Zenless, Name: "绝区零", Family: FamilyHyp,
		GameID: "x6znKlJ0xK", Biz: "nap_cn", Prefix: "ZZZ",
		Aliases: []string{"%", "％", "绝区零", "zzz", "ZZZ", "绝区"},
	},
	{
		ID: Honkai3, Name: "崩坏3", Family: FamilyHyp,
		GameID: "osvnlOc0S8", Biz: "bh3_cn", Prefix: "BH3",
		Aliases:    []string{"bh3", "!", "！", "崩坏三", "崩坏3", "崩三", "崩3", "bbb", "三崩子"},
		AudioSplit: true,
	},
	{
		ID: WutheringWaves, Name: "鸣潮", Family: FamilyKuro,
		Prefix:  "WW",
		Aliases: []string{"~", "～", "鸣潮", "ww", "WW", "mc"},
	},
}

// Products returns every monitored product in display order.
func Products() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// LookupProduct resolves a product key or alias. Matching is exact first,
// then case-insensitive.
func LookupProduct(s string) (Product, bool) {
	s = strings.TrimSpace(s)
	for _, p := range products {
		if string(p.ID) == s {
			return p, true
		}
		for _, a := range p.Aliases {
			if a == s {
				return p, true
			}
		}
	}
	for _, p := range products {
		if strings.EqualFold(string(p.ID), s) {
			return p, true
		}
		for _, a := range p.Aliases {
			if strings.EqualFold(a, s) {
				return p, true
			}
		}
	}
	return Product{}, false
}

// MustProduct returns a registered product and panics on unknown ids.
func MustProduct(id ProductID) Product {
	p, ok := LookupProduct(string(id))
	if !ok {
		panic("monitor: unknown product " + string(id))
	}
	return p
}

// StateKey is the version-state key for a product channel,
// e.g. "GamePush:YS:Main".
func (p Product) StateKey(namespace string, ch Channel) string {
	suffix := "Main"
	if ch == ChannelPre {
		suffix = "Pre"
	}
	if namespace == "" {
		return p.Prefix + ":" + suffix
	}
	return namespace + ":" + p.Prefix + ":" + suffix
}

// StateKeys returns the main and pre keys of a product.
func (p Product) StateKeys(namespace string) (main, pre string) {
	return p.StateKey(namespace, ChannelMain), p.StateKey(namespace, ChannelPre)
}
