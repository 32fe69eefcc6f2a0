package monitor

import (
	"context"
	"fmt"
)

// Snapshot is the normalized version information of one product.
// An empty Pre means no pre-download is offered.
type Snapshot struct {
	Main string
	Pre  string
}

// Package is one downloadable file.
type Package struct {
	URL      string
	MD5      string
	Size     int64
	Version  string
	Language string
}

// Release groups the files of one version.
type Release struct {
	Version   string
	GamePkgs  []Package
	AudioPkgs []Package
}

// DownloadMetadata is what a channel currently offers. Major is nil when
// the channel has nothing to download.
type DownloadMetadata struct {
	Channel Channel
	Major   *Release
	Patch   Release
}

// DownloadFunc returns (possibly cached) download metadata of a channel.
type DownloadFunc func(ctx context.Context, ch Channel) (*DownloadMetadata, error)

// Adapter talks to one product's upstream launcher backend.
type Adapter interface {
	// Fetch returns the current main and pre-download versions.
	Fetch(ctx context.Context) (Snapshot, error)
	// Download returns the package listing of a channel.
	Download(ctx context.Context, ch Channel) (*DownloadMetadata, error)
	// ResolveSize computes download sizes of a channel. Adapters that derive
	// sizes from download metadata read it through dl.
	ResolveSize(ctx context.Context, ch Channel, dl DownloadFunc) (SizeInfo, error)
	// IconURL returns the product icon used in rendered notices.
	IconURL(ctx context.Context) (string, error)
}

// Endpoints holds upstream base URLs. Zero values use the public defaults.
type Endpoints struct {
	HypConnectBase string
	SophonBase     string
	KuroIndexURL   string
}

func (e Endpoints) withDefaults() Endpoints {
	if e.HypConnectBase == "" {
		e.HypConnectBase = DefaultHypConnectBase
	}
	if e.SophonBase == "" {
		e.SophonBase = DefaultSophonBase
	}
	if e.KuroIndexURL == "" {
		e.KuroIndexURL = DefaultKuroIndexURL
	}
	return e
}

// NewAdapter selects the adapter variant of a product's family.
func NewAdapter(p Product, client *RetryableHTTPClient, endpoints Endpoints) (Adapter, error) {
	endpoints = endpoints.withDefaults()
	switch p.Family {
	case FamilyHyp:
		return &HypAdapter{
			product:     p,
			client:      client,
			connectBase: endpoints.HypConnectBase,
			sophonBase:  endpoints.SophonBase,
		}, nil
	case FamilyKuro:
		return &KuroAdapter{
			product:  p,
			client:   client,
			indexURL: endpoints.KuroIndexURL,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s has no adapter for family %s", ErrUnknownProduct, p.ID, p.Family)
}

// NewAdapters builds the adapter registry for every product.
func NewAdapters(client *RetryableHTTPClient, endpoints Endpoints) (map[ProductID]Adapter, error) {
	adapters := make(map[ProductID]Adapter, len(products))
	for _, p := range products {
		a, err := NewAdapter(p, client, endpoints)
		if err != nil {
			return nil, err
		}
		adapters[p.ID] = a
	}
	return adapters, nil
}
