package collect

import (
	"time"

	"github.com/TobiSchelling/BidRadar/internal/config"
)

// NewHTTPClientFromConfig builds the shared client from the http section.
func NewHTTPClientFromConfig(cfg *config.Config) *HTTPClient {
	return NewHTTPClient(HTTPOptions{
		Timeout:           time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
		MaxAttempts:       cfg.HTTP.MaxAttempts,
		UserAgent:         cfg.HTTP.UserAgent,
	})
}

// SourcesFromConfig returns the enabled adapters in their fixed merge order.
func SourcesFromConfig(cfg *config.Config, hc *HTTPClient, snaps *SnapshotStore) []Source {
	s := cfg.Sources
	var out []Source
	if s.CanadaBuys.Enabled {
		out = append(out, &CanadaBuys{HTTP: hc, Scope: s.CanadaBuys.Scope})
	}
	if s.SAM.Enabled {
		out = append(out, &SAM{
			HTTP:     hc,
			APIKey:   cfg.SAMAPIKey(),
			Keywords: s.SAM.Keywords,
			NAICS:    s.SAM.NAICS,
			PSC:      s.SAM.PSC,
			States:   s.SAM.States,
			DaysBack: s.SAM.DaysBack,
			PageSize: s.SAM.PageSize,
		})
	}
	if s.MERX.Enabled {
		out = append(out, NewMERXFromConfig(cfg, hc, snaps))
	}
	if s.BidsCanada.Enabled {
		out = append(out, &BidsCanada{
			HTTP:        hc,
			ListingURL:  s.BidsCanada.ListingURL,
			SearchTerms: s.BidsCanada.SearchTerms,
			Keywords:    cfg.Vocabulary.Keywords,
			SearchLimit: s.BidsCanada.SearchLimit,
		})
	}
	if s.GlobalTenders.Enabled {
		out = append(out, &GlobalTenders{HTTP: hc, SearchURL: s.GlobalTenders.SearchURL})
	}
	if len(s.Feeds) > 0 {
		feeds := make([]FeedConfig, len(s.Feeds))
		for i, f := range s.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name}
		}
		out = append(out, &Feeds{HTTP: hc, Feeds: feeds})
	}
	return out
}

// NewMERXFromConfig builds the MERX adapter, also used by the snapshot
// refresh command.
func NewMERXFromConfig(cfg *config.Config, hc *HTTPClient, snaps *SnapshotStore) *MERX {
	return &MERX{
		HTTP:      hc,
		Snapshots: snaps,
		Feeds:     ParseMERXFeeds(cfg.Sources.MERX.Feeds),
		HTMLFirst: cfg.Sources.MERX.HTMLFirst,
	}
}
