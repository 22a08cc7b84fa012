package search

import (
	"strings"

	"go.uber.org/zap"
)

// CreateSearcher returns the configured search backend, or nil when it is
// not usable.
func CreateSearcher(provider, apiKeyEnv string, resultsPerQuery int) Searcher {
	switch strings.ToLower(provider) {
	case "feed", "rss":
		zap.S().Info("Using news feed search")
		return NewFeedSearcher()
	case "newsapi":
		c := NewNewsAPIClient(apiKeyEnv, resultsPerQuery)
		if c.IsConfigured() {
			zap.S().Info("Using NewsAPI search")
			return c
		}
		zap.S().Warnf("NewsAPI selected but %s is not set", apiKeyEnv)
	default:
		c := NewSerperClient(apiKeyEnv, resultsPerQuery)
		if c.IsConfigured() {
			zap.S().Info("Using Serper search")
			return c
		}
		zap.S().Warnf("Serper selected but %s is not set", apiKeyEnv)
	}
	return nil
}
