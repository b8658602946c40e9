package engine

import (
	"math"
	"strings"
	"time"
)

// Relevance weights: keyword overlap dominates, recency second, access
// frequency last.
const (
	keywordWeight   = 0.50
	frequencyWeight = 0.20
	recencyWeight   = 0.30

	// frequencyCeiling is the access count at which the frequency signal
	// saturates.
	frequencyCeiling = 100

	// recencyDecayHours shapes the exponential age falloff: a memory one
	// day old scores recency 1/e.
	recencyDecayHours = 24.0
)

// extractKeywords lowercases a query and splits it on whitespace.
func extractKeywords(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// relevanceScore ranks one decrypted memory against the query keywords: a
// weighted sum of keyword overlap, access frequency, and age, clamped to
// 1.0 and rounded to four decimals.
func relevanceScore(content string, keywords []string, accessCount int, age time.Duration) float64 {
	keyword := keywordScore(content, keywords)

	frequency := math.Log1p(float64(accessCount)) / math.Log1p(frequencyCeiling)
	if frequency > 1 {
		frequency = 1
	}

	recency := math.Exp(-age.Hours() / recencyDecayHours)

	total := keywordWeight*keyword + frequencyWeight*frequency + recencyWeight*recency
	if total > 1 {
		total = 1
	}
	return math.Round(total*10000) / 10000
}

// keywordScore is the fraction of keywords that appear as substrings of the
// lowercased content, zero when either side is empty.
func keywordScore(content string, keywords []string) float64 {
	if content == "" || len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matched++
		}
	}
	return float64(matched) / float64(len(keywords))
}
