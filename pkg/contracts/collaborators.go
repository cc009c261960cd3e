package contracts

// Package contracts defines wire contract types shared between tandem-ai and its collaborator services.
//
// These types define the inter-service communication interface with the
// retrieval service and the claim verifier. The collaborators publish
// matching shapes; the integration clients marshal and unmarshal these
// types directly.

// Retrieval service

// SearchRequest queries the retrieval service for background chunks.
type SearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Chunk is one retrieved text fragment with its relevance score.
type Chunk struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// SearchResponse returns scored chunks for one search.
type SearchResponse struct {
	Chunks []Chunk `json:"chunks"`
}

// Indicator is one structured data point from the indicator feed.
type Indicator struct {
	Code  string  `json:"code"`
	Value float64 `json:"value"`
	Year  int     `json:"year"`
}

// IndicatorsResponse returns the current indicator set.
type IndicatorsResponse struct {
	Indicators []Indicator `json:"indicators"`
}

// Claim verifier

// VerifyRequest submits one numeric claim for fact-checking.
type VerifyRequest struct {
	Claim string `json:"claim"`
}

// VerifyResponse returns the verifier's verdict for one claim.
type VerifyResponse struct {
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
}
