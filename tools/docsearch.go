package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

type docPage struct {
	Path     string
	Title    string
	Content  string
	Category string
}

// DocSearchTool searches a static index of documentation pages and
// returns the matches ranked by relevance.
type DocSearchTool struct {
	baseURL string
	pages   []docPage
}

func NewDocSearchTool(baseURL string) *DocSearchTool {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://docs.example.com"
	}
	return &DocSearchTool{
		baseURL: baseURL,
		pages: []docPage{
			{"/docs/getting-started", "Getting Started", "Welcome to the API documentation. Learn how to integrate payment processing, handle 3DSecure, and manage transactions.", "API Integration"},
			{"/docs/payment-methods", "Payment Methods", "Supported payment methods include credit cards, SEPA Direct Debit, iDEAL, Sofort, and digital wallets like Apple Pay and Google Pay.", "Payment Methods"},
			{"/docs/3dsecure", "3D Secure Integration", "How to implement 3D Secure (3DS) authentication for card payments. Includes API endpoints, redirect flows, and security considerations.", "3DSecure"},
			{"/docs/api-reference", "API Reference", "Complete API reference including authentication, endpoints, request and response formats, and error codes for payment processing.", "API Integration"},
			{"/docs/tokenization", "Tokenization", "Secure payment tokenization for storing payment methods. Covers token ids, security benefits, and PCI compliance.", "Security"},
			{"/docs/webhooks", "Webhooks", "Configure webhooks to receive real-time notifications about payment status changes, refunds, and other events.", "API Integration"},
			{"/docs/testing", "Testing & Sandbox", "Test your integration using the sandbox environment. Includes test card numbers, test scenarios, and debugging tools.", "Testing"},
			{"/docs/error-codes", "Error Codes", "List of error codes, their meanings, and recommended actions for troubleshooting payment issues.", "Error Codes"},
		},
	}
}

func (t *DocSearchTool) Name() string { return "search_docs" }

func (t *DocSearchTool) Description() string {
	return "Search the product documentation and return matching pages with links, ranked by relevance."
}

func (t *DocSearchTool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "query": { "type": "string", "description": "Search terms." },
    "category": { "type": "string", "description": "Restrict results to one documentation category." }
  },
  "required": ["query"]
}`
}

func (t *DocSearchTool) Execute(ctx context.Context, params map[string]any) Result {
	query := strings.TrimSpace(getString(params, "query"))
	if query == "" {
		return Fail("query parameter is required", map[string]any{"tool_name": t.Name()})
	}
	category := strings.TrimSpace(getString(params, "category"))
	meta := map[string]any{"query": query, "category": category}

	type hit struct {
		page  docPage
		score float64
	}
	var hits []hit
	queryLower := strings.ToLower(query)
	for _, page := range t.pages {
		if category != "" && page.Category != category {
			continue
		}
		if score := relevance(page, queryLower); score > 0 {
			hits = append(hits, hit{page, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) == 0 {
		return Ok(map[string]any{
			"message":       fmt.Sprintf("No documentation found for %q", query),
			"query":         query,
			"total_results": 0,
			"results":       []map[string]any{},
			"suggestions":   []string{"Try different keywords", "Check spelling", "Use broader terms"},
		}, meta)
	}

	results := make([]map[string]any, 0, len(hits))
	var lines []string
	for _, h := range hits {
		url := t.baseURL + h.page.Path
		results = append(results, map[string]any{
			"title":           h.page.Title,
			"url":             url,
			"description":     h.page.Content,
			"relevance_score": h.score,
			"category":        h.page.Category,
		})
		lines = append(lines, fmt.Sprintf("• %s - %s", h.page.Title, url))
	}
	return Ok(map[string]any{
		"message":            fmt.Sprintf("Found %d result(s) for %q:", len(hits), query),
		"query":              query,
		"total_results":      len(hits),
		"results":            results,
		"formatted_response": strings.Join(lines, "\n"),
	}, meta)
}

// relevance weighs title matches over content, category and path
// matches, with extra credit for individual word hits.
func relevance(page docPage, query string) float64 {
	score := 0.0
	title := strings.ToLower(page.Title)
	content := strings.ToLower(page.Content)
	category := strings.ToLower(page.Category)

	if strings.Contains(title, query) {
		score += 5.0
	}
	if strings.Contains(content, query) {
		score += 3.0
	}
	if strings.Contains(category, query) {
		score += 2.0
	}
	if strings.Contains(strings.ToLower(page.Path), query) {
		score += 1.5
	}
	for _, word := range strings.Fields(query) {
		if strings.Contains(title, word) {
			score += 1.0
		}
		if strings.Contains(content, word) {
			score += 0.5
		}
		if strings.Contains(category, word) {
			score += 0.3
		}
	}
	return score
}
