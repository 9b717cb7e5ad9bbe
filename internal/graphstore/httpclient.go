package graphstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient posts batches to a graph store's query endpoint as JSON.
// Grounded on the teacher's plain net/http adapter style
// (pkg/runbook.GitHubClient): no generated client library exists for
// any graph database in the retrieved corpus, so this is the one
// standard-library implementation in the repo — see DESIGN.md.
type HTTPClient struct {
	httpClient *http.Client
	endpoint   string
}

func NewHTTPClient(endpoint string) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   endpoint,
	}
}

type nodeBatchRequest struct {
	Query string           `json:"query"`
	Batch []NodeProperties `json:"batch"`
}

type edgeBatchRequest struct {
	Query string           `json:"query"`
	Batch []EdgeProperties `json:"batch"`
}

// CommitNodes posts an UNWIND/MERGE node batch (spec.md §4.9):
// "UNWIND $batch AS p MERGE (n:«Label» {qualified-name: p.qn}) SET n += p.properties".
func (c *HTTPClient) CommitNodes(ctx context.Context, batch NodeBatch) error {
	query := fmt.Sprintf(
		"UNWIND $batch AS p MERGE (n:%s {qualified_name: p.QualifiedName}) SET n += p.Properties",
		batch.Label,
	)
	return c.post(ctx, nodeBatchRequest{Query: query, Batch: batch.Nodes})
}

// CommitEdges posts an UNWIND/MERGE edge batch (spec.md §4.9):
// "UNWIND $batch AS r MATCH (s ...) MATCH (t ...) MERGE (s)-[e:«Type»]->(t) ON CREATE SET ... ON MATCH SET ...".
func (c *HTTPClient) CommitEdges(ctx context.Context, batch EdgeBatch) error {
	query := fmt.Sprintf(
		"UNWIND $batch AS r MATCH (s {qualified_name: r.SourceQN}) MATCH (t {qualified_name: r.TargetQN}) "+
			"MERGE (s)-[e:%s]->(t) ON CREATE SET e += r.Properties ON MATCH SET e += r.Properties",
		batch.Type,
	)
	return c.post(ctx, edgeBatchRequest{Query: query, Batch: batch.Edges})
}

func (c *HTTPClient) post(ctx context.Context, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshalling graph batch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("creating graph batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting graph batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("graph store returned HTTP %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
