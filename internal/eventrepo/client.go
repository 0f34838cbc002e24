package eventrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/testgate/testgate/internal/fetch"
)

const requestTimeout = 10 * time.Second

const artifactQueryFormat = `{
  artifactCreated(%s, last: 1) {
    edges {
      node {
        data {
          identity
        }
        meta {
          id
        }
      }
    }
  }
}`

// Artifact is an artifact-created event stored in the event repository.
type Artifact struct {
	ID       string
	Identity string
}

// Query selects an artifact either by event ID or by an identity regular
// expression. Exactly one field must be set.
type Query struct {
	ID       string
	Identity string
}

// Client resolves build artifacts from the platform's GraphQL event
// repository. Lookup failures are absorbed; absence is reported via the
// boolean.
type Client struct {
	url          string
	timeout      time.Duration
	pollInterval time.Duration
	fetcher      *fetch.Client
	logger       *slog.Logger
}

// NewClient creates an event-repository client for the given GraphQL
// endpoint. timeout bounds how long Wait polls; pollInterval is the delay
// between polls.
func NewClient(url string, timeout, pollInterval time.Duration, logger *slog.Logger) *Client {
	fetcher := fetch.NewClient(requestTimeout, logger)
	// The poll loop is the retry mechanism here.
	fetcher.RetryCount = 1
	return &Client{
		url:          url,
		timeout:      timeout,
		pollInterval: pollInterval,
		fetcher:      fetcher,
		logger:       logger,
	}
}

// ArtifactByIdentity looks up the latest artifact whose identity matches
// the given regular expression.
func (c *Client) ArtifactByIdentity(ctx context.Context, identity string) (Artifact, bool) {
	return c.lookup(ctx, Query{Identity: identity})
}

// ArtifactByID looks up an artifact-created event by its event ID.
func (c *Client) ArtifactByID(ctx context.Context, id string) (Artifact, bool) {
	return c.lookup(ctx, Query{ID: id})
}

// Wait polls the event repository until the artifact appears or the wait
// budget runs out. At least one lookup always happens.
func (c *Client) Wait(ctx context.Context, q Query) (Artifact, bool) {
	deadline := time.Now().Add(c.timeout)
	for {
		artifact, ok := c.lookup(ctx, q)
		if ok {
			return artifact, true
		}
		c.logger.Debug("artifact not ready yet", "id", q.ID, "identity", q.Identity)

		if time.Now().After(deadline) || ctx.Err() != nil {
			c.logger.Warn("artifact not found within wait budget",
				"id", q.ID, "identity", q.Identity, "timeout", c.timeout)
			return Artifact{}, false
		}
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return Artifact{}, false
		}
	}
}

type artifactResponse struct {
	Data struct {
		ArtifactCreated struct {
			Edges []struct {
				Node struct {
					Data struct {
						Identity string `json:"identity"`
					} `json:"data"`
					Meta struct {
						ID string `json:"id"`
					} `json:"meta"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"artifactCreated"`
	} `json:"data"`
}

// lookup runs one query. Transport errors, GraphQL errors and empty result
// sets all come back as absent.
func (c *Client) lookup(ctx context.Context, q Query) (Artifact, bool) {
	query, err := q.graphql()
	if err != nil {
		c.logger.Error("invalid artifact query", "error", err)
		return Artifact{}, false
	}

	payload := map[string]string{"query": query}
	var resp artifactResponse
	if err := c.fetcher.PostJSON(ctx, c.url, payload, &resp); err != nil {
		c.logger.Warn("event repository query failed", "url", c.url, "error", err)
		return Artifact{}, false
	}

	edges := resp.Data.ArtifactCreated.Edges
	if len(edges) == 0 {
		return Artifact{}, false
	}
	node := edges[0].Node
	if node.Meta.ID == "" {
		return Artifact{}, false
	}
	return Artifact{ID: node.Meta.ID, Identity: node.Data.Identity}, true
}

// graphql renders the artifactCreated query for this selection.
func (q Query) graphql() (string, error) {
	switch {
	case q.ID != "" && q.Identity != "":
		return "", errors.New("artifact query takes an id or an identity, not both")
	case q.ID != "":
		search := fmt.Sprintf(`search: "{'meta.id': '%s'}"`, q.ID)
		return fmt.Sprintf(artifactQueryFormat, search), nil
	case q.Identity != "":
		identity := q.Identity
		if strings.HasPrefix(identity, "pkg:") {
			// Anchor package-url identities to speed up the regex search.
			identity = "^" + identity
		}
		search := fmt.Sprintf(`search: "{'data.identity': {'$regex': '%s'}}"`, identity)
		return fmt.Sprintf(artifactQueryFormat, search), nil
	default:
		return "", errors.New("artifact query needs an id or an identity")
	}
}
