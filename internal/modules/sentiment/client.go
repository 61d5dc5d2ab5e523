package sentiment

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// listingResponse mirrors the public listing endpoint payload
type listingResponse struct {
	Data struct {
		Children []struct {
			Data struct {
				Name        string  `json:"name"`
				Subreddit   string  `json:"subreddit"`
				Title       string  `json:"title"`
				Selftext    string  `json:"selftext"`
				Permalink   string  `json:"permalink"`
				Ups         int     `json:"ups"`
				NumComments int     `json:"num_comments"`
				CreatedUTC  float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Client reads the public Reddit JSON listing endpoints. Requests are kept
// minimal and results cached locally so Reddit sees at most one fetch per
// subreddit per interval.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	log       zerolog.Logger
}

// NewClient creates a Reddit listing client
func NewClient(userAgent string, log zerolog.Logger) *Client {
	return &Client{
		baseURL:   "https://www.reddit.com",
		userAgent: userAgent,
		client:    &http.Client{Timeout: 20 * time.Second},
		log:       log.With().Str("client", "reddit").Logger(),
	}
}

// FetchListing fetches one subreddit listing page
func (c *Client) FetchListing(subreddit, listing string, limit int) ([]Post, error) {
	url := fmt.Sprintf("%s/r/%s/%s.json?limit=%d", c.baseURL, subreddit, listing, limit)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build r/%s request: %w", subreddit, err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("r/%s request failed: %w", subreddit, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("r/%s returned status %d", subreddit, resp.StatusCode)
	}

	var payload listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode r/%s listing: %w", subreddit, err)
	}

	posts := make([]Post, 0, len(payload.Data.Children))
	for _, child := range payload.Data.Children {
		d := child.Data
		if d.Name == "" {
			continue
		}
		posts = append(posts, Post{
			PostID:      d.Name,
			Subreddit:   d.Subreddit,
			Title:       d.Title,
			Selftext:    d.Selftext,
			URL:         d.Permalink,
			Score:       d.Ups,
			NumComments: d.NumComments,
			CreatedUTC:  int64(d.CreatedUTC),
		})
	}

	c.log.Debug().Str("subreddit", subreddit).Int("posts", len(posts)).Msg("Listing fetched")
	return posts, nil
}
