package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	es8 "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"

	"github.com/samogod/trainconf/pkg/schedule"
)

var DebugLog func(string, ...interface{})

type Config struct {
	URL      string
	Username string
	Password string
	Index    string
}

type Client struct {
	es    *es8.Client
	index string
}

// SchedulePoint is the document indexed for one sampled step.
type SchedulePoint struct {
	Config string `json:"config"`
	schedule.Point
}

func New(cfg Config, transport http.RoundTripper) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("elasticsearch URL is required")
	}
	index := cfg.Index
	if strings.TrimSpace(index) == "" {
		index = "trainconf_schedules"
	}

	es, err := es8.NewClient(es8.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	// Lightweight ping
	res, err := es.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned %s", res.Status())
	}

	return &Client{es: es, index: index}, nil
}

func (c *Client) Index() string {
	return c.index
}

func (c *Client) newBulkIndexer() (esutil.BulkIndexer, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:     c.es,
		Index:      c.index,
		NumWorkers: 4,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}
	return bi, nil
}

// IndexSchedule indexes sampled schedule points for one configuration.
// Document ids are "<config>-<step>" so re-indexing overwrites.
func (c *Client) IndexSchedule(ctx context.Context, name string, points []schedule.Point) (int, error) {
	bi, err := c.newBulkIndexer()
	if err != nil {
		return 0, err
	}

	var failed int64
	onFailure := func(ctx context.Context, item esutil.BulkIndexerItem, resp esutil.BulkIndexerResponseItem, err error) {
		atomic.AddInt64(&failed, 1)
		if DebugLog != nil {
			DebugLog("document %s failed: %s %v", item.DocumentID, resp.Error.Reason, err)
		}
	}

	for _, p := range points {
		body, err := json.Marshal(SchedulePoint{Config: name, Point: p})
		if err == nil {
			err = bi.Add(ctx, esutil.BulkIndexerItem{
				Action:     "index",
				DocumentID: DocumentID(name, p.Step),
				Body:       bytes.NewReader(body),
				OnFailure:  onFailure,
			})
		}
		if err != nil {
			// the workers only exit once the queue is closed
			bi.Close(context.Background())
			return 0, fmt.Errorf("failed to queue point at step %d: %w", p.Step, err)
		}
	}

	return c.finish(ctx, bi, &failed)
}

func DocumentID(name string, step int) string {
	return fmt.Sprintf("%s-%d", name, step)
}

func (c *Client) finish(ctx context.Context, bi esutil.BulkIndexer, failed *int64) (int, error) {
	if err := bi.Close(ctx); err != nil {
		return 0, fmt.Errorf("bulk indexer close failed: %w", err)
	}

	stats := bi.Stats()
	if n := atomic.LoadInt64(failed); n > 0 {
		return int(stats.NumIndexed), fmt.Errorf("%d documents failed to index", n)
	}
	return int(stats.NumIndexed), nil
}
