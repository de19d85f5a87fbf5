package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	log "github.com/sirupsen/logrus"

	"todostarter/internal/todo"
)

const idxTodos = "todos"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Backend via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     log.FieldLogger
}

// NewMeili creates a Meilisearch client and configures the todos index. An
// unreachable server is not an error: the health loop keeps probing and the
// service falls back to Postgres meanwhile.
func NewMeili(url, apiKey string, logger log.FieldLogger) *Meili {
	if logger == nil {
		logger = log.StandardLogger()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    logger.WithField("component", "search.meili"),
	}

	if _, err := m.client.Health(); err != nil {
		m.log.WithError(err).WithField("url", url).Warn("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTodos,
		PrimaryKey: "id",
	}); err != nil {
		m.log.WithError(err).Debug("create todos index (may already exist)")
	}

	index := m.client.Index(idxTodos)
	filterable := []interface{}{"userId", "completed"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.WithError(err).Warn("update filterable attributes")
	}
	searchable := []string{"title"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.WithError(err).Warn("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]todo.Todo, error) {
	if !m.healthy.Load() {
		return nil, errUnhealthy
	}
	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{{
			IndexUID: idxTodos,
			Query:    q.Text,
			Limit:    int64(q.limit()),
			Filter:   ownerFilter(q.UserID),
		}},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]todo.Todo, 0)
	for _, sr := range resp.Results {
		for _, hit := range sr.Hits {
			results = append(results, hitToTodo(hit))
		}
	}
	return results, nil
}

func ownerFilter(userID string) string {
	return fmt.Sprintf("userId = %q", userID)
}

func hitToTodo(hit meili.Hit) todo.Todo {
	r := Record{
		ID:        decodeString(hit, "id"),
		Title:     decodeString(hit, "title"),
		UserID:    decodeString(hit, "userId"),
		CreatedAt: decodeString(hit, "createdAt"),
		UpdatedAt: decodeString(hit, "updatedAt"),
	}
	if raw, ok := hit["completed"]; ok {
		_ = json.Unmarshal(raw, &r.Completed)
	}
	return r.todo()
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (m *Meili) IndexTodos(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTodos).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteTodos(_ context.Context, ids []string) error {
	index := m.client.Index(idxTodos)
	var errs []error
	for _, id := range ids {
		if _, err := index.DeleteDocument(id, nil); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
