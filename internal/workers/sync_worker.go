package workers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/google/uuid"
	"github.com/sirdesai22/event-service/internal/elastic"
	"github.com/sirdesai22/event-service/internal/metrics"
	"github.com/sirdesai22/event-service/internal/models"
	"github.com/sirdesai22/event-service/internal/repo"
	"gorm.io/gorm"
)

const (
	actionIndex  = "index"
	actionDelete = "delete"
)

// SyncWorker mirrors public events into the search index from the outbox.
type SyncWorker struct {
	DB       *gorm.DB
	ES       *es.Client
	Interval time.Duration
}

func (w *SyncWorker) Run(ctx context.Context) {
	if err := elastic.EnsureIndexes(ctx, w.ES); err != nil {
		log.Printf("❌ ensure indexes: %v, search sync stopped", err)
		return
	}
	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processOnce(ctx); err != nil {
				log.Printf("worker error: %v", err)
			}
		}
	}
}

func (w *SyncWorker) processOnce(ctx context.Context) error {
	batch, err := FetchOutboxBatch(ctx, w.DB, 200)
	if err != nil {
		return err
	}
	if len(batch.Events) == 0 {
		return nil
	}

	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: w.ES, Index: elastic.IdxEvents, FlushBytes: 5 << 20, NumWorkers: 2,
	})
	if err != nil {
		return err
	}

	for _, e := range batch.Events {
		action, body, err := w.resolve(ctx, e)
		if err == nil {
			err = w.add(bi, e, action, body)
		}
		if err != nil {
			// already marked processed, so the DLQ is its only way back
			metrics.FailedEvents.Inc()
			PutDLQ(w.DB, e, err.Error())
			log.Printf("DLQ outbox_id=%d: %v", e.ID, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return err
	}
	stats := bi.Stats()
	log.Printf("bulk ok=%d failed=%d", stats.NumFlushed, stats.NumFailed)
	return nil
}

// resolve decides what an outbox event does to the index. Events that are
// gone or no longer public are removed.
func (w *SyncWorker) resolve(ctx context.Context, e models.Outbox) (string, []byte, error) {
	if e.EntityType != repo.EntityEvent {
		return "", nil, fmt.Errorf("unknown entity_type=%s", e.EntityType)
	}
	if e.Op == repo.OpDelete {
		return actionDelete, nil, nil
	}
	db := w.DB.WithContext(ctx)
	var ev models.Event
	if err := db.First(&ev, "id = ?", e.EntityID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return actionDelete, nil, nil
		}
		return "", nil, err
	}
	if !ev.Public() {
		return actionDelete, nil, nil
	}
	var categories []models.Category
	if err := db.Joins("JOIN event_categories ec ON ec.category_id = categories.id").
		Where("ec.event_id = ?", ev.ID).Order("categories.name ASC").Find(&categories).Error; err != nil {
		return "", nil, err
	}
	var areas []models.Area
	if len(categories) > 0 {
		ids := make([]uuid.UUID, 0, len(categories))
		for _, c := range categories {
			ids = append(ids, c.AreaID)
		}
		if err := db.Where("id IN ?", ids).Order("name ASC").Find(&areas).Error; err != nil {
			return "", nil, err
		}
	}
	doc, err := elastic.BuildEventDoc(ev, categories, areas)
	if err != nil {
		return "", nil, err
	}
	return actionIndex, doc, nil
}

func (w *SyncWorker) add(bi esutil.BulkIndexer, e models.Outbox, action string, body []byte) error {
	docID := e.EntityID.String()
	item := esutil.BulkIndexerItem{
		Action:     action,
		DocumentID: docID,
		Index:      elastic.IdxEvents,
		OnSuccess: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem) {
			metrics.ProcessedEvents.Inc()
			log.Printf("✅ synced %s id=%s", elastic.IdxEvents, docID)
		},
		OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
			if err == nil && action == actionDelete && res.Status == http.StatusNotFound {
				metrics.ProcessedEvents.Inc()
				return
			}
			msg := ""
			switch {
			case err != nil:
				msg = err.Error()
			case res.Error.Reason != "":
				msg = fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason)
			default:
				msg = fmt.Sprintf("status=%d failed to %s", res.Status, action)
			}
			metrics.FailedEvents.Inc()
			PutDLQ(w.DB, e, msg)
		},
	}
	if len(body) > 0 {
		item.Body = bytes.NewReader(body)
	}
	return bi.Add(context.Background(), item)
}

// Apply syncs one outbox event synchronously. DLQ retries use it.
func (w *SyncWorker) Apply(ctx context.Context, e models.Outbox) error {
	action, body, err := w.resolve(ctx, e)
	if err != nil {
		return err
	}
	id := e.EntityID.String()
	if action == actionDelete {
		res, err := w.ES.Delete(elastic.IdxEvents, id, w.ES.Delete.WithContext(ctx))
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.IsError() && res.StatusCode != http.StatusNotFound {
			return fmt.Errorf("delete %s: %s", id, res.Status())
		}
		return nil
	}
	res, err := w.ES.Index(elastic.IdxEvents, bytes.NewReader(body), w.ES.Index.WithDocumentID(id), w.ES.Index.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index %s: %s", id, res.Status())
	}
	return nil
}
