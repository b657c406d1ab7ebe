package memory

import (
	"context"
	"sync"

	"github.com/newsloom/scraper/internal/engine"
)

// ArticleStore keeps article rows in memory, enforcing the same
// (source_id, source_url) uniqueness the Postgres schema carries.
type ArticleStore struct {
	mu   sync.RWMutex
	rows []engine.PersistedArticle
	seen map[string]bool
}

// NewArticleStore constructs an ArticleStore.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{seen: make(map[string]bool)}
}

func uniqueKey(sourceID, sourceURL string) string {
	return sourceID + "\x00" + sourceURL
}

// InsertArticles inserts each row independently. Duplicate source URLs
// within a source are skipped, matching the Postgres ON CONFLICT behavior.
func (s *ArticleStore) InsertArticles(_ context.Context, articles []engine.PersistedArticle) ([]engine.InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcomes := make([]engine.InsertOutcome, len(articles))
	for i, article := range articles {
		key := uniqueKey(article.SourceID, article.SourceURL)
		if s.seen[key] {
			outcomes[i] = engine.InsertOutcome{Status: engine.InsertDuplicate}
			continue
		}
		s.seen[key] = true
		s.rows = append(s.rows, article)
		outcomes[i] = engine.InsertOutcome{Status: engine.InsertSaved}
	}
	return outcomes, nil
}

// CountBySource counts rows written for a job and source.
func (s *ArticleStore) CountBySource(_ context.Context, jobID, sourceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, row := range s.rows {
		if row.JobID == jobID && row.SourceID == sourceID {
			count++
		}
	}
	return count, nil
}

// ListIDsBySource returns up to limit row IDs for a job and source in
// insertion order.
func (s *ArticleStore) ListIDsBySource(_ context.Context, jobID, sourceID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, row := range s.rows {
		if row.JobID == jobID && row.SourceID == sourceID {
			ids = append(ids, row.ID)
			if limit > 0 && len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}
