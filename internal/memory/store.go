package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stellarlinkco/yui/internal/llm"
	_ "modernc.org/sqlite"
)

const (
	KindUserQuery   = "user_query"
	KindYuiResponse = "yui_response"

	// InvalidMemoryMarker is what FormatMemories yields when retrieval
	// produced nothing usable. Retrieval itself never errors.
	InvalidMemoryMarker = "[no usable memory]"
)

// View is the retrieval-time projection of a stored exchange. It is
// recomputed per query and never persisted.
type View struct {
	Content   string  `json:"content"`
	Timestamp string  `json:"timestamp"`
	Kind      string  `json:"type"`
	Utility   float64 `json:"utility_score"`
}

// Store is an embedding-indexed, deduplicating store of past
// query/response exchanges on SQLite.
type Store struct {
	db             *sql.DB
	mu             sync.Mutex
	embedder       llm.Embedder
	dedupThreshold float64
}

// NewStore opens (or creates) the backing database. An unopenable
// database is a startup configuration error, not a per-call failure.
func NewStore(dbPath string, embedder llm.Embedder, dedupThreshold float64) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, embedder: embedder, dedupThreshold: dedupThreshold}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS exchanges (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL,
		utility REAL NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type scoredRow struct {
	view  View
	score float64
}

// Retrieve embeds the query and returns up to k nearest stored
// exchanges. Embedding failures and an empty index degrade to nil
// views; callers render the result through FormatMemories.
func (s *Store) Retrieve(ctx context.Context, query string, k int) []View {
	if k <= 0 {
		return nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[memory] retrieve: embed query failed: %v", err)
		return nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT content, embedding, kind, created_at, utility FROM exchanges`)
	if err != nil {
		log.Printf("[memory] retrieve: query failed: %v", err)
		return nil
	}
	defer rows.Close()

	var scored []scoredRow
	for rows.Next() {
		var content, kind, createdAt string
		var blob []byte
		var utility float64
		if err := rows.Scan(&content, &blob, &kind, &createdAt, &utility); err != nil {
			log.Printf("[memory] retrieve: scan failed: %v", err)
			return nil
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			log.Printf("[memory] retrieve: skipping undecodable entry: %v", err)
			continue
		}
		score, err := CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		scored = append(scored, scoredRow{
			view:  View{Content: content, Timestamp: createdAt, Kind: kind, Utility: utility},
			score: score,
		})
	}
	if err := rows.Err(); err != nil {
		log.Printf("[memory] retrieve: iterate failed: %v", err)
		return nil
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > k {
		scored = scored[:k]
	}

	var views []View
	for _, r := range scored {
		views = append(views, r.view)
	}
	return views
}

// StoreExchange persists a query/response pair unless the query is a
// near-duplicate of an already stored entry (cosine similarity at or
// above the dedup threshold against the nearest neighbor). Failures
// are logged and swallowed; the caller's turn continues regardless.
func (s *Store) StoreExchange(ctx context.Context, query, response string, keywords []string) {
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("[memory] store: embed query failed: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nearest, found, err := s.nearestSimilarity(ctx, queryVec)
	if err != nil {
		log.Printf("[memory] store: nearest-neighbor check failed: %v", err)
		return
	}
	if found && nearest >= s.dedupThreshold {
		log.Printf("[memory] store: similar memory exists (%.2f >= %.2f), skipping", nearest, s.dedupThreshold)
		return
	}

	responseVec, err := s.embedder.Embed(ctx, response)
	if err != nil {
		log.Printf("[memory] store: embed response failed: %v", err)
		return
	}

	queryBlob, err := EncodeVector(queryVec)
	if err != nil {
		log.Printf("[memory] store: encode query vector failed: %v", err)
		return
	}
	responseBlob, err := EncodeVector(responseVec)
	if err != nil {
		log.Printf("[memory] store: encode response vector failed: %v", err)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		log.Printf("[memory] store: begin tx failed: %v", err)
		return
	}
	defer tx.Rollback()

	insert := `INSERT INTO exchanges (id, content, embedding, kind, created_at, utility) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), query, queryBlob, KindUserQuery, now, UtilityScore(query, keywords)); err != nil {
		log.Printf("[memory] store: insert query failed: %v", err)
		return
	}
	if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), response, responseBlob, KindYuiResponse, now, UtilityScore(response, keywords)); err != nil {
		log.Printf("[memory] store: insert response failed: %v", err)
		return
	}
	if err := tx.Commit(); err != nil {
		log.Printf("[memory] store: commit failed: %v", err)
	}
}

// nearestSimilarity scans every stored entry, queries and responses
// alike, for the best cosine match. found is false on an empty index.
func (s *Store) nearestSimilarity(ctx context.Context, queryVec []float32) (float64, bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT embedding FROM exchanges`)
	if err != nil {
		return 0, false, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	best := -1.0
	found := false
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return 0, false, fmt.Errorf("scan embedding: %w", err)
		}
		vec, err := DecodeVector(blob)
		if err != nil {
			continue
		}
		score, err := CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		if score > best {
			best = score
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return 0, false, fmt.Errorf("iterate embeddings: %w", err)
	}
	return best, found, nil
}

// Count reports the number of stored entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exchanges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count exchanges: %w", err)
	}
	return n, nil
}

// UtilityScore estimates how valuable a text is to keep: 70% a
// length component capped at 100 chars, 30% the fraction of keywords
// present. Deterministic and bounded to [0, 1].
func UtilityScore(text string, keywords []string) float64 {
	lengthScore := float64(utf8.RuneCountInString(text)) / 100
	if lengthScore > 1 {
		lengthScore = 1
	}

	keywordScore := 0.0
	if len(keywords) > 0 {
		matched := 0
		lower := strings.ToLower(text)
		for _, kw := range keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched++
			}
		}
		keywordScore = float64(matched) / float64(len(keywords))
	}

	return 0.7*lengthScore + 0.3*keywordScore
}

// FormatMemories renders views for inclusion in a model prompt. Empty
// or failed retrieval collapses to the invalid-memory marker.
func FormatMemories(views []View) string {
	if len(views) == 0 {
		return InvalidMemoryMarker
	}

	var sb strings.Builder
	for i, v := range views {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s (%s, %s, utility %.2f)", v.Content, v.Kind, v.Timestamp, v.Utility)
	}
	return sb.String()
}
