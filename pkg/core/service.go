package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"

	"github.com/mnemo-ai/mnemo-go/pkg/embedder"
	openaiembedder "github.com/mnemo-ai/mnemo-go/pkg/embedder/openai"
	"github.com/mnemo-ai/mnemo-go/pkg/encryption"
	"github.com/mnemo-ai/mnemo-go/pkg/intelligence"
	"github.com/mnemo-ai/mnemo-go/pkg/memory"
	"github.com/mnemo-ai/mnemo-go/pkg/search"
	"github.com/mnemo-ai/mnemo-go/pkg/storage"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/mysql"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/postgres"
	"github.com/mnemo-ai/mnemo-go/pkg/storage/sqlite"
)

// Service is the facade over the memory store: persistence, semantic
// retrieval, decay maintenance and duplicate detection behind one API.
//
// All methods are safe for concurrent use; per-memory write atomicity is
// delegated to the storage backend's row-level statements.
type Service struct {
	config        *Config
	store         storage.Store
	embedder      embedder.Provider
	crypto        encryption.Provider
	searchEngine  *search.Engine
	decayEngine   *intelligence.DecayEngine
	mergeDetector *intelligence.MergeDetector
	node          *snowflake.Node
}

// NewService builds a service from configuration, constructing the storage
// backend and embedding provider it names.
func NewService(config *Config) (*Service, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := newStore(&config.Store)
	if err != nil {
		return nil, memory.NewStoreError("NewService", err)
	}

	provider, err := newEmbedder(&config.Embedder)
	if err != nil {
		return nil, memory.NewStoreError("NewService", err)
	}

	crypto, err := newCrypto(&config.Encryption)
	if err != nil {
		return nil, memory.NewStoreError("NewService", err)
	}

	return NewServiceWith(config, store, provider, crypto)
}

// NewServiceWith builds a service from pre-constructed components. Useful
// for tests and for callers that manage backend lifecycles themselves.
func NewServiceWith(config *Config, store storage.Store, provider embedder.Provider, crypto encryption.Provider) (*Service, error) {
	config.applyDefaults()
	if crypto == nil {
		crypto = encryption.NewNoop()
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, memory.NewStoreError("NewService", err)
	}

	return &Service{
		config:        config,
		store:         store,
		embedder:      provider,
		crypto:        crypto,
		searchEngine:  search.NewEngine(store),
		decayEngine:   intelligence.NewDecayEngine(store, config.Intelligence.DecayRate),
		mergeDetector: intelligence.NewMergeDetector(store, config.Intelligence.MergeThreshold),
		node:          node,
	}, nil
}

// Save persists a memory. A zero ID gets a generated one; content is
// encrypted at rest when encryption is enabled. The passed memory is
// updated in place with the assigned ID and keeps its plaintext content.
func (s *Service) Save(ctx context.Context, m *memory.Memory) error {
	if err := validateMemory(m); err != nil {
		return memory.NewStoreError("Save", err)
	}
	if m.ID == 0 {
		m.ID = s.node.Generate().Int64()
	}

	stored := *m
	ciphertext, err := s.crypto.Encrypt(m.Content)
	if err != nil {
		return memory.NewStoreError("Save", memory.Internalf("encrypt: %v", err))
	}
	stored.Content = ciphertext

	if err := s.store.Insert(ctx, &stored); err != nil {
		return memory.NewStoreError("Save", err)
	}
	return nil
}

// Remember embeds content and saves it as a new memory in one call: the
// usual write path for an assistant that just learned something.
func (s *Service) Remember(ctx context.Context, userID, content, summary string, memoryType memory.MemoryType) (*memory.Memory, error) {
	embedding, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return nil, memory.NewStoreError("Remember", memory.Internalf("embed: %v", err))
	}

	m := memory.New(userID, content, summary, memoryType).WithEmbedding(embedding)
	if err := s.Save(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns a memory by id with content decrypted, or (nil, nil) when
// the id is unknown.
func (s *Service) Get(ctx context.Context, id int64) (*memory.Memory, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, memory.NewStoreError("Get", err)
	}
	if m == nil {
		return nil, nil
	}
	if err := s.decrypt(m); err != nil {
		return nil, memory.NewStoreError("Get", err)
	}
	return m, nil
}

// Update replaces a stored memory. The owner cannot change; content is
// re-encrypted on the way in.
func (s *Service) Update(ctx context.Context, m *memory.Memory) error {
	if err := validateMemory(m); err != nil {
		return memory.NewStoreError("Update", err)
	}
	if m.ID == 0 {
		return memory.NewStoreError("Update", memory.Validationf("memory id is required"))
	}

	stored := *m
	ciphertext, err := s.crypto.Encrypt(m.Content)
	if err != nil {
		return memory.NewStoreError("Update", memory.Internalf("encrypt: %v", err))
	}
	stored.Content = ciphertext

	if err := s.store.Update(ctx, &stored); err != nil {
		return memory.NewStoreError("Update", err)
	}
	return nil
}

// Delete removes a memory; deleting an absent id is (false, nil).
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	removed, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, memory.NewStoreError("Delete", err)
	}
	return removed, nil
}

// List returns a user's memories, importance-first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]*memory.Memory, error) {
	return s.listWith(ctx, "List", memory.NewQuery().ForUser(userID).WithLimit(limit))
}

// ListByType returns a user's memories of the given types.
func (s *Service) ListByType(ctx context.Context, userID string, types ...memory.MemoryType) ([]*memory.Memory, error) {
	return s.listWith(ctx, "ListByType", memory.NewQuery().ForUser(userID).OfTypes(types...))
}

func (s *Service) listWith(ctx context.Context, op string, q *memory.MemoryQuery) ([]*memory.Memory, error) {
	memories, err := s.store.List(ctx, q)
	if err != nil {
		return nil, memory.NewStoreError(op, err)
	}
	for _, m := range memories {
		if err := s.decrypt(m); err != nil {
			return nil, memory.NewStoreError(op, err)
		}
	}
	return memories, nil
}

// RecordAccess marks a memory as accessed: access_count increments and the
// decay clock resets, reinforcing the memory against future decay.
func (s *Service) RecordAccess(ctx context.Context, id int64) error {
	if err := s.store.RecordAccess(ctx, id); err != nil {
		return memory.NewStoreError("RecordAccess", err)
	}
	return nil
}

// SearchSimilar ranks the user's memories against a pre-computed query
// embedding. Results carry decrypted content.
func (s *Service) SearchSimilar(ctx context.Context, userID string, query []float32, limit int, minSimilarity float64) ([]*memory.SimilarMemory, error) {
	results, err := s.searchEngine.SearchSimilar(ctx, userID, query, limit, minSimilarity)
	if err != nil {
		return nil, memory.NewStoreError("SearchSimilar", err)
	}
	for _, r := range results {
		if err := s.decrypt(r.Memory); err != nil {
			return nil, memory.NewStoreError("SearchSimilar", err)
		}
	}
	return results, nil
}

// RetrieveContext embeds a natural-language query and returns the most
// relevant memories, recording an access on each hit so retrieved memories
// are reinforced. This is the RAG read path.
func (s *Service) RetrieveContext(ctx context.Context, userID, query string) ([]*memory.SimilarMemory, error) {
	queryEmbedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, memory.NewStoreError("RetrieveContext", memory.Internalf("embed query: %v", err))
	}

	results, err := s.SearchSimilar(ctx, userID, queryEmbedding, s.config.Retrieval.Limit, s.config.Retrieval.Threshold)
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if err := s.store.RecordAccess(ctx, r.Memory.ID); err != nil {
			return nil, memory.NewStoreError("RetrieveContext", err)
		}
		r.Memory.RecordAccess()
	}
	return results, nil
}

// FormatContextForPrompt renders retrieval results as a prompt block an
// assistant can prepend to its system context. Empty results render empty.
func (s *Service) FormatContextForPrompt(results []*memory.SimilarMemory) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant information from memory:\n")
	for _, r := range results {
		b.WriteString(fmt.Sprintf("- [%s] %s\n", r.Memory.MemoryType, r.Memory.Content))
	}
	return b.String()
}

// FindMergeCandidates returns stored near-duplicates of the candidate.
func (s *Service) FindMergeCandidates(ctx context.Context, candidate *memory.Memory) ([]*memory.SimilarMemory, error) {
	results, err := s.mergeDetector.FindMergeCandidates(ctx, candidate)
	if err != nil {
		return nil, memory.NewStoreError("FindMergeCandidates", err)
	}
	for _, r := range results {
		if err := s.decrypt(r.Memory); err != nil {
			return nil, memory.NewStoreError("FindMergeCandidates", err)
		}
	}
	return results, nil
}

// ApplyDecay runs one decay pass over the whole store and returns the ids
// that fell below the eviction threshold.
func (s *Service) ApplyDecay(ctx context.Context) ([]int64, error) {
	ids, err := s.decayEngine.ApplyDecay(ctx)
	if err != nil {
		return ids, memory.NewStoreError("ApplyDecay", err)
	}
	return ids, nil
}

// CleanupLowImportance deletes memories below the configured importance
// threshold and returns how many were removed. Idempotent.
func (s *Service) CleanupLowImportance(ctx context.Context) (int, error) {
	removed, err := s.decayEngine.CleanupBelowThreshold(ctx, s.config.Intelligence.MinImportance)
	if err != nil {
		return 0, memory.NewStoreError("CleanupLowImportance", err)
	}
	return removed, nil
}

// Stats returns the read-only rollup for one user.
func (s *Service) Stats(ctx context.Context, userID string) (*memory.MemoryStats, error) {
	stats, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, memory.NewStoreError("Stats", err)
	}
	return stats, nil
}

// Close releases the embedder and storage backend.
func (s *Service) Close() error {
	var firstErr error
	if s.embedder != nil {
		if err := s.embedder.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (s *Service) decrypt(m *memory.Memory) error {
	plaintext, err := s.crypto.Decrypt(m.Content)
	if err != nil {
		return memory.Internalf("decrypt: %v", err)
	}
	m.Content = plaintext
	return nil
}

func validateMemory(m *memory.Memory) error {
	if m == nil {
		return memory.Validationf("memory is nil")
	}
	if m.UserID == "" {
		return memory.Validationf("user id is required")
	}
	if m.Content == "" {
		return memory.Validationf("content is required")
	}
	if m.Importance < 0 || m.Importance > memory.MaxImportance {
		return memory.Validationf("importance %.3f is outside [0, 1]", m.Importance)
	}
	return nil
}

// newStore builds the storage backend named in the configuration.
func newStore(cfg *StoreConfig) (storage.Store, error) {
	switch cfg.Provider {
	case "sqlite":
		return sqlite.NewClient(&sqlite.Config{
			DBPath:    getStringOption(cfg.Config, "db_path", "./mnemo.db"),
			TableName: getStringOption(cfg.Config, "table_name", "memories"),
		})
	case "postgres":
		return postgres.NewClient(&postgres.Config{
			Host:      getStringOption(cfg.Config, "host", "localhost"),
			Port:      getIntOption(cfg.Config, "port", 5432),
			User:      getStringOption(cfg.Config, "user", "postgres"),
			Password:  getStringOption(cfg.Config, "password", ""),
			DBName:    getStringOption(cfg.Config, "db_name", "mnemo"),
			TableName: getStringOption(cfg.Config, "table_name", "memories"),
			SSLMode:   getStringOption(cfg.Config, "ssl_mode", "disable"),
		})
	case "mysql":
		return mysql.NewClient(&mysql.Config{
			Host:      getStringOption(cfg.Config, "host", "127.0.0.1"),
			Port:      getIntOption(cfg.Config, "port", 3306),
			User:      getStringOption(cfg.Config, "user", "root"),
			Password:  getStringOption(cfg.Config, "password", ""),
			DBName:    getStringOption(cfg.Config, "db_name", "mnemo"),
			TableName: getStringOption(cfg.Config, "table_name", "memories"),
		})
	default:
		return nil, memory.Validationf("unsupported store provider: %s", cfg.Provider)
	}
}

// newEmbedder builds the embedding provider named in the configuration.
func newEmbedder(cfg *EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiembedder.NewClient(&openaiembedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	default:
		return nil, memory.Validationf("unsupported embedder provider: %s", cfg.Provider)
	}
}

// newCrypto builds the encryption provider from configuration.
func newCrypto(cfg *EncryptionConfig) (encryption.Provider, error) {
	if !cfg.Enabled {
		return encryption.NewNoop(), nil
	}
	key, err := cfg.DecodedKey()
	if err != nil {
		return nil, err
	}
	return encryption.NewAESGCM(key)
}

func getStringOption(config map[string]interface{}, key, defaultValue string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return defaultValue
}

func getIntOption(config map[string]interface{}, key string, defaultValue int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return defaultValue
	}
}
