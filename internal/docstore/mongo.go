package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"ideahive/api/internal/util"
)

const (
	collBlocks           = "blocks"
	collPageContents     = "page_contents"
	collPageHistory      = "page_history"
	collTemplateContents = "template_contents"
)

// MongoStore implements block, page-content, history and template-content
// storage on a single MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, mongoURL, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(mongoURL))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := &MongoStore{client: client, db: client.Database(database)}
	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(collBlocks).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "page_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("ensure blocks index: %w", err)
	}

	_, err = m.db.Collection(collPageHistory).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "page_id", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("ensure history index: %w", err)
	}
	return nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

// ---- block store ----

// InsertBlock assigns a fresh identity and stores the block.
func (m *MongoStore) InsertBlock(ctx context.Context, block Block) (Block, error) {
	block.ID = util.NewID("blk")
	now := time.Now().UTC()
	block.CreatedAt = now
	block.UpdatedAt = now
	if block.Properties == nil {
		block.Properties = map[string]any{}
	}
	if block.Children == nil {
		block.Children = []string{}
	}
	if _, err := m.db.Collection(collBlocks).InsertOne(ctx, block); err != nil {
		return Block{}, fmt.Errorf("insert block: %w", err)
	}
	return block, nil
}

func (m *MongoStore) GetBlock(ctx context.Context, blockID string) (Block, error) {
	var block Block
	err := m.db.Collection(collBlocks).FindOne(ctx, bson.M{"_id": blockID}).Decode(&block)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, fmt.Errorf("get block: %w", err)
	}
	return block, nil
}

// GetBlocks resolves blocks in the order of the given id list, silently
// skipping ids that no longer exist.
func (m *MongoStore) GetBlocks(ctx context.Context, blockIDs []string) ([]Block, error) {
	if len(blockIDs) == 0 {
		return []Block{}, nil
	}
	cursor, err := m.db.Collection(collBlocks).Find(ctx, bson.M{"_id": bson.M{"$in": blockIDs}})
	if err != nil {
		return nil, fmt.Errorf("find blocks: %w", err)
	}
	defer cursor.Close(ctx)

	byID := make(map[string]Block, len(blockIDs))
	for cursor.Next(ctx) {
		var block Block
		if err := cursor.Decode(&block); err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		byID[block.ID] = block
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor blocks: %w", err)
	}

	ordered := make([]Block, 0, len(blockIDs))
	for _, id := range blockIDs {
		if block, ok := byID[id]; ok {
			ordered = append(ordered, block)
		}
	}
	return ordered, nil
}

// UpdateBlock merges non-nil patch fields and stamps updated_at.
func (m *MongoStore) UpdateBlock(ctx context.Context, blockID string, patch BlockPatch) (Block, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if patch.Type != nil {
		set["type"] = *patch.Type
	}
	if patch.Content != nil {
		set["content"] = *patch.Content
	}
	if patch.Properties != nil {
		set["properties"] = *patch.Properties
	}
	if patch.Children != nil {
		set["children"] = *patch.Children
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var block Block
	err := m.db.Collection(collBlocks).
		FindOneAndUpdate(ctx, bson.M{"_id": blockID}, bson.M{"$set": set}, opts).
		Decode(&block)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, fmt.Errorf("update block: %w", err)
	}
	return block, nil
}

func (m *MongoStore) DeleteBlock(ctx context.Context, blockID string) error {
	result, err := m.db.Collection(collBlocks).DeleteOne(ctx, bson.M{"_id": blockID})
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoStore) DeleteBlocksByPage(ctx context.Context, pageID string) error {
	if _, err := m.db.Collection(collBlocks).DeleteMany(ctx, bson.M{"page_id": pageID}); err != nil {
		return fmt.Errorf("delete page blocks: %w", err)
	}
	return nil
}

// ReassignPositions bulk-rewrites position fields for a page's blocks.
func (m *MongoStore) ReassignPositions(ctx context.Context, pageID string, positions []BlockPosition) error {
	if len(positions) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(positions))
	for _, p := range positions {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": p.BlockID, "page_id": pageID}).
			SetUpdate(bson.M{"$set": bson.M{"position": p.Position, "updated_at": time.Now().UTC()}}))
	}
	if _, err := m.db.Collection(collBlocks).BulkWrite(ctx, models); err != nil {
		return fmt.Errorf("reassign positions: %w", err)
	}
	return nil
}

// ---- page-content index ----

func (m *MongoStore) GetPageContent(ctx context.Context, pageID string) (PageContent, error) {
	var content PageContent
	err := m.db.Collection(collPageContents).FindOne(ctx, bson.M{"_id": pageID}).Decode(&content)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PageContent{}, ErrNotFound
	}
	if err != nil {
		return PageContent{}, fmt.Errorf("get page content: %w", err)
	}
	return content, nil
}

// CreatePageContent inserts the first content record for a page. A duplicate
// key means a concurrent first write won the race.
func (m *MongoStore) CreatePageContent(ctx context.Context, content PageContent) error {
	_, err := m.db.Collection(collPageContents).InsertOne(ctx, content)
	if mongo.IsDuplicateKeyError(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("create page content: %w", err)
	}
	return nil
}

// ReplacePageContentIf overwrites the content record only when the stored
// version still equals expectedVersion (compare-and-swap).
func (m *MongoStore) ReplacePageContentIf(ctx context.Context, content PageContent, expectedVersion int) error {
	result, err := m.db.Collection(collPageContents).ReplaceOne(ctx,
		bson.M{"_id": content.PageID, "version": expectedVersion}, content)
	if err != nil {
		return fmt.Errorf("replace page content: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (m *MongoStore) DeletePageContent(ctx context.Context, pageID string) error {
	if _, err := m.db.Collection(collPageContents).DeleteOne(ctx, bson.M{"_id": pageID}); err != nil {
		return fmt.Errorf("delete page content: %w", err)
	}
	return nil
}

// ---- history ledger ----

// AppendHistory archives a snapshot keyed by (page_id, version). The write is
// an upsert so a replayed archival of the same version is a no-op rather than
// a duplicate-key failure.
func (m *MongoStore) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := m.db.Collection(collPageHistory).ReplaceOne(ctx,
		bson.M{"page_id": entry.PageID, "version": entry.Version}, entry,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// ListHistory returns all entries for a page, newest version first.
func (m *MongoStore) ListHistory(ctx context.Context, pageID string) ([]HistoryEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: -1}})
	cursor, err := m.db.Collection(collPageHistory).Find(ctx, bson.M{"page_id": pageID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []HistoryEntry
	for cursor.Next(ctx) {
		var entry HistoryEntry
		if err := cursor.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor history: %w", err)
	}
	return entries, nil
}

func (m *MongoStore) GetHistory(ctx context.Context, pageID string, version int) (HistoryEntry, error) {
	var entry HistoryEntry
	err := m.db.Collection(collPageHistory).
		FindOne(ctx, bson.M{"page_id": pageID, "version": version}).
		Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return HistoryEntry{}, ErrNotFound
	}
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("get history entry: %w", err)
	}
	return entry, nil
}

func (m *MongoStore) DeleteHistoryByPage(ctx context.Context, pageID string) error {
	if _, err := m.db.Collection(collPageHistory).DeleteMany(ctx, bson.M{"page_id": pageID}); err != nil {
		return fmt.Errorf("delete page history: %w", err)
	}
	return nil
}

// ---- template contents ----

func (m *MongoStore) GetTemplateContent(ctx context.Context, templateID string) (TemplateContent, error) {
	var content TemplateContent
	err := m.db.Collection(collTemplateContents).FindOne(ctx, bson.M{"_id": templateID}).Decode(&content)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return TemplateContent{}, ErrNotFound
	}
	if err != nil {
		return TemplateContent{}, fmt.Errorf("get template content: %w", err)
	}
	return content, nil
}

func (m *MongoStore) PutTemplateContent(ctx context.Context, content TemplateContent) error {
	_, err := m.db.Collection(collTemplateContents).ReplaceOne(ctx,
		bson.M{"_id": content.TemplateID}, content,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("put template content: %w", err)
	}
	return nil
}

func (m *MongoStore) DeleteTemplateContent(ctx context.Context, templateID string) error {
	if _, err := m.db.Collection(collTemplateContents).DeleteOne(ctx, bson.M{"_id": templateID}); err != nil {
		return fmt.Errorf("delete template content: %w", err)
	}
	return nil
}
