/*
Package mongo provides a MongoDB-backed implementation of the storage interfaces.

PURPOSE:
  Document-store alternative to store/sqlite for deployments that already
  run MongoDB. Implements core.Store.

COLLECTIONS:
  products:   Catalog documents with Decimal128 stock and restock analytics
  movements:  Append-only ledger, _id is the document number
  batches:    Bulk restock parents
  counters:   {_id: name, value} document number registers
  identities: Principals; password fields are always projected out

ATOMICITY:
  ApplyMovement runs inside a multi-document transaction, so the server
  must be a replica set (a single-node replica set is enough). Write
  conflicts between concurrent restocks of one product surface as
  TransientTransactionError and are retried by the driver.

COUNTERS:
  findOneAndUpdate({_id}, {$inc: {value: 1}}, upsert, returnDocument: after).
  Two first-ever increments can race on the upsert; the loser gets a
  duplicate key error and retries once as a plain increment.

SEE ALSO:
  - core/store.go: Interface definitions
  - store/sqlite: Relational implementation
*/
package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/core"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collProducts   = "products"
	collMovements  = "movements"
	collBatches    = "batches"
	collCounters   = "counters"
	collIdentities = "identities"
)

// Store implements all storage interfaces using MongoDB.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ core.Store = (*Store)(nil)

// Connect dials uri, pings, and ensures indexes on database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to mongo")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(err, "failed to ping mongo")
	}

	s := &Store{client: client, db: client.Database(database)}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the secondary indexes the queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collProducts: {
			{Keys: bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "supplierId", Value: 1}}},
		},
		collMovements: {
			{Keys: bson.D{{Key: "productId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "batchId", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		collBatches: {
			{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return errors.Wrapf(err, "failed to create indexes on %s", coll)
		}
	}
	return nil
}

// =============================================================================
// PRODUCT STORE (core.ProductStore interface)
// =============================================================================

func (s *Store) GetProduct(ctx context.Context, id core.ProductID) (*core.Product, error) {
	return s.getProduct(ctx, id)
}

func (s *Store) getProduct(ctx context.Context, id core.ProductID) (*core.Product, error) {
	var doc productDoc
	err := s.db.Collection(collProducts).FindOne(ctx, bson.D{{Key: "_id", Value: string(id)}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get product")
	}
	p := doc.toProduct()
	return &p, nil
}

func productQuery(filter core.ProductFilter) bson.D {
	q := bson.D{}
	if filter.Category != "" {
		q = append(q, bson.E{Key: "category", Value: filter.Category})
	}
	if filter.SupplierID != "" {
		q = append(q, bson.E{Key: "supplierId", Value: filter.SupplierID})
	}
	if filter.ActiveOnly {
		q = append(q, bson.E{Key: "active", Value: true})
	}
	if !filter.IncludeDeleted {
		q = append(q, bson.E{Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}})
	}
	return q
}

func (s *Store) ListProducts(ctx context.Context, filter core.ProductFilter) ([]core.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.db.Collection(collProducts).Find(ctx, productQuery(filter), opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list products")
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode products")
	}

	products := make([]core.Product, len(docs))
	for i, d := range docs {
		products[i] = d.toProduct()
	}
	return products, nil
}

// SaveProduct upserts catalog fields; stock, analytics, base unit and the
// deleted flag are only written on insert.
func (s *Store) SaveProduct(ctx context.Context, p core.Product) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "name", Value: p.Name},
			{Key: "sku", Value: p.SKU},
			{Key: "category", Value: p.Category},
			{Key: "supplierId", Value: p.SupplierID},
			{Key: "reorderPoint", Value: toDecimal128(p.ReorderPoint)},
			{Key: "active", Value: p.Active},
			{Key: "updatedAt", Value: p.UpdatedAt.UTC()},
		}},
		{Key: "$setOnInsert", Value: append(bson.D{
			{Key: "baseUnit", Value: p.BaseUnit},
			{Key: "stock", Value: toDecimal128(decimal.Zero)},
			{Key: "deleted", Value: false},
			{Key: "createdAt", Value: p.CreatedAt.UTC()},
		}, analyticsFields(core.RestockAnalytics{})...)},
	}
	_, err := s.db.Collection(collProducts).UpdateByID(ctx, string(p.ID), update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "failed to save product %s", p.ID)
	}
	return nil
}

func (s *Store) UpdateProductStatus(ctx context.Context, id core.ProductID, change core.StatusChange) error {
	set := bson.D{
		{Key: "active", Value: change.Active},
		{Key: "deleted", Value: change.Deleted},
		{Key: "updatedAt", Value: change.At.UTC()},
	}
	update := bson.D{{Key: "$set", Value: set}}
	if change.DeletedAt != nil {
		update[0].Value = append(set, bson.E{Key: "deletedAt", Value: change.DeletedAt.UTC()})
	} else {
		update = append(update, bson.E{Key: "$unset", Value: bson.D{{Key: "deletedAt", Value: ""}}})
	}

	res, err := s.db.Collection(collProducts).UpdateByID(ctx, string(id), update)
	if err != nil {
		return errors.Wrap(err, "failed to update product status")
	}
	if res.MatchedCount == 0 {
		return &core.ProductError{ProductID: id, Err: core.ErrProductNotFound}
	}
	return nil
}

// =============================================================================
// LEDGER STORE (core.LedgerStore interface)
// =============================================================================

// ApplyMovement guards, increments and appends in one transaction.
func (s *Store) ApplyMovement(ctx context.Context, mv core.Movement) (*core.Product, error) {
	mv.BaseQuantity = mv.BaseQuantity.Round(core.QuantityScale)

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, errors.Wrap(err, "failed to start session")
	}
	defer sess.EndSession(context.Background())

	result, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		current, err := s.getProduct(sc, mv.ProductID)
		if err != nil {
			return nil, err
		}
		if current == nil || current.Deleted {
			return nil, &core.ProductError{ProductID: mv.ProductID, Err: core.ErrProductNotFound}
		}
		if !current.Active {
			return nil, &core.ProductError{ProductID: mv.ProductID, Err: core.ErrProductInactive}
		}
		if err := core.CheckMovement(current.CurrentStock, mv.BaseQuantity); err != nil {
			return nil, err
		}

		set := bson.D{{Key: "updatedAt", Value: mv.CreatedAt.UTC()}}
		if mv.Type == core.MovementRestock {
			set = append(set, analyticsFields(current.Analytics.Record(mv.BaseQuantity, mv.CreatedAt))...)
		}
		guard := bson.D{
			{Key: "_id", Value: string(mv.ProductID)},
			{Key: "active", Value: true},
			{Key: "deleted", Value: bson.D{{Key: "$ne", Value: true}}},
		}
		update := bson.D{
			{Key: "$inc", Value: bson.D{{Key: "stock", Value: toDecimal128(mv.BaseQuantity)}}},
			{Key: "$set", Value: set},
		}

		var doc productDoc
		err = s.db.Collection(collProducts).FindOneAndUpdate(sc, guard, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil, errors.Errorf("product %s changed during movement", mv.ProductID)
			}
			return nil, errors.Wrap(err, "failed to update stock")
		}

		if _, err := s.db.Collection(collMovements).InsertOne(sc, newMovementDoc(mv)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, errors.Errorf("duplicate movement id %s", mv.ID)
			}
			return nil, errors.Wrap(err, "failed to append movement")
		}

		p := doc.toProduct()
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*core.Product), nil
}

func movementQuery(filter core.MovementFilter) bson.D {
	q := bson.D{}
	if filter.ProductID != "" {
		q = append(q, bson.E{Key: "productId", Value: string(filter.ProductID)})
	}
	if filter.Type != "" {
		q = append(q, bson.E{Key: "type", Value: string(filter.Type)})
	}
	if filter.BatchID != "" {
		q = append(q, bson.E{Key: "batchId", Value: filter.BatchID})
	}
	return q
}

func (s *Store) ListMovements(ctx context.Context, filter core.MovementFilter) ([]core.Movement, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.db.Collection(collMovements).Find(ctx, movementQuery(filter), opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list movements")
	}
	var docs []movementDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode movements")
	}

	movements := make([]core.Movement, len(docs))
	for i, d := range docs {
		movements[i] = d.toMovement()
	}
	return movements, nil
}

// =============================================================================
// BATCH STORE (core.BatchStore interface)
// =============================================================================

func (s *Store) SaveBatch(ctx context.Context, b core.Batch) error {
	ids := b.MovementIDs
	if ids == nil {
		ids = []string{}
	}
	_, err := s.db.Collection(collBatches).InsertOne(ctx, batchDoc{
		ID:               b.ID,
		Reference:        b.Reference,
		SupplierID:       b.SupplierID,
		PurchaseOrderRef: b.PurchaseOrderRef,
		CreatedBy:        b.CreatedBy,
		CreatedAt:        b.CreatedAt.UTC(),
		TotalOperations:  b.TotalOperations,
		SuccessCount:     b.SuccessCount,
		MovementIDs:      ids,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to save batch %s", b.ID)
	}
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*core.Batch, error) {
	var doc batchDoc
	err := s.db.Collection(collBatches).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get batch %s", id)
	}
	b := doc.toBatch()
	return &b, nil
}

func (s *Store) ListBatches(ctx context.Context, limit int) ([]core.Batch, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.db.Collection(collBatches).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list batches")
	}
	var docs []batchDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode batches")
	}

	batches := make([]core.Batch, len(docs))
	for i, d := range docs {
		batches[i] = d.toBatch()
	}
	return batches, nil
}

// =============================================================================
// COUNTER STORE (core.CounterStore interface)
// =============================================================================

func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	value, err := s.increment(ctx, name)
	if mongo.IsDuplicateKeyError(err) {
		value, err = s.increment(ctx, name)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to increment counter %s", name)
	}
	return value, nil
}

func (s *Store) increment(ctx context.Context, name string) (int64, error) {
	var doc counterDoc
	err := s.db.Collection(collCounters).FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: name}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "value", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	return doc.Value, err
}

// =============================================================================
// IDENTITY STORE (core.IdentityStore interface)
// =============================================================================

var credentialProjection = bson.D{
	{Key: "password", Value: 0},
	{Key: "passwordHash", Value: 0},
}

func (s *Store) FindIdentity(ctx context.Context, id string) (*core.IdentityRecord, error) {
	var doc identityDoc
	err := s.db.Collection(collIdentities).FindOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		options.FindOne().SetProjection(credentialProjection),
	).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to find identity")
	}
	rec := doc.toRecord()
	return &rec, nil
}

// SaveIdentity upserts everything except the credential fields.
func (s *Store) SaveIdentity(ctx context.Context, rec core.IdentityRecord) error {
	perms := rec.Permissions
	if perms == nil {
		perms = map[string]map[string]any{}
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "email", Value: rec.Email},
		{Key: "name", Value: rec.Name},
		{Key: "role", Value: string(rec.Role)},
		{Key: "active", Value: rec.Active},
		{Key: "permissions", Value: perms},
		{Key: "updatedAt", Value: rec.UpdatedAt.UTC()},
	}}}
	_, err := s.db.Collection(collIdentities).UpdateByID(ctx, rec.ID, update, options.Update().SetUpsert(true))
	if err != nil {
		return errors.Wrapf(err, "failed to save identity %s", rec.ID)
	}
	return nil
}
