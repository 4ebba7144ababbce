// Package dynamostore implements a ranged store on a DynamoDB table keyed
// by a string partition key "pk" and a string sort key "sk". Each entry is
// one item {pk, sk, v} where v holds the serialized value.
package dynamostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/discochess/strata/internal/key"
	"github.com/discochess/strata/internal/ordered"
	"github.com/discochess/strata/internal/serde"
	"github.com/discochess/strata/internal/store"
)

const backend = "dynamodb"

// Attribute names.
const (
	attrPartition = "pk"
	attrSort      = "sk"
	attrValue     = "v"
)

// Key condition expressions. Placeholders: :p partition, :lo and :hi
// inclusive bounds, :after exclusive lower bound.
const (
	condPartition = "pk = :p"
	condBetween   = "pk = :p AND sk BETWEEN :lo AND :hi"
	condAbove     = "pk = :p AND sk >= :lo"
	condBelow     = "pk = :p AND sk <= :hi"
	condAfter     = "pk = :p AND sk > :after"
)

// batchSize is the BatchWriteItem request limit.
const batchSize = 25

// DefaultBatchRetries bounds resubmission of unprocessed batch items.
const DefaultBatchRetries = 5

// ErrUnprocessed is returned when BatchWriteItem keeps returning
// unprocessed items after all retries.
var ErrUnprocessed = errors.New("dynamostore: unprocessed items remain")

// Compile-time check that Ranged implements store.RangedStore.
var _ store.RangedStore[key.Name, key.String, []byte] = (*Ranged[key.Name, key.String, []byte])(nil)

// API is the subset of the DynamoDB client used by Ranged.
type API interface {
	dynamodb.QueryAPIClient
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Ranged is a DynamoDB ranged store.
type Ranged[P key.Partition, R key.Range[R], V any] struct {
	client  API
	table   string
	parse   key.ParseFunc[R]
	codec   serde.Codec[V]
	limit   int
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

// Option configures a Ranged store.
type Option func(*options)

type options struct {
	maxConcurrency int
	retries        int
	backoff        time.Duration
	logger         *zap.Logger
}

// WithMaxConcurrency sets the limit reported by MaxConcurrency, typically
// derived from the table's provisioned capacity.
func WithMaxConcurrency(n int) Option {
	return func(o *options) { o.maxConcurrency = n }
}

// WithBatchRetries sets how often unprocessed batch items are resubmitted
// and the initial delay between attempts, doubled on each retry.
func WithBatchRetries(n int, backoff time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.backoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a store on table using client.
func New[P key.Partition, R key.Range[R], V any](client API, table string, parse key.ParseFunc[R], codec serde.Codec[V], opts ...Option) *Ranged[P, R, V] {
	o := options{
		maxConcurrency: store.Unbounded,
		retries:        DefaultBatchRetries,
		backoff:        50 * time.Millisecond,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ranged[P, R, V]{
		client:  client,
		table:   table,
		parse:   parse,
		codec:   codec,
		limit:   o.maxConcurrency,
		retries: o.retries,
		backoff: o.backoff,
		logger:  o.logger.Named("dynamostore"),
	}
}

// Connect creates a store on table with a client built from the default
// AWS configuration.
func Connect[P key.Partition, R key.Range[R], V any](ctx context.Context, table string, parse key.ParseFunc[R], codec serde.Codec[V], opts ...Option) (*Ranged[P, R, V], error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New[P](dynamodb.NewFromConfig(cfg), table, parse, codec, opts...), nil
}

func str(s string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: s}
}

func itemKey(p, r string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{attrPartition: str(p), attrSort: str(r)}
}

func (s *Ranged[P, R, V]) item(p P, k R, v V) (map[string]types.AttributeValue, error) {
	raw, err := s.codec.Encode(v)
	if err != nil {
		return nil, err
	}
	item := itemKey(p.Key(), k.Key())
	item[attrValue] = &types.AttributeValueMemberB{Value: raw}
	return item, nil
}

func (s *Ranged[P, R, V]) decode(item map[string]types.AttributeValue) (R, V, error) {
	var (
		k R
		v V
	)
	sk, ok := item[attrSort].(*types.AttributeValueMemberS)
	if !ok {
		return k, v, fmt.Errorf("item without string %s", attrSort)
	}
	raw, ok := item[attrValue].(*types.AttributeValueMemberB)
	if !ok {
		return k, v, fmt.Errorf("item %q without binary %s", sk.Value, attrValue)
	}
	k, err := s.parse(sk.Value)
	if err != nil {
		return k, v, err
	}
	v, err = s.codec.Decode(raw.Value)
	return k, v, err
}

// Get reads one item with a strongly consistent read.
func (s *Ranged[P, R, V]) Get(ctx context.Context, p P, k R) (V, bool, error) {
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(p.Key(), k.Key()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return zero, false, store.Wrap(backend, "get", err)
	}
	if len(out.Item) == 0 {
		return zero, false, nil
	}
	_, v, err := s.decode(out.Item)
	if err != nil {
		return zero, false, store.Wrap(backend, "get", err)
	}
	return v, true, nil
}

// query pages through a key condition, stopping after n items when n > 0.
func (s *Ranged[P, R, V]) query(ctx context.Context, op, cond string, values map[string]types.AttributeValue, n int) (*ordered.Map[R, V], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(cond),
		ExpressionAttributeValues: values,
		ConsistentRead:            aws.Bool(true),
	}
	if n > 0 {
		in.Limit = aws.Int32(int32(min(n, 1000)))
	}

	out := ordered.New[R, V]()
	pages := dynamodb.NewQueryPaginator(s.client, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, store.Wrap(backend, op, err)
		}
		for _, item := range page.Items {
			k, v, err := s.decode(item)
			if err != nil {
				return nil, store.Wrap(backend, op, err)
			}
			out.Put(k, v)
			if n > 0 && out.Len() == n {
				return out, nil
			}
		}
	}
	return out, nil
}

// ValuesInRange queries sk BETWEEN lo AND hi.
func (s *Ranged[P, R, V]) ValuesInRange(ctx context.Context, p P, lo, hi R) (*ordered.Map[R, V], error) {
	if lo.Compare(hi) > 0 {
		// DynamoDB rejects BETWEEN with reversed bounds.
		return ordered.New[R, V](), ctx.Err()
	}
	return s.query(ctx, "valuesInRange", condBetween, map[string]types.AttributeValue{
		":p": str(p.Key()), ":lo": str(lo.Key()), ":hi": str(hi.Key()),
	}, 0)
}

// ValuesAbove queries sk >= lo.
func (s *Ranged[P, R, V]) ValuesAbove(ctx context.Context, p P, lo R) (*ordered.Map[R, V], error) {
	return s.query(ctx, "valuesAbove", condAbove, map[string]types.AttributeValue{
		":p": str(p.Key()), ":lo": str(lo.Key()),
	}, 0)
}

// ValuesBelow queries sk <= hi.
func (s *Ranged[P, R, V]) ValuesBelow(ctx context.Context, p P, hi R) (*ordered.Map[R, V], error) {
	return s.query(ctx, "valuesBelow", condBelow, map[string]types.AttributeValue{
		":p": str(p.Key()), ":hi": str(hi.Key()),
	}, 0)
}

// HeadValues returns the first n items of p.
func (s *Ranged[P, R, V]) HeadValues(ctx context.Context, p P, n int) (*ordered.Map[R, V], error) {
	if n <= 0 {
		return ordered.New[R, V](), ctx.Err()
	}
	return s.query(ctx, "headValues", condPartition, map[string]types.AttributeValue{
		":p": str(p.Key()),
	}, n)
}

// NextValues returns up to n items of p with sk > after.
func (s *Ranged[P, R, V]) NextValues(ctx context.Context, p P, after R, n int) (*ordered.Map[R, V], error) {
	if n <= 0 {
		return ordered.New[R, V](), ctx.Err()
	}
	return s.query(ctx, "nextValues", condAfter, map[string]types.AttributeValue{
		":p": str(p.Key()), ":after": str(after.Key()),
	}, n)
}

// Partition returns every item of p.
func (s *Ranged[P, R, V]) Partition(ctx context.Context, p P) (*ordered.Map[R, V], error) {
	return s.query(ctx, "partition", condPartition, map[string]types.AttributeValue{
		":p": str(p.Key()),
	}, 0)
}

// Put writes one item.
func (s *Ranged[P, R, V]) Put(ctx context.Context, p P, k R, v V) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	item, err := s.item(p, k, v)
	if err != nil {
		return store.Wrap(backend, "put", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return store.Wrap(backend, "put", err)
}

// PutIfAbsent writes one item conditioned on no item existing under its
// key.
func (s *Ranged[P, R, V]) PutIfAbsent(ctx context.Context, p P, k R, v V) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	item, err := s.item(p, k, v)
	if err != nil {
		return false, store.Wrap(backend, "putIfAbsent", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + attrPartition + ")"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return false, nil
		}
		return false, store.Wrap(backend, "putIfAbsent", err)
	}
	return true, nil
}

// PutAll writes values in BatchWriteItem requests of up to 25 items,
// resubmitting unprocessed items with exponential backoff.
func (s *Ranged[P, R, V]) PutAll(ctx context.Context, p P, values *ordered.Map[R, V]) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	requests := make([]types.WriteRequest, 0, values.Len())
	for k, v := range values.All() {
		item, err := s.item(p, k, v)
		if err != nil {
			return store.Wrap(backend, "putAll", err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
	}
	for start := 0; start < len(requests); start += batchSize {
		end := min(start+batchSize, len(requests))
		if err := s.batchWrite(ctx, requests[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Ranged[P, R, V]) batchWrite(ctx context.Context, batch []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.table: batch}
	delay := s.backoff
	for attempt := 0; ; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return store.Wrap(backend, "putAll", err)
		}
		if len(out.UnprocessedItems[s.table]) == 0 {
			return nil
		}
		if attempt >= s.retries {
			return store.Wrap(backend, "putAll", fmt.Errorf("%w: %d after %d retries",
				ErrUnprocessed, len(out.UnprocessedItems[s.table]), s.retries))
		}
		pending = out.UnprocessedItems
		s.logger.Debug("retrying unprocessed items",
			zap.Int("items", len(pending[s.table])),
			zap.Int("attempt", attempt+1),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
}

// Delete removes one item.
func (s *Ranged[P, R, V]) Delete(ctx context.Context, p P, k R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       itemKey(p.Key(), k.Key()),
	})
	return store.Wrap(backend, "delete", err)
}

// IsEmpty scans for a single item.
func (s *Ranged[P, R, V]) IsEmpty(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
		Limit:     aws.Int32(1),
	})
	if err != nil {
		return false, store.Wrap(backend, "isEmpty", err)
	}
	return len(out.Items) == 0, nil
}

// MaxConcurrency returns the configured limit, store.Unbounded by default.
func (s *Ranged[P, R, V]) MaxConcurrency() int { return s.limit }

// Close is a no-op; the SDK client holds no resources needing release.
func (s *Ranged[P, R, V]) Close() error { return nil }
