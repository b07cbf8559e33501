package store

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rcliao/rfp-agent-memory/internal/model"
)

// Firestore implements Store and MessageStore on Cloud Firestore. Every
// memory is one document in a flat collection carrying its primary and
// secondary index keys as fields.
type Firestore struct {
	client           *firestore.Client
	collectionPrefix string
}

var (
	_ Store        = (*Firestore)(nil)
	_ MessageStore = (*Firestore)(nil)
)

type FirestoreOption func(*Firestore)

func WithCollectionPrefix(prefix string) FirestoreOption {
	return func(f *Firestore) {
		f.collectionPrefix = prefix
	}
}

func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID), goerr.V("databaseID", databaseID))
	}

	f := &Firestore{client: client}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// memoryDoc is the Firestore document form of model.Memory. The item itself
// is kept as JSON so flattened metadata survives unchanged.
type memoryDoc struct {
	PK         string    `firestore:"PK"`
	SK         string    `firestore:"SK"`
	GSI1PK     string    `firestore:"GSI1PK"`
	GSI1SK     string    `firestore:"GSI1SK"`
	GSI2PK     string    `firestore:"GSI2PK"`
	GSI2SK     string    `firestore:"GSI2SK"`
	Compressed bool      `firestore:"Compressed"`
	CreatedAt  time.Time `firestore:"CreatedAt"`
	Item       string    `firestore:"Item"`
}

type messageDoc struct {
	UserSub   string    `firestore:"UserSub"`
	Role      string    `firestore:"Role"`
	Content   string    `firestore:"Content"`
	Timestamp time.Time `firestore:"Timestamp"`
}

func (f *Firestore) memories() *firestore.CollectionRef {
	return f.client.Collection(f.collectionPrefix + "memories")
}

func (f *Firestore) messages() *firestore.CollectionRef {
	return f.client.Collection(f.collectionPrefix + "messages")
}

func (f *Firestore) docRef(key model.Key) *firestore.DocumentRef {
	return f.memories().Doc(url.PathEscape(key.ScopeID + "|" + SortKey(key)))
}

func toMemoryDoc(m *model.Memory) (*memoryDoc, error) {
	item, err := json.Marshal(m)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode memory", goerr.V("memoryId", m.MemoryID))
	}
	k := m.Key()
	ik := keysOf(k)
	return &memoryDoc{
		PK:         k.ScopeID,
		SK:         SortKey(k),
		GSI1PK:     ik.gsi1pk,
		GSI1SK:     ik.gsi1sk,
		GSI2PK:     ik.gsi2pk,
		GSI2SK:     ik.gsi2sk,
		Compressed: m.Compressed,
		CreatedAt:  m.CreatedAt,
		Item:       string(item),
	}, nil
}

func fromSnapshot(doc *firestore.DocumentSnapshot) (*memoryDoc, *model.Memory, error) {
	var d memoryDoc
	if err := doc.DataTo(&d); err != nil {
		return nil, nil, goerr.Wrap(err, "failed to unmarshal memory doc", goerr.V("docID", doc.Ref.ID))
	}
	m, err := decodeItem(d.Item)
	if err != nil {
		return nil, nil, err
	}
	return &d, m, nil
}

func (f *Firestore) PutIfAbsent(ctx context.Context, m *model.Memory) error {
	if err := validateItem(m); err != nil {
		return err
	}
	doc, err := toMemoryDoc(m)
	if err != nil {
		return err
	}
	if _, err := f.docRef(m.Key()).Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return goerr.Wrap(model.ErrAlreadyExists, "memory key is taken",
				goerr.V("memoryId", m.MemoryID), goerr.V("scopeId", m.ScopeID))
		}
		return goerr.Wrap(err, "failed to create memory", goerr.V("memoryId", m.MemoryID))
	}
	return nil
}

func (f *Firestore) Get(ctx context.Context, key model.Key) (*model.Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	snap, err := f.docRef(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrNotFound, "memory not found",
				goerr.V("memoryId", key.MemoryID), goerr.V("scopeId", key.ScopeID))
		}
		return nil, goerr.Wrap(err, "failed to get memory", goerr.V("memoryId", key.MemoryID))
	}
	_, m, err := fromSnapshot(snap)
	return m, err
}

func (f *Firestore) Update(ctx context.Context, key model.Key, fn func(m *model.Memory) error) (*model.Memory, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	ref := f.docRef(key)

	var updated *model.Memory
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(model.ErrNotFound, "memory not found",
					goerr.V("memoryId", key.MemoryID), goerr.V("scopeId", key.ScopeID))
			}
			return goerr.Wrap(err, "failed to get memory", goerr.V("memoryId", key.MemoryID))
		}
		_, current, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		next, err := applyUpdate(current, fn)
		if err != nil {
			return err
		}
		doc, err := toMemoryDoc(next)
		if err != nil {
			return err
		}
		updated = next
		return tx.Set(ref, doc)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (f *Firestore) Query(ctx context.Context, p QueryParams) (*Page, error) {
	if p.PartitionKey == "" {
		return nil, goerr.Wrap(model.ErrValidation, "partition key is required")
	}
	q := f.memories().Where("PK", "==", p.PartitionKey)
	if p.SortKeyPrefix != "" {
		q = q.Where("SK", ">=", p.SortKeyPrefix).Where("SK", "<", p.SortKeyPrefix+"\uf8ff")
	}
	return f.page(ctx, q, "SK", p.PageToken, p.Limit, p.ScanForward)
}

func (f *Firestore) QueryIndex(ctx context.Context, p IndexQueryParams) (*Page, error) {
	if p.PartitionKey == "" {
		return nil, goerr.Wrap(model.ErrValidation, "partition key is required")
	}
	var pkField, skField string
	switch p.Index {
	case IndexByType:
		pkField, skField = "GSI1PK", "GSI1SK"
	case IndexByCreation:
		pkField, skField = "GSI2PK", "GSI2SK"
	default:
		return nil, goerr.Wrap(model.ErrValidation, "unknown index", goerr.V("index", p.Index))
	}

	q := f.memories().Where(pkField, "==", p.PartitionKey)
	if p.SortKeyFrom != "" {
		q = q.Where(skField, ">=", p.SortKeyFrom)
	}
	return f.page(ctx, q, skField, p.PageToken, p.Limit, p.ScanForward)
}

func (f *Firestore) page(ctx context.Context, q firestore.Query, skField, token string, limit int, forward bool) (*Page, error) {
	limit = limitOrDefault(limit)
	dir := firestore.Desc
	if forward {
		dir = firestore.Asc
	}
	q = q.OrderBy(skField, dir)
	if token != "" {
		q = q.StartAfter(token)
	}

	iter := q.Limit(limit + 1).Documents(ctx)
	defer iter.Stop()

	page := &Page{}
	var last string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate memories")
		}
		if len(page.Items) == limit {
			page.NextToken = last
			break
		}
		d, m, err := fromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, m)
		switch skField {
		case "GSI1SK":
			last = d.GSI1SK
		case "GSI2SK":
			last = d.GSI2SK
		default:
			last = d.SK
		}
	}
	return page, nil
}

func (f *Firestore) AppendMessage(ctx context.Context, msg model.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = model.Now()
	}
	doc := &messageDoc{
		UserSub:   msg.UserSub,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
	id := ulid.Make().String()
	if _, err := f.messages().Doc(id).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to store message", goerr.V("userSub", msg.UserSub))
	}
	return nil
}

func (f *Firestore) RecentMessages(ctx context.Context, userSub string, limit int) ([]model.Message, error) {
	iter := f.messages().
		Where("UserSub", "==", userSub).
		OrderBy("Timestamp", firestore.Desc).
		Limit(limitOrDefault(limit)).
		Documents(ctx)
	defer iter.Stop()

	var msgs []model.Message
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate messages", goerr.V("userSub", userSub))
		}
		var d messageDoc
		if err := snap.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal message")
		}
		msgs = append(msgs, model.Message{
			UserSub:   d.UserSub,
			Role:      model.Role(d.Role),
			Content:   d.Content,
			Timestamp: d.Timestamp,
		})
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
