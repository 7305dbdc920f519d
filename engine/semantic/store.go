package semantic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/WessleyAI/wellness-mvp/engine/domain"
)

type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all Qdrant operations. Each IndexSpec maps
// to one collection with cosine distance.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients builds a VectorStore over pre-built clients (tests).
func NewWithClients(points pointsAPI, collections collectionsAPI) *VectorStore {
	return &VectorStore{points: points, collections: collections}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureIndex implements Index.
func (v *VectorStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	info, err := v.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: spec.Name})
	if err == nil {
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && int(size) != spec.Dimensions {
			return fmt.Errorf("semantic: index %s has %d dimensions, want %d", spec.Name, size, spec.Dimensions)
		}
		return v.createFieldIndexes(ctx, spec)
	}
	if status.Code(err) != codes.NotFound {
		return classify("describe index "+spec.Name, err)
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(spec.Dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil && !isAlreadyExists(err) {
		return classify("create index "+spec.Name, err)
	}
	return v.createFieldIndexes(ctx, spec)
}

func (v *VectorStore) createFieldIndexes(ctx context.Context, spec IndexSpec) error {
	wait := true
	for name, ft := range spec.Fields {
		var schema pb.FieldType
		switch ft {
		case FieldTag:
			schema = pb.FieldType_FieldTypeKeyword
		case FieldNumeric:
			schema = pb.FieldType_FieldTypeFloat
		case FieldText:
			schema = pb.FieldType_FieldTypeText
		default:
			continue
		}
		_, err := v.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: spec.Name,
			Wait:           &wait,
			FieldName:      name,
			FieldType:      schema.Enum(),
		})
		if err != nil && !isAlreadyExists(err) {
			return classify("index field "+spec.Name+"."+name, err)
		}
	}
	return nil
}

// DeleteIndex drops the collection backing an index.
func (v *VectorStore) DeleteIndex(ctx context.Context, name string) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return classify("delete index "+name, err)
	}
	return nil
}

// PointID maps a document key onto a stable Qdrant point UUID.
func PointID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Upsert implements Index.
func (v *VectorStore) Upsert(ctx context.Context, index, key string, doc Document) error {
	payload := make(map[string]*pb.Value, len(doc.Fields)+1)
	for k, val := range doc.Fields {
		payload[k] = toValue(val)
	}
	payload[keyField] = toValue(key)

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: index,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(key)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: doc.Vector},
				},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return classify("upsert "+key, err)
	}
	return nil
}

// Search implements Index. Qdrant reports cosine similarity; it is converted
// to distance so both backends order hits the same way.
func (v *VectorStore) Search(ctx context.Context, q Query) ([]Hit, error) {
	expr, err := ParseFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	req := &pb.SearchPoints{
		CollectionName: q.Index,
		Vector:         q.Vector,
		Limit:          uint64(q.K),
		Filter:         toFilter(expr),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(q.ReturnFields) > 0 {
		req.WithPayload = &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Include{
			Include: &pb.PayloadIncludeSelector{Fields: append([]string{keyField}, q.ReturnFields...)},
		}}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, classify("search "+q.Index, err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		fields := make(map[string]any, len(r.GetPayload()))
		for k, val := range r.GetPayload() {
			fields[k] = fromValue(val)
		}
		key, _ := fields[keyField].(string)
		delete(fields, keyField)
		hits = append(hits, Hit{
			Key:      key,
			Distance: Distance(1 - float64(r.GetScore())),
			Fields:   fields,
		})
	}
	return hits, nil
}

func toFilter(e Expr) *pb.Filter {
	switch t := e.(type) {
	case MatchAll:
		return nil
	case And:
		f := &pb.Filter{}
		for _, c := range t {
			if cond := toCondition(c); cond != nil {
				f.Must = append(f.Must, cond)
			}
		}
		return f
	case Or:
		f := &pb.Filter{}
		for _, c := range t {
			if cond := toCondition(c); cond != nil {
				f.Should = append(f.Should, cond)
			}
		}
		return f
	}
	return &pb.Filter{Must: []*pb.Condition{toCondition(e)}}
}

func toCondition(e Expr) *pb.Condition {
	switch t := e.(type) {
	case TagMatch:
		return &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{
					Key: t.Field,
					Match: &pb.Match{
						MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: t.Values}},
					},
				},
			},
		}
	case NumericRange:
		r := &pb.Range{}
		if !math.IsInf(t.Min, -1) {
			lo := t.Min
			r.Gte = &lo
		}
		if !math.IsInf(t.Max, 1) {
			hi := t.Max
			r.Lte = &hi
		}
		return &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: t.Field, Range: r},
			},
		}
	case And, Or:
		return &pb.Condition{ConditionOneOf: &pb.Condition_Filter{Filter: toFilter(e)}}
	}
	return nil
}

func toValue(val any) *pb.Value {
	switch tv := val.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(tv)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
	case []string:
		vals := make([]*pb.Value, len(tv))
		for i, s := range tv {
			vals[i] = toValue(s)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case []any:
		vals := make([]*pb.Value, len(tv))
		for i, x := range tv {
			vals[i] = toValue(x)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: vals}}}
	case map[string]any:
		fields := make(map[string]*pb.Value, len(tv))
		for k, x := range tv {
			fields[k] = toValue(x)
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
	}
}

func fromValue(v *pb.Value) any {
	switch k := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_IntegerValue:
		return k.IntegerValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, x := range k.ListValue.GetValues() {
			out[i] = fromValue(x)
		}
		return out
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for name, x := range k.StructValue.GetFields() {
			out[name] = fromValue(x)
		}
		return out
	}
	return nil
}

func isAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(status.Convert(err).Message()), "already exists")
}

// classify maps gRPC failures onto the domain's store errors.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("semantic: %s: %w", op, err)
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("semantic: %s: %w: %v", op, domain.ErrIndexNotFound, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Canceled:
		return fmt.Errorf("semantic: %s: %w: %v", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("semantic: %s: %w", op, err)
}
