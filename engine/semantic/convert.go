package semantic

import (
	"fmt"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/lorekeep/lorekeep/engine/domain"
)

// PointID maps a record id to the deterministic UUID Qdrant stores it under.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("lorekeep:"+recordID)).String()
}

func distance(m domain.Metric) pb.Distance {
	switch m {
	case domain.MetricDot:
		return pb.Distance_Dot
	case domain.MetricEuclidean:
		return pb.Distance_Euclid
	default:
		return pb.Distance_Cosine
	}
}

// normalize turns a raw score into higher-is-more-similar. Euclidean
// distances are negated.
func normalize(m domain.Metric, score float32) float32 {
	if m == domain.MetricEuclidean {
		return -score
	}
	return score
}

func toPayload(in map[string]any) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(in))
	for k, val := range in {
		switch tv := val.(type) {
		case string:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: tv}}
		case int:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(tv)}}
		case int64:
			payload[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: tv}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: tv}}
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: tv}}
		default:
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(tv)}}
		}
	}
	return payload
}

func fromPayload(p map[string]*pb.Value, score float32) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		ID:           p[domain.FieldRecordID].GetStringValue(),
		DocumentID:   p[domain.FieldDocID].GetStringValue(),
		DocumentName: p[domain.FieldDocName].GetStringValue(),
		Unit:         int(p[domain.FieldUnit].GetIntegerValue()),
		Chunk:        int(p[domain.FieldChunk].GetIntegerValue()),
		Text:         p[domain.FieldContent].GetStringValue(),
		Score:        score,
	}
}

func toFilter(f domain.Filter) *pb.Filter {
	if f.IsEmpty() {
		return nil
	}
	must := make([]*pb.Condition, 0, len(f.Must))
	for _, c := range f.Must {
		must = append(must, fieldMatch(c))
	}
	return &pb.Filter{Must: must}
}

func fieldMatch(c domain.Condition) *pb.Condition {
	var m *pb.Match
	switch v := c.Value.(type) {
	case int:
		m = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(v)}}
	case []string:
		m = &pb.Match{MatchValue: &pb.Match_Keywords{Keywords: &pb.RepeatedStrings{Strings: v}}}
	default:
		m = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(v)}}
	}
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: c.Key, Match: m},
		},
	}
}
