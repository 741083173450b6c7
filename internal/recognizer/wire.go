package recognizer

import (
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// StreamingRecognizeMethod is the full gRPC method name of the engine stream.
const StreamingRecognizeMethod = "/pyronotes.speech.v1.Recognizer/StreamingRecognize"

// streamingRecognizeDesc describes the bidi stream: Any requests in, Struct batches out.
var streamingRecognizeDesc = &grpc.StreamDesc{
	StreamName:    "StreamingRecognize",
	ServerStreams: true,
	ClientStreams: true,
}

// Result is one recognition alternative in a batch.
type Result struct {
	Transcript string
	IsFinal    bool
}

// Batch is one engine response: the results list plus the index of the first changed entry.
type Batch struct {
	ResultIndex int
	Results     []Result
}

// FinalText concatenates finalized transcripts from ResultIndex onward,
// skipping interim entries.
func (b Batch) FinalText() string {
	start := b.ResultIndex
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for i := start; i < len(b.Results); i++ {
		if b.Results[i].IsFinal {
			sb.WriteString(b.Results[i].Transcript)
		}
	}
	return sb.String()
}

// configRequest builds the first message on every stream.
func configRequest(languageCode string, sampleRate int) (*anypb.Any, error) {
	cfg, err := structpb.NewStruct(map[string]any{
		"language_code":     languageCode,
		"sample_rate_hertz": float64(sampleRate),
		"continuous":        true,
		"interim_results":   true,
	})
	if err != nil {
		return nil, fmt.Errorf("build recognition config: %w", err)
	}
	return anypb.New(cfg)
}

func audioRequest(chunk []byte) (*anypb.Any, error) {
	return anypb.New(wrapperspb.Bytes(chunk))
}

// decodeBatch reads the result batch shape out of a Struct response.
func decodeBatch(msg *structpb.Struct) Batch {
	fields := msg.GetFields()
	batch := Batch{ResultIndex: int(fields["result_index"].GetNumberValue())}
	for _, item := range fields["results"].GetListValue().GetValues() {
		entry := item.GetStructValue().GetFields()
		if entry == nil {
			continue
		}
		batch.Results = append(batch.Results, Result{
			Transcript: entry["transcript"].GetStringValue(),
			IsFinal:    entry["is_final"].GetBoolValue(),
		})
	}
	return batch
}

// EncodeBatch is the inverse of decodeBatch; engines and fakes use it to answer.
func EncodeBatch(batch Batch) (*structpb.Struct, error) {
	results := make([]any, 0, len(batch.Results))
	for _, r := range batch.Results {
		results = append(results, map[string]any{
			"transcript": r.Transcript,
			"is_final":   r.IsFinal,
		})
	}
	return structpb.NewStruct(map[string]any{
		"result_index": float64(batch.ResultIndex),
		"results":      results,
	})
}
