package sink

import (
	"compress/gzip"
	"fmt"
	"io"

	collectortrace "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// DecodeRequest reads an OTLP trace export body, gunzipping it if encoding
// says so. JSON bodies use the protobuf JSON mapping; anything else is
// taken as binary protobuf.
func DecodeRequest(body io.Reader, contentType, encoding string) (*collectortrace.ExportTraceServiceRequest, error) {
	if encoding == "gzip" {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress gzip data: %w", err)
		}
		defer gz.Close()
		body = gz
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("error reading request body: %w", err)
	}

	var req collectortrace.ExportTraceServiceRequest
	switch contentType {
	case "application/json":
		err = protojson.Unmarshal(data, &req)
	default:
		err = proto.Unmarshal(data, &req)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s body: %w", contentType, err)
	}
	return &req, nil
}
