package grpc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Belphemur/TwinQuery/internal/models"
)

// twinToStruct renders a twin in its wire JSON shape. Results that are not JSON objects,
// such as scalar projections, are wrapped as {"value": ...}.
func twinToStruct(doc models.TwinDocument) (*structpb.Struct, error) {
	raw := bytes.TrimSpace(doc.Raw)
	if len(raw) == 0 {
		encoded, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode twin %s: %w", doc.ID(), err)
		}
		raw = encoded
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode twin %s: %w", doc.ID(), err)
	}
	fields, ok := value.(map[string]any)
	if !ok {
		fields = map[string]any{"value": value}
	}
	return structpb.NewStruct(fields)
}

// twinIDFromStruct reads deviceId and the optional moduleId.
func twinIDFromStruct(req *structpb.Struct) (models.TwinID, error) {
	fields := req.GetFields()
	id := models.TwinID{
		DeviceID: fields["deviceId"].GetStringValue(),
		ModuleID: fields["moduleId"].GetStringValue(),
	}
	if id.DeviceID == "" {
		return id, fmt.Errorf("deviceId is required")
	}
	return id, nil
}

// tagPatchFromStruct reads the tags object and the optional etag of an update request.
func tagPatchFromStruct(req *structpb.Struct) (map[string]any, string, error) {
	fields := req.GetFields()
	tagsValue, ok := fields["tags"]
	if !ok || tagsValue.GetStructValue() == nil {
		return nil, "", fmt.Errorf("tags must be an object")
	}
	return tagsValue.GetStructValue().AsMap(), fields["etag"].GetStringValue(), nil
}
