package grpc

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Belphemur/TwinQuery/internal/client"
	"github.com/Belphemur/TwinQuery/internal/config"
)

// server implements the TwinQueryServer interface
type server struct {
	client client.Client
	logger zerolog.Logger
}

// NewServer creates a new gRPC server instance
func NewServer(c client.Client) TwinQueryServer {
	return &server{
		client: c,
		logger: config.GetLogger(),
	}
}

// Query streams every result of the query text in req, in hub order.
func (s *server) Query(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	text := req.GetValue()
	if strings.TrimSpace(text) == "" {
		return status.Error(codes.InvalidArgument, "query text is required")
	}
	s.logger.Debug().Str("query", text).Msg("Query called")

	ctx := stream.Context()
	results := s.client.Query(text)
	for results.Next(ctx) {
		doc, err := twinToStruct(results.Value())
		if err != nil {
			s.logger.Error().Err(err).Str("query", text).Msg("Failed to convert twin")
			return toStatus(err, "Query")
		}
		if err := stream.Send(doc); err != nil {
			s.logger.Error().Err(err).Str("query", text).Msg("Failed to send twin")
			return err
		}
	}
	if err := results.Err(); err != nil {
		s.logger.Error().Err(err).Str("query", text).Int("sent", results.Count()).Msg("Query failed")
		return toStatus(err, "Query")
	}

	s.logger.Debug().Int("count", results.Count()).Int("pages", results.Pages()).Msg("Query completed")
	return nil
}

// GetTwin returns the twin addressed by the deviceId and optional moduleId fields.
func (s *server) GetTwin(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := twinIDFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug().Str("twin", id.String()).Msg("GetTwin called")

	twin, err := s.client.GetTwin(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("twin", id.String()).Msg("Failed to get twin")
		return nil, toStatus(err, "GetTwin")
	}
	out, err := twinToStruct(*twin)
	if err != nil {
		return nil, toStatus(err, "GetTwin")
	}
	return out, nil
}

// UpdateTwinTags merges the tags object into the twin. A non-empty etag field makes the
// update conditional.
func (s *server) UpdateTwinTags(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := twinIDFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	tags, etag, err := tagPatchFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Debug().Str("twin", id.String()).Int("tags", len(tags)).Bool("conditional", etag != "").Msg("UpdateTwinTags called")

	twin, err := s.client.UpdateTwinTags(ctx, id, tags, etag)
	if err != nil {
		s.logger.Error().Err(err).Str("twin", id.String()).Msg("Failed to update twin tags")
		return nil, toStatus(err, "UpdateTwinTags")
	}
	out, err := twinToStruct(*twin)
	if err != nil {
		return nil, toStatus(err, "UpdateTwinTags")
	}
	return out, nil
}
