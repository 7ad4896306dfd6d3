package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Belphemur/TwinQuery/internal/apperrors"
	"github.com/Belphemur/TwinQuery/internal/models"
	"github.com/Belphemur/TwinQuery/internal/query"
)

// mockClient implements client.Client for testing. Query serves pages in order, using the
// page index as continuation token.
type mockClient struct {
	pages   []models.QueryPage
	pageErr error

	getTwinFunc        func(ctx context.Context, id models.TwinID) (*models.TwinDocument, error)
	updateTwinTagsFunc func(ctx context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error)
}

func (m *mockClient) fetchPage(_ context.Context, req models.QueryRequest) (*models.QueryPage, error) {
	if m.pageErr != nil {
		return nil, m.pageErr
	}
	if len(m.pages) == 0 {
		return &models.QueryPage{}, nil
	}
	idx := 0
	if req.Continuation != "" {
		n, err := strconv.Atoi(req.Continuation)
		if err != nil {
			return nil, fmt.Errorf("bad continuation %q", req.Continuation)
		}
		idx = n
	}
	page := m.pages[idx]
	if idx+1 < len(m.pages) {
		page.Continuation = strconv.Itoa(idx + 1)
	} else {
		page.Continuation = ""
	}
	return &page, nil
}

func (m *mockClient) Query(queryText string) *query.Stream {
	return query.NewExecutor(query.PageFetcherFunc(m.fetchPage)).Execute(queryText)
}

func (m *mockClient) StreamQuery(ctx context.Context, queryText string) <-chan models.StreamResult[models.TwinDocument] {
	return m.Query(queryText).Chan(ctx)
}

func (m *mockClient) GetTwin(ctx context.Context, id models.TwinID) (*models.TwinDocument, error) {
	if m.getTwinFunc != nil {
		return m.getTwinFunc(ctx, id)
	}
	return nil, apperrors.NewNotFoundError("twin", id.String())
}

func (m *mockClient) UpdateTwinTags(ctx context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error) {
	if m.updateTwinTagsFunc != nil {
		return m.updateTwinTagsFunc(ctx, id, tags, etag)
	}
	return nil, apperrors.NewNotFoundError("twin", id.String())
}

func (m *mockClient) Close() error {
	return nil
}

// mockServerStream implements grpc.ServerStreamingServer for testing streaming RPCs
type mockServerStream[T any] struct {
	grpc.ServerStream
	ctx   context.Context
	items []*T
}

func newMockServerStream[T any]() *mockServerStream[T] {
	return &mockServerStream[T]{ctx: context.Background()}
}

func (m *mockServerStream[T]) Send(item *T) error {
	m.items = append(m.items, item)
	return nil
}

func (m *mockServerStream[T]) SetHeader(metadata.MD) error  { return nil }
func (m *mockServerStream[T]) SendHeader(metadata.MD) error { return nil }
func (m *mockServerStream[T]) SetTrailer(metadata.MD)       {}
func (m *mockServerStream[T]) Context() context.Context     { return m.ctx }
func (m *mockServerStream[T]) SendMsg(msg any) error        { return nil }
func (m *mockServerStream[T]) RecvMsg(msg any) error        { return nil }

// errorOnSendStream fails every Send
type errorOnSendStream[T any] struct {
	mockServerStream[T]
}

func (e *errorOnSendStream[T]) Send(*T) error {
	return errors.New("client went away")
}

func twinDoc(deviceID string) models.TwinDocument {
	return models.TwinDocument{DeviceID: deviceID, ETag: "AAA", Version: 1}
}

func TestQuery_StreamsAllPagesInOrder(t *testing.T) {
	t.Parallel()
	mock := &mockClient{
		pages: []models.QueryPage{
			{Documents: []models.TwinDocument{twinDoc("d1"), twinDoc("d2")}},
			{Documents: []models.TwinDocument{twinDoc("d3")}},
		},
	}

	srv := NewServer(mock).(*server)
	stream := newMockServerStream[structpb.Struct]()

	if err := srv.Query(wrapperspb.String("SELECT * FROM devices"), stream); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(stream.items) != 3 {
		t.Fatalf("Expected 3 twins streamed, got %d", len(stream.items))
	}
	for i, want := range []string{"d1", "d2", "d3"} {
		if got := stream.items[i].GetFields()["deviceId"].GetStringValue(); got != want {
			t.Errorf("Item %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestQuery_EmptyResult(t *testing.T) {
	t.Parallel()
	srv := NewServer(&mockClient{}).(*server)
	stream := newMockServerStream[structpb.Struct]()

	if err := srv.Query(wrapperspb.String("SELECT * FROM devices WHERE tags.site = 'nowhere'"), stream); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(stream.items) != 0 {
		t.Errorf("Expected no twins, got %d", len(stream.items))
	}
}

func TestQuery_BlankTextIsInvalid(t *testing.T) {
	t.Parallel()
	srv := NewServer(&mockClient{}).(*server)

	err := srv.Query(wrapperspb.String("   "), newMockServerStream[structpb.Struct]())
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestQuery_ErrorMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "syntax", err: &apperrors.ErrQuerySyntax{Query: "SELECT", Message: "bad"}, want: codes.InvalidArgument},
		{name: "authorization", err: &apperrors.ErrAuthorization{StatusCode: 401}, want: codes.PermissionDenied},
		{name: "transport", err: &apperrors.ErrTransport{Op: "query", StatusCode: 503}, want: codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&mockClient{pageErr: tt.err}).(*server)
			err := srv.Query(wrapperspb.String("SELECT * FROM devices"), newMockServerStream[structpb.Struct]())
			if status.Code(err) != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestQuery_SendError(t *testing.T) {
	t.Parallel()
	mock := &mockClient{pages: []models.QueryPage{{Documents: []models.TwinDocument{twinDoc("d1")}}}}
	srv := NewServer(mock).(*server)
	stream := &errorOnSendStream[structpb.Struct]{mockServerStream: *newMockServerStream[structpb.Struct]()}

	if err := srv.Query(wrapperspb.String("SELECT * FROM devices"), stream); err == nil {
		t.Fatal("Expected the send error to be returned")
	}
}

func TestQuery_ProjectionUsesRawDocument(t *testing.T) {
	t.Parallel()
	doc := models.TwinDocument{Raw: json.RawMessage(`{"total": 7}`)}
	mock := &mockClient{pages: []models.QueryPage{{Documents: []models.TwinDocument{doc}}}}
	srv := NewServer(mock).(*server)
	stream := newMockServerStream[structpb.Struct]()

	if err := srv.Query(wrapperspb.String("SELECT COUNT() AS total FROM devices"), stream); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(stream.items) != 1 || stream.items[0].GetFields()["total"].GetNumberValue() != 7 {
		t.Errorf("Expected {total: 7}, got %v", stream.items)
	}
	if _, ok := stream.items[0].GetFields()["deviceId"]; ok {
		t.Error("Expected projected fields only")
	}
}

func TestGetTwin_RequiresDeviceID(t *testing.T) {
	t.Parallel()
	srv := NewServer(&mockClient{}).(*server)
	req, _ := structpb.NewStruct(map[string]any{"moduleId": "m1"})

	_, err := srv.GetTwin(context.Background(), req)
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("Expected InvalidArgument, got %v", err)
	}
}

func TestGetTwin_NotFound(t *testing.T) {
	t.Parallel()
	srv := NewServer(&mockClient{}).(*server)
	req, _ := structpb.NewStruct(map[string]any{"deviceId": "missing"})

	_, err := srv.GetTwin(context.Background(), req)
	st, _ := status.FromError(err)
	if st.Code() != codes.NotFound {
		t.Fatalf("Expected NotFound, got %v", err)
	}

	var info *errdetails.ErrorInfo
	for _, d := range st.Details() {
		if ei, ok := d.(*errdetails.ErrorInfo); ok {
			info = ei
		}
	}
	if info == nil {
		t.Fatal("Expected an ErrorInfo detail")
	}
	if info.Reason != "TWIN_NOT_FOUND" || info.Domain != errorDomain || info.Metadata["method"] != "GetTwin" {
		t.Errorf("Unexpected error info %+v", info)
	}
}

func TestUpdateTwinTags_Validation(t *testing.T) {
	t.Parallel()
	srv := NewServer(&mockClient{}).(*server)

	tests := map[string]map[string]any{
		"missing device": {"tags": map[string]any{"a": "b"}},
		"missing tags":   {"deviceId": "d1"},
		"scalar tags":    {"deviceId": "d1", "tags": "site=north"},
	}
	for name, fields := range tests {
		t.Run(name, func(t *testing.T) {
			req, _ := structpb.NewStruct(fields)
			_, err := srv.UpdateTwinTags(context.Background(), req)
			if status.Code(err) != codes.InvalidArgument {
				t.Errorf("Expected InvalidArgument, got %v", err)
			}
		})
	}
}

func TestUpdateTwinTags_PassesTagsAndETag(t *testing.T) {
	t.Parallel()
	var gotTags map[string]any
	var gotETag string
	mock := &mockClient{
		updateTwinTagsFunc: func(_ context.Context, id models.TwinID, tags map[string]any, etag string) (*models.TwinDocument, error) {
			gotTags, gotETag = tags, etag
			doc := twinDoc(id.DeviceID)
			doc.Tags = tags
			return &doc, nil
		},
	}
	srv := NewServer(mock).(*server)
	req, _ := structpb.NewStruct(map[string]any{
		"deviceId": "d1",
		"etag":     "AAA",
		"tags":     map[string]any{"site": "north", "old": nil},
	})

	out, err := srv.UpdateTwinTags(context.Background(), req)
	if err != nil {
		t.Fatalf("UpdateTwinTags returned error: %v", err)
	}
	if gotETag != "AAA" {
		t.Errorf("Expected etag AAA, got %q", gotETag)
	}
	if v, ok := gotTags["old"]; !ok || v != nil {
		t.Errorf("Expected a null tag to be passed through as nil, got %v", gotTags)
	}
	if out.GetFields()["deviceId"].GetStringValue() != "d1" {
		t.Errorf("Unexpected response %v", out.AsMap())
	}
}

func TestTwinToStruct_WrapsScalars(t *testing.T) {
	t.Parallel()
	out, err := twinToStruct(models.TwinDocument{Raw: json.RawMessage(`42`)})
	if err != nil {
		t.Fatalf("twinToStruct failed: %v", err)
	}
	if out.GetFields()["value"].GetNumberValue() != 42 {
		t.Errorf("Expected {value: 42}, got %v", out.AsMap())
	}
}

func TestTwinToStruct_WithoutRaw(t *testing.T) {
	t.Parallel()
	doc := twinDoc("d1")
	doc.Tags = map[string]any{"site": "north"}

	out, err := twinToStruct(doc)
	if err != nil {
		t.Fatalf("twinToStruct failed: %v", err)
	}
	if out.GetFields()["etag"].GetStringValue() != "AAA" {
		t.Errorf("Expected etag from typed fields, got %v", out.AsMap())
	}
	if out.GetFields()["tags"].GetStructValue().GetFields()["site"].GetStringValue() != "north" {
		t.Errorf("Expected tags from typed fields, got %v", out.AsMap())
	}
}

func TestToStatus_UnknownErrorIsInternal(t *testing.T) {
	t.Parallel()
	err := toStatus(errors.New("boom"), "Query")
	if status.Code(err) != codes.Internal {
		t.Errorf("Expected Internal, got %v", err)
	}
	if status.Code(toStatus(context.Canceled, "Query")) != codes.Canceled {
		t.Error("Expected context.Canceled to map to Canceled")
	}
}
