package testutil

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/Belphemur/TwinQuery/internal/config"
	"github.com/Belphemur/TwinQuery/internal/models"
)

const defaultFakePageSize = 100

var (
	selectPattern = regexp.MustCompile(`(?is)^\s*SELECT\s+(.+?)\s+FROM\s+(devices\.modules|devices)(?:\s+WHERE\s+(.+?))?\s*$`)
	countPattern  = regexp.MustCompile(`(?i)^COUNT\(\)\s+AS\s+(\w+)$`)
	fieldPattern  = regexp.MustCompile(`^[A-Za-z]\w*$`)
	condPattern   = regexp.MustCompile(`^((?:tags\.)?[A-Za-z][\w.]*)\s*=\s*(?:'([^']*)'|(-?\d+(?:\.\d+)?|true|false))$`)
	andPattern    = regexp.MustCompile(`(?i)\s+AND\s+`)
)

// RecordedQuery is one request received on the fake query endpoint.
type RecordedQuery struct {
	Query        string
	Continuation string
	MaxItemCount string
	Header       http.Header
}

// FakeHub is an in-memory IoT hub serving the devices/query and twins endpoints over httptest.
// It keeps a registry of device and module twins in insertion order.
type FakeHub struct {
	server   *httptest.Server
	sasToken string

	mu       sync.Mutex
	twins    map[string]*models.TwinDocument
	order    []string
	queries  []RecordedQuery
	twinHits int
	failures []int
}

// FakeHubOption configures a FakeHub.
type FakeHubOption func(*FakeHub)

// WithSASToken makes the fake hub reject requests whose Authorization header differs from token.
func WithSASToken(token string) FakeHubOption {
	return func(h *FakeHub) {
		h.sasToken = token
	}
}

// NewFakeHub starts a fake hub that is shut down when the test ends.
func NewFakeHub(t testing.TB, opts ...FakeHubOption) *FakeHub {
	t.Helper()
	h := &FakeHub{twins: make(map[string]*models.TwinDocument)}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /devices/query", h.handleQuery)
	mux.HandleFunc("GET /twins/{deviceId}", h.handleGetTwin)
	mux.HandleFunc("GET /twins/{deviceId}/modules/{moduleId}", h.handleGetTwin)
	mux.HandleFunc("PATCH /twins/{deviceId}", h.handlePatchTwin)
	mux.HandleFunc("PATCH /twins/{deviceId}/modules/{moduleId}", h.handlePatchTwin)

	h.server = httptest.NewServer(h.authorize(mux))
	t.Cleanup(h.server.Close)
	return h
}

// URL returns the base URL of the fake hub.
func (h *FakeHub) URL() string {
	return h.server.URL
}

// Config returns a client configuration pointing at the fake hub, with fast retries.
func (h *FakeHub) Config() *config.Config {
	cfg := &config.Config{}
	cfg.Hub.Endpoint = h.server.URL
	cfg.Hub.SASToken = h.sasToken
	cfg.ClientTimeout = "5s"
	cfg.Query.PageSize = defaultFakePageSize
	cfg.Retry.MaxRetries = 2
	cfg.Retry.InitialDelay = "1ms"
	cfg.Retry.MaxDelay = "5ms"
	return cfg
}

// AddDevice registers a device twin with the given tags.
func (h *FakeHub) AddDevice(deviceID string, tags map[string]any) models.TwinDocument {
	return h.add(models.TwinID{DeviceID: deviceID}, tags)
}

// AddModule registers a module twin under deviceID.
func (h *FakeHub) AddModule(deviceID, moduleID string, tags map[string]any) models.TwinDocument {
	return h.add(models.TwinID{DeviceID: deviceID, ModuleID: moduleID}, tags)
}

// RemoveDevice deletes a device twin and all of its module twins.
func (h *FakeHub) RemoveDevice(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	kept := h.order[:0]
	for _, key := range h.order {
		twin := h.twins[key]
		if twin.DeviceID == deviceID {
			delete(h.twins, key)
			continue
		}
		kept = append(kept, key)
	}
	h.order = kept
}

// Twin returns a copy of the stored twin.
func (h *FakeHub) Twin(id models.TwinID) (models.TwinDocument, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	twin, ok := h.twins[id.String()]
	if !ok {
		return models.TwinDocument{}, false
	}
	return cloneTwin(twin), true
}

// FailNextQueries makes the next n query requests answer with status.
func (h *FakeHub) FailNextQueries(status, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := 0; i < n; i++ {
		h.failures = append(h.failures, status)
	}
}

// Queries returns the query requests received so far.
func (h *FakeHub) Queries() []RecordedQuery {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]RecordedQuery(nil), h.queries...)
}

// QueryCalls returns the number of query requests received so far.
func (h *FakeHub) QueryCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queries)
}

// TwinCalls returns the number of twin GET and PATCH requests received so far.
func (h *FakeHub) TwinCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.twinHits
}

// ScopedDevice registers a device with a random id and removes it when the test ends.
func ScopedDevice(t testing.TB, hub *FakeHub, tags map[string]any) string {
	t.Helper()
	deviceID := "device-" + uuid.NewString()
	hub.AddDevice(deviceID, tags)
	t.Cleanup(func() { hub.RemoveDevice(deviceID) })
	return deviceID
}

// ScopedModule registers a module with a random id under deviceID. It is removed with its device.
func ScopedModule(t testing.TB, hub *FakeHub, deviceID string, tags map[string]any) string {
	t.Helper()
	moduleID := "module-" + uuid.NewString()
	hub.AddModule(deviceID, moduleID, tags)
	return moduleID
}

func (h *FakeHub) add(id models.TwinID, tags map[string]any) models.TwinDocument {
	h.mu.Lock()
	defer h.mu.Unlock()

	twin := &models.TwinDocument{
		DeviceID:        id.DeviceID,
		ModuleID:        id.ModuleID,
		Version:         1,
		Status:          "enabled",
		ConnectionState: "Disconnected",
		Tags:            copyTags(tags),
		Properties: &models.TwinProperties{
			Desired:  map[string]any{},
			Reported: map[string]any{},
		},
	}
	twin.ETag = versionETag(twin.Version)

	key := id.String()
	if _, exists := h.twins[key]; !exists {
		h.order = append(h.order, key)
	}
	h.twins[key] = twin
	return cloneTwin(twin)
}

func (h *FakeHub) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.sasToken != "" && r.Header.Get("Authorization") != h.sasToken {
			writeHubError(w, http.StatusUnauthorized, "IotHubUnauthorizedAccess")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *FakeHub) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeHubError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	h.mu.Lock()
	h.queries = append(h.queries, RecordedQuery{
		Query:        body.Query,
		Continuation: r.Header.Get("x-ms-continuation"),
		MaxItemCount: r.Header.Get("x-ms-max-item-count"),
		Header:       r.Header.Clone(),
	})
	if len(h.failures) > 0 {
		status := h.failures[0]
		h.failures = h.failures[1:]
		h.mu.Unlock()
		writeHubError(w, status, "injected failure")
		return
	}
	results, itemType, err := h.evaluate(body.Query)
	h.mu.Unlock()

	if err != nil {
		writeHubError(w, http.StatusBadRequest, err.Error())
		return
	}

	offset := 0
	if token := r.Header.Get("x-ms-continuation"); token != "" {
		n, convErr := strconv.Atoi(strings.TrimPrefix(token, "fake-ct-"))
		if convErr != nil || n < 0 || n > len(results) {
			writeHubError(w, http.StatusBadRequest, "invalid continuation token")
			return
		}
		offset = n
	}
	pageSize := defaultFakePageSize
	if v, convErr := strconv.Atoi(r.Header.Get("x-ms-max-item-count")); convErr == nil && v > 0 {
		pageSize = v
	}

	end := min(offset+pageSize, len(results))
	if end < len(results) {
		w.Header().Set("x-ms-continuation", "fake-ct-"+strconv.Itoa(end))
	}
	w.Header().Set("x-ms-item-type", itemType)
	writeJSON(w, http.StatusOK, results[offset:end])
}

// evaluate runs a query against the registry. The caller holds h.mu.
func (h *FakeHub) evaluate(text string) ([]any, string, error) {
	m := selectPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, "", fmt.Errorf("syntax error: expected SELECT <projection> FROM devices|devices.modules")
	}
	projection, collection, where := strings.TrimSpace(m[1]), strings.ToLower(m[2]), m[3]

	var conditions [][]string
	if where != "" {
		for _, clause := range andPattern.Split(strings.TrimSpace(where), -1) {
			c := condPattern.FindStringSubmatch(strings.TrimSpace(clause))
			if c == nil {
				return nil, "", fmt.Errorf("syntax error near %q", clause)
			}
			value := c[2]
			if c[3] != "" {
				value = c[3]
			}
			conditions = append(conditions, []string{c[1], value})
		}
	}

	var matched []*models.TwinDocument
	for _, key := range h.order {
		twin := h.twins[key]
		if (twin.ModuleID != "") != (collection == "devices.modules") {
			continue
		}
		if matches(twin, conditions) {
			matched = append(matched, twin)
		}
	}

	if c := countPattern.FindStringSubmatch(projection); c != nil {
		return []any{map[string]any{c[1]: len(matched)}}, models.ItemTypeRaw, nil
	}

	results := make([]any, 0, len(matched))
	if projection == "*" {
		for _, twin := range matched {
			results = append(results, cloneTwin(twin))
		}
		return results, models.ItemTypeTwin, nil
	}

	fields := strings.Split(projection, ",")
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
		if !fieldPattern.MatchString(fields[i]) {
			return nil, "", fmt.Errorf("syntax error: unsupported projection %q", fields[i])
		}
	}
	for _, twin := range matched {
		full := twinFields(twin)
		row := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := full[f]; ok {
				row[f] = v
			}
		}
		results = append(results, row)
	}
	return results, models.ItemTypeRaw, nil
}

func (h *FakeHub) handleGetTwin(w http.ResponseWriter, r *http.Request) {
	id := models.TwinID{DeviceID: r.PathValue("deviceId"), ModuleID: r.PathValue("moduleId")}

	h.mu.Lock()
	h.twinHits++
	twin, ok := h.twins[id.String()]
	var snapshot models.TwinDocument
	if ok {
		snapshot = cloneTwin(twin)
	}
	h.mu.Unlock()

	if !ok {
		writeHubError(w, http.StatusNotFound, "DeviceNotFound")
		return
	}
	if inm := r.Header.Get("If-None-Match"); inm != "" && strings.Trim(inm, `"`) == snapshot.ETag {
		w.Header().Set("ETag", `"`+snapshot.ETag+`"`)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", `"`+snapshot.ETag+`"`)
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *FakeHub) handlePatchTwin(w http.ResponseWriter, r *http.Request) {
	id := models.TwinID{DeviceID: r.PathValue("deviceId"), ModuleID: r.PathValue("moduleId")}

	var patch struct {
		Tags map[string]any `json:"tags"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeHubError(w, http.StatusBadRequest, "malformed twin patch")
		return
	}

	h.mu.Lock()
	h.twinHits++
	twin, ok := h.twins[id.String()]
	if !ok {
		h.mu.Unlock()
		writeHubError(w, http.StatusNotFound, "DeviceNotFound")
		return
	}
	if ifMatch := strings.Trim(r.Header.Get("If-Match"), `"`); ifMatch != "" && ifMatch != "*" && ifMatch != twin.ETag {
		h.mu.Unlock()
		writeHubError(w, http.StatusPreconditionFailed, "PreconditionFailed")
		return
	}
	if twin.Tags == nil {
		twin.Tags = map[string]any{}
	}
	for k, v := range patch.Tags {
		if v == nil {
			delete(twin.Tags, k)
			continue
		}
		twin.Tags[k] = v
	}
	twin.Version++
	twin.ETag = versionETag(twin.Version)
	snapshot := cloneTwin(twin)
	h.mu.Unlock()

	w.Header().Set("ETag", `"`+snapshot.ETag+`"`)
	writeJSON(w, http.StatusOK, snapshot)
}

func matches(twin *models.TwinDocument, conditions [][]string) bool {
	fields := twinFields(twin)
	for _, cond := range conditions {
		path, want := strings.Split(cond[0], "."), cond[1]
		var current any = fields
		for _, part := range path {
			obj, ok := current.(map[string]any)
			if !ok {
				return false
			}
			if current, ok = obj[part]; !ok {
				return false
			}
		}
		if fmt.Sprint(current) != want {
			return false
		}
	}
	return true
}

// twinFields renders a twin the way it appears on the wire.
func twinFields(twin *models.TwinDocument) map[string]any {
	raw, _ := json.Marshal(twin)
	var fields map[string]any
	_ = json.Unmarshal(raw, &fields)
	return fields
}

func cloneTwin(twin *models.TwinDocument) models.TwinDocument {
	clone := *twin
	clone.Tags = copyTags(twin.Tags)
	clone.Raw = nil
	return clone
}

func copyTags(tags map[string]any) map[string]any {
	if tags == nil {
		return nil
	}
	out := make(map[string]any, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func versionETag(version int64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(version))
	return base64.StdEncoding.EncodeToString(buf[:])
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeHubError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"Message":          message,
		"ExceptionMessage": "Tracking ID:" + uuid.NewString(),
	})
}
