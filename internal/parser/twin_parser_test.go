package parser

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/text/encoding/charmap"
)

const twinArray = `[
  {
    "deviceId": "sensor-1",
    "etag": "AAAAAAAAAAE=",
    "version": 4,
    "status": "enabled",
    "tags": {"Env": "prod", "floor": 3},
    "properties": {
      "desired": {"telemetryInterval": 30, "$version": 2},
      "reported": {"firmware": "1.2.0", "$version": 7}
    }
  },
  {
    "deviceId": "sensor-1",
    "moduleId": "filter",
    "etag": "AAAAAAAAAAI=",
    "tags": {"Env": "prod"}
  }
]`

func TestTwinParser_Parse(t *testing.T) {
	p := NewTwinParser()

	docs, err := p.Parse(strings.NewReader(twinArray), "application/json; charset=utf-8")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 twins, got %d", len(docs))
	}

	device := docs[0]
	if device.DeviceID != "sensor-1" || device.ModuleID != "" {
		t.Errorf("Unexpected device identity %q/%q", device.DeviceID, device.ModuleID)
	}
	if device.ETag != "AAAAAAAAAAE=" {
		t.Errorf("Expected etag to be decoded, got %q", device.ETag)
	}
	if device.Version != 4 {
		t.Errorf("Expected version 4, got %d", device.Version)
	}
	if v, ok := device.Tag("Env"); !ok || v != "prod" {
		t.Errorf("Expected tag Env=prod, got %v", v)
	}
	if v, _ := device.Tag("floor"); v != float64(3) {
		t.Errorf("Expected numeric tag floor=3, got %v (%T)", v, v)
	}
	if device.Properties == nil || device.Properties.Reported["firmware"] != "1.2.0" {
		t.Errorf("Expected reported properties to be decoded, got %+v", device.Properties)
	}
	if !bytes.HasPrefix(device.Raw, []byte("{")) {
		t.Errorf("Expected raw JSON to be kept, got %q", device.Raw)
	}

	module := docs[1]
	if module.ID().String() != "sensor-1/filter" {
		t.Errorf("Expected module twin ID sensor-1/filter, got %q", module.ID().String())
	}
	if !module.ID().IsModule() {
		t.Error("Expected module twin to report IsModule")
	}
}

func TestTwinParser_Parse_EmptyArray(t *testing.T) {
	docs, err := NewTwinParser().Parse(strings.NewReader("[]"), "application/json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("Expected no twins, got %d", len(docs))
	}
}

func TestTwinParser_Parse_EmptyBody(t *testing.T) {
	docs, err := NewTwinParser().Parse(strings.NewReader(""), "")
	if err != nil {
		t.Fatalf("Expected empty body to decode as no results, got %v", err)
	}
	if docs != nil {
		t.Errorf("Expected nil slice, got %v", docs)
	}
}

func TestTwinParser_Parse_ScalarProjection(t *testing.T) {
	docs, err := NewTwinParser().Parse(strings.NewReader(`[42, "x", {"numberOfDevices": 3}]`), "application/json")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(docs))
	}
	if string(docs[0].Raw) != "42" || docs[0].DeviceID != "" {
		t.Errorf("Expected scalar to be kept raw, got %+v", docs[0])
	}
	if string(docs[1].Raw) != `"x"` {
		t.Errorf("Expected string scalar raw, got %q", docs[1].Raw)
	}
	if string(docs[2].Raw) != `{"numberOfDevices": 3}` {
		t.Errorf("Expected projection object raw, got %q", docs[2].Raw)
	}
}

func TestTwinParser_Parse_Invalid(t *testing.T) {
	if _, err := NewTwinParser().Parse(strings.NewReader(`{"not":"an array"}`), "application/json"); err == nil {
		t.Fatal("Expected error for non-array body")
	}
	if _, err := NewTwinParser().Parse(strings.NewReader(`[{"deviceId": 12}]`), "application/json"); err == nil {
		t.Fatal("Expected error for mistyped twin field")
	}
}

func TestTwinParser_Parse_Latin1(t *testing.T) {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(`[{"deviceId":"capteur-1","tags":{"site":"Montréal"}}]`)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	docs, err := NewTwinParser().Parse(strings.NewReader(encoded), "application/json; charset=iso-8859-1")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if v, _ := docs[0].Tag("site"); v != "Montréal" {
		t.Errorf("Expected Latin-1 tag to be converted to UTF-8, got %q", v)
	}
}

func TestTwinParser_ParseOne(t *testing.T) {
	doc, err := NewTwinParser().ParseOne(strings.NewReader(`{"deviceId":"d1","etag":"E1","tags":{"a":"b"}}`), "application/json")
	if err != nil {
		t.Fatalf("ParseOne failed: %v", err)
	}
	if doc.DeviceID != "d1" || doc.ETag != "E1" {
		t.Errorf("Unexpected twin %+v", doc)
	}

	if _, err := NewTwinParser().ParseOne(strings.NewReader(`not json`), "application/json"); err == nil {
		t.Fatal("Expected error for invalid JSON")
	}
}
